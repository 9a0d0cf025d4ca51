package verification

import "pedigree/models"

// Capabilities 是從驗證狀態推導出來的權限，不會被儲存
type Capabilities struct {
	CanCreateAuction bool `json:"canCreateAuction"`
	CanBid           bool `json:"canBid"`
	CanAddReference  bool `json:"canAddReference"`
	CanAddPhoto      bool `json:"canAddPhoto"`
}

// FullyVerified 判斷使用者是否完成所有驗證
// 管理員一律視為已驗證，停用的使用者一律視為未驗證
func FullyVerified(user *models.User) bool {
	if user == nil || user.Disabled {
		return false
	}
	if user.IsAdmin() {
		return true
	}
	return user.EmailVerified() && user.ProfileComplete() && user.PhoneVerified
}

// CapabilitiesOf 是唯一決定使用者權限的地方
func CapabilitiesOf(user *models.User) Capabilities {
	verified := FullyVerified(user)
	return Capabilities{
		CanCreateAuction: verified,
		CanBid:           verified,
		CanAddReference:  verified,
		CanAddPhoto:      verified,
	}
}

// syncRole 依驗證狀態更新角色，不會變更管理員
func syncRole(user *models.User) {
	if user.IsAdmin() {
		return
	}
	if FullyVerified(user) {
		user.Role = models.RoleUserFullVerified
	} else {
		user.Role = models.RoleUser
	}
}
