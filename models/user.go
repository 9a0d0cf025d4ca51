package models

import (
	"strings"
	"time"
)

// Role 代表使用者在系統中的角色
type Role string

const (
	RoleUser             Role = "USER"
	RoleAdmin            Role = "ADMIN"
	RoleUserFullVerified Role = "USER_FULL_VERIFIED"
)

// User 代表拍賣系統中的使用者
// 包含身份驗證相關的資訊，如 email 驗證、個人資料以及手機驗證狀態
// NOTE: 使用者不會被實際刪除，只會透過 Disabled 停用
type User struct {
	ID        string    `gorm:"type:text;primaryKey;<-:create"`
	Role      Role      `gorm:"type:varchar(32);not null;default:'USER'"`
	Email     string    `gorm:"type:varchar(255)"`
	CreatedAt time.Time `gorm:"type:timestamp with time zone;not null"`
	UpdatedAt time.Time `gorm:"type:timestamp with time zone;not null"`

	EmailVerifiedAt *time.Time `gorm:"type:timestamp with time zone"`

	// 個人資料
	FirstName   string `gorm:"type:varchar(255)"`
	LastName    string `gorm:"type:varchar(255)"`
	Address     string `gorm:"type:text"`
	City        string `gorm:"type:varchar(255)"`
	PostalCode  string `gorm:"type:varchar(32)"`
	PhoneNumber string `gorm:"type:varchar(32)"`

	// 手機驗證
	PhoneVerified      bool       `gorm:"not null;default:false"`
	PhoneCode          string     `gorm:"type:varchar(16)"`
	PhoneCodeExpiresAt *time.Time `gorm:"type:timestamp with time zone"`

	Disabled bool `gorm:"not null;default:false"`
}

// EmailVerified 回傳 email 是否已驗證
func (u *User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// IsAdmin 回傳使用者是否為管理員
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasPendingPhoneCode 回傳是否有尚未使用的手機驗證碼
func (u *User) HasPendingPhoneCode() bool {
	return u.PhoneCode != "" && u.PhoneCodeExpiresAt != nil
}

// ClearPhoneCode 清除待驗證的手機驗證碼
func (u *User) ClearPhoneCode() {
	u.PhoneCode = ""
	u.PhoneCodeExpiresAt = nil
}

// ProfileComplete 判斷個人資料是否完整
func (u *User) ProfileComplete() bool {
	for _, field := range []string{u.FirstName, u.LastName, u.Address, u.City, u.PostalCode, u.PhoneNumber} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	return true
}

// Clone 回傳使用者的複本
func (u *User) Clone() *User {
	clone := *u
	if u.EmailVerifiedAt != nil {
		v := *u.EmailVerifiedAt
		clone.EmailVerifiedAt = &v
	}
	if u.PhoneCodeExpiresAt != nil {
		v := *u.PhoneCodeExpiresAt
		clone.PhoneCodeExpiresAt = &v
	}
	return &clone
}
