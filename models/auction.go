package models

import (
	"time"

	"github.com/google/uuid"
)

// AuctionStatus 代表拍賣的生命週期狀態
type AuctionStatus string

const (
	AuctionStatusPending AuctionStatus = "PENDING"
	AuctionStatusActive  AuctionStatus = "ACTIVE"
	AuctionStatusEnded   AuctionStatus = "ENDED"
	AuctionStatusSold    AuctionStatus = "SOLD"
)

// Terminal 回傳是否為終止狀態 (ENDED / SOLD)
func (s AuctionStatus) Terminal() bool {
	return s == AuctionStatusEnded || s == AuctionStatusSold
}

// Auction 代表拍賣系統中的一筆拍賣
// 金額一律以最小貨幣單位 (例如: 分) 的整數儲存
type Auction struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	SellerID    string    `gorm:"type:text;not null;index;<-:create"`
	Title       string    `gorm:"type:varchar(255);not null"`
	Description string    `gorm:"type:text;not null"`
	Category    string    `gorm:"type:varchar(255)"`

	StartingPrice int64  `gorm:"not null;<-:create"`
	CurrentPrice  int64  `gorm:"not null"`
	BuyNowPrice   *int64 `gorm:"<-:create"`
	ReservePrice  *int64 `gorm:"<-:create"`
	BidCount      int    `gorm:"not null;default:0"`

	StartTime time.Time     `gorm:"type:timestamp with time zone;not null"`
	EndTime   time.Time     `gorm:"type:timestamp with time zone;not null;index"`
	Status    AuctionStatus `gorm:"type:varchar(16);not null;index"`
	// IsApproved 與 Status 分開記錄，審核通過才會進入 ACTIVE
	IsApproved bool       `gorm:"not null;default:false"`
	ClosedAt   *time.Time `gorm:"type:timestamp with time zone"`

	CreatedAt time.Time `gorm:"type:timestamp with time zone;not null"`
	UpdatedAt time.Time `gorm:"type:timestamp with time zone;not null"`

	// 外鍵關聯
	Seller     *User `gorm:"foreignKey:SellerID"`
	BidRecords []Bid `gorm:"foreignKey:AuctionID"`
}

// Biddable 判斷拍賣在 now 這個時間點是否可以出價
func (a *Auction) Biddable(now time.Time) bool {
	return a.IsApproved && a.Status == AuctionStatusActive && now.Before(a.EndTime)
}

// ReserveMet 判斷 amount 是否達到底價，沒有設定底價時永遠成立
func (a *Auction) ReserveMet(amount int64) bool {
	return a.ReservePrice == nil || amount >= *a.ReservePrice
}

// Clone 回傳拍賣的複本
func (a *Auction) Clone() *Auction {
	clone := *a
	clone.Seller = nil
	clone.BidRecords = nil
	if a.BuyNowPrice != nil {
		v := *a.BuyNowPrice
		clone.BuyNowPrice = &v
	}
	if a.ReservePrice != nil {
		v := *a.ReservePrice
		clone.ReservePrice = &v
	}
	if a.ClosedAt != nil {
		v := *a.ClosedAt
		clone.ClosedAt = &v
	}
	return &clone
}
