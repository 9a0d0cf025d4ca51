package models

import (
	"time"

	"github.com/google/uuid"
)

// Bid 代表拍賣的出價紀錄
// 出價一旦寫入就不可修改，IsWinning 只會由出價帳本在同一個交易中切換
type Bid struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	AuctionID uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	BidderID  string    `gorm:"type:text;not null;index;<-:create"`
	Amount    int64     `gorm:"not null;<-:create"`
	PlacedAt  time.Time `gorm:"type:timestamp with time zone;not null;<-:create"`
	IsWinning bool      `gorm:"not null;default:false;index"`

	// 外鍵關聯
	Bidder  *User    `gorm:"foreignKey:BidderID"`
	Auction *Auction `gorm:"foreignKey:AuctionID"`
}

// Outranks 判斷 b 是否應該取代 other 成為得標出價
// 金額較高者優先，金額相同時較早出價者優先
func (b *Bid) Outranks(other *Bid) bool {
	if other == nil {
		return true
	}
	if b.Amount != other.Amount {
		return b.Amount > other.Amount
	}
	return b.PlacedAt.Before(other.PlacedAt)
}
