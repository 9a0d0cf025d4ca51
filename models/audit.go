package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry 記錄拍賣的每一次生命週期轉換，用於爭議時重建歷史
type AuditEntry struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey;<-:create"`
	AuctionID    uuid.UUID     `gorm:"type:uuid;not null;index;<-:create"`
	Actor        string        `gorm:"type:text;not null;<-:create"`
	FromStatus   AuctionStatus `gorm:"type:varchar(16);<-:create"`
	ToStatus     AuctionStatus `gorm:"type:varchar(16);not null;<-:create"`
	FromApproved bool          `gorm:"not null;<-:create"`
	ToApproved   bool          `gorm:"not null;<-:create"`
	Reason       string        `gorm:"type:text;<-:create"`
	At           time.Time     `gorm:"type:timestamp with time zone;not null;<-:create"`
}
