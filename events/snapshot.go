package events

import (
	"time"

	"github.com/google/uuid"

	"pedigree/models"
)

// Snapshot 是推送給即時訂閱者的拍賣狀態
// Final 為 true 時代表拍賣已經結束，之後不會再有新的快照
type Snapshot struct {
	AuctionID    uuid.UUID            `msgpack:"auctionId" json:"auctionId"`
	Status       models.AuctionStatus `msgpack:"status" json:"status"`
	CurrentPrice int64                `msgpack:"currentPrice" json:"currentPrice"`
	BidCount     int                  `msgpack:"bidCount" json:"bidCount"`
	EndTime      time.Time            `msgpack:"endTime" json:"endTime"`
	Final        bool                 `msgpack:"final" json:"final"`
	At           time.Time            `msgpack:"at" json:"at"`
}

func (s AuctionState) Snapshot(at time.Time) Snapshot {
	return Snapshot{
		AuctionID:    s.ID,
		Status:       s.Status,
		CurrentPrice: s.CurrentPrice,
		BidCount:     s.BidCount,
		EndTime:      s.EndTime,
		Final:        s.Status.Terminal(),
		At:           at,
	}
}

// SnapshotOf 從拍賣目前的狀態建立快照
func SnapshotOf(a *models.Auction, at time.Time) Snapshot {
	return StateOf(a).Snapshot(at)
}
