// Package events 定義拍賣生命週期與出價帳本發出的事件
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pedigree/models"
)

type Kind string

const (
	KindBidAdmitted     Kind = "bid_admitted"
	KindAuctionApproved Kind = "auction_approved"
	KindAuctionClosed   Kind = "auction_closed"
)

// CloseReason 代表拍賣結束的原因
type CloseReason string

const (
	ReasonExpired     CloseReason = "expired"
	ReasonAdminForced CloseReason = "admin_forced"
	ReasonBuyNow      CloseReason = "buy_now"
	ReasonRejected    CloseReason = "rejected"
)

// AuctionState 是事件發生當下的拍賣狀態
type AuctionState struct {
	ID           uuid.UUID            `msgpack:"id" json:"id"`
	SellerID     string               `msgpack:"sellerId" json:"sellerId"`
	Title        string               `msgpack:"title" json:"title"`
	Status       models.AuctionStatus `msgpack:"status" json:"status"`
	IsApproved   bool                 `msgpack:"isApproved" json:"isApproved"`
	CurrentPrice int64                `msgpack:"currentPrice" json:"currentPrice"`
	BidCount     int                  `msgpack:"bidCount" json:"bidCount"`
	EndTime      time.Time            `msgpack:"endTime" json:"endTime"`
}

// BidInfo 是事件中的出價資訊
type BidInfo struct {
	ID       uuid.UUID `msgpack:"id" json:"id"`
	BidderID string    `msgpack:"bidderId" json:"bidderId"`
	Amount   int64     `msgpack:"amount" json:"amount"`
	PlacedAt time.Time `msgpack:"placedAt" json:"placedAt"`
}

// Event 是提交後才會發出的領域事件
//   - KindBidAdmitted: Bid 為新出價，PreviousWinner 為被超越的出價 (可能為 nil)
//   - KindAuctionApproved: 只有 Auction
//   - KindAuctionClosed: WinningBid 為得標出價 (流標時為 nil)，Reason 為結束原因
type Event struct {
	ID             uuid.UUID    `msgpack:"id"`
	Kind           Kind         `msgpack:"kind"`
	Auction        AuctionState `msgpack:"auction"`
	Bid            *BidInfo     `msgpack:"bid,omitempty"`
	PreviousWinner *BidInfo     `msgpack:"previousWinner,omitempty"`
	WinningBid     *BidInfo     `msgpack:"winningBid,omitempty"`
	Reason         CloseReason  `msgpack:"reason,omitempty"`
	Note           string       `msgpack:"note,omitempty"`
	ReserveMet     bool         `msgpack:"reserveMet"`
	OccurredAt     time.Time    `msgpack:"occurredAt"`
}

// Publisher 接收提交後的事件，實作不可以阻塞呼叫端太久
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc 讓一般函數實作 Publisher
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Discard 丟棄所有事件
var Discard Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// New 建立事件並填入 ID 與發生時間
func New(kind Kind, auction *models.Auction, at time.Time) Event {
	return Event{
		ID:         uuid.Must(uuid.NewV7()),
		Kind:       kind,
		Auction:    StateOf(auction),
		OccurredAt: at,
	}
}

func StateOf(a *models.Auction) AuctionState {
	return AuctionState{
		ID:           a.ID,
		SellerID:     a.SellerID,
		Title:        a.Title,
		Status:       a.Status,
		IsApproved:   a.IsApproved,
		CurrentPrice: a.CurrentPrice,
		BidCount:     a.BidCount,
		EndTime:      a.EndTime,
	}
}

// InfoOf 轉換出價，b 為 nil 時回傳 nil
func InfoOf(b *models.Bid) *BidInfo {
	if b == nil {
		return nil
	}
	return &BidInfo{
		ID:       b.ID,
		BidderID: b.BidderID,
		Amount:   b.Amount,
		PlacedAt: b.PlacedAt,
	}
}
