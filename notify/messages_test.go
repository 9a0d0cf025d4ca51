package notify

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedigree/events"
	"pedigree/models"
)

func testAuction() events.AuctionState {
	return events.AuctionState{
		ID:           uuid.Must(uuid.NewV7()),
		SellerID:     "seller",
		Title:        "British Shorthair",
		Status:       models.AuctionStatusActive,
		IsApproved:   true,
		CurrentPrice: 150,
		BidCount:     2,
		EndTime:      time.Date(2024, 6, 8, 10, 0, 0, 0, time.UTC),
	}
}

func kindsAndUsers(messages []Message) []string {
	return lo.Map(messages, func(m Message, _ int) string { return string(m.Kind) + ":" + m.UserID })
}

func TestMessages(t *testing.T) {
	bob := &events.BidInfo{ID: uuid.Must(uuid.NewV7()), BidderID: "bob", Amount: 150}
	alice := &events.BidInfo{ID: uuid.Must(uuid.NewV7()), BidderID: "alice", Amount: 120}

	tests := []struct {
		name  string
		event events.Event
		want  []string
	}{
		{
			name:  "第一筆出價",
			event: events.Event{Kind: events.KindBidAdmitted, Auction: testAuction(), Bid: bob},
			want:  []string{"bid_confirmed:bob"},
		},
		{
			name:  "超越前一位得標者",
			event: events.Event{Kind: events.KindBidAdmitted, Auction: testAuction(), Bid: bob, PreviousWinner: alice},
			want:  []string{"bid_confirmed:bob", "outbid:alice"},
		},
		{
			name: "自己加價不通知被超越",
			event: events.Event{Kind: events.KindBidAdmitted, Auction: testAuction(), Bid: bob,
				PreviousWinner: &events.BidInfo{BidderID: "bob", Amount: 120}},
			want: []string{"bid_confirmed:bob"},
		},
		{
			name:  "審核通過",
			event: events.Event{Kind: events.KindAuctionApproved, Auction: testAuction()},
			want:  []string{"auction_approved:seller"},
		},
		{
			name:  "成交",
			event: events.Event{Kind: events.KindAuctionClosed, Auction: testAuction(), WinningBid: bob, Reason: events.ReasonExpired},
			want:  []string{"auction_won:bob", "auction_sold:seller"},
		},
		{
			name:  "流標",
			event: events.Event{Kind: events.KindAuctionClosed, Auction: testAuction(), Reason: events.ReasonExpired},
			want:  []string{"auction_ended_unsold:seller"},
		},
		{
			name:  "審核退回",
			event: events.Event{Kind: events.KindAuctionClosed, Auction: testAuction(), Reason: events.ReasonRejected, Note: "missing pedigree"},
			want:  []string{"auction_rejected:seller"},
		},
		{
			name:  "缺少出價資訊",
			event: events.Event{Kind: events.KindBidAdmitted, Auction: testAuction()},
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kindsAndUsers(Messages(tt.event)))
		})
	}
}

func TestMessages_Payload(t *testing.T) {
	auction := testAuction()
	messages := Messages(events.Event{
		Kind:       events.KindAuctionClosed,
		Auction:    auction,
		WinningBid: &events.BidInfo{BidderID: "bob", Amount: 150},
		Reason:     events.ReasonBuyNow,
		ReserveMet: true,
	})
	require.Len(t, messages, 2)

	sold := messages[1]
	assert.Equal(t, ChannelEmail, sold.Channel)
	assert.Equal(t, auction.ID.String(), sold.Payload["auctionId"])
	assert.Equal(t, "bob", sold.Payload["buyerId"])
	assert.Equal(t, true, sold.Payload["reserveMet"])
	assert.Equal(t, "buy_now", sold.Payload["reason"])
	assert.NotContains(t, messages[0].Payload, "buyerId", "payloads are not shared")
}
