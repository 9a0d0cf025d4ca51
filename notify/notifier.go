//go:generate mockgen -package=notify -destination=mock_notifier.go -source=notifier.go

package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Channel 是訊息的投遞管道，實際投遞由外部服務負責
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

type Kind string

const (
	KindBidConfirmed          Kind = "bid_confirmed"
	KindOutbid                Kind = "outbid"
	KindAuctionApproved       Kind = "auction_approved"
	KindAuctionWon            Kind = "auction_won"
	KindAuctionSold           Kind = "auction_sold"
	KindAuctionEndedUnsold    Kind = "auction_ended_unsold"
	KindAuctionRejected       Kind = "auction_rejected"
	KindPhoneVerificationCode Kind = "phone_verification_code"
)

// Message 是交給外部 notifier 的結構化訊息
type Message struct {
	ID        uuid.UUID      `msgpack:"id" json:"id"`
	UserID    string         `msgpack:"userId" json:"userId"`
	Channel   Channel        `msgpack:"channel" json:"channel"`
	Kind      Kind           `msgpack:"kind" json:"kind"`
	Subject   string         `msgpack:"subject" json:"subject"`
	Payload   map[string]any `msgpack:"payload" json:"payload"`
	CreatedAt time.Time      `msgpack:"createdAt" json:"createdAt"`
}

// NewMessage 建立訊息並填入 ID 與建立時間
func NewMessage(userID string, channel Channel, kind Kind, subject string, payload map[string]any) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()),
		UserID:    userID,
		Channel:   channel,
		Kind:      kind,
		Subject:   subject,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Notifier 是外部的訊息投遞服務，回傳 nil 代表已被接受
type Notifier interface {
	Notify(ctx context.Context, message Message) error
}
