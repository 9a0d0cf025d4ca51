package api

import (
	"time"

	"pedigree/notify"
	"pedigree/store/gormstore"
	"pedigree/verification"
)

type ServerConfig struct {
	// ID 是實例名稱，作為 consumer group 中的 consumer 名稱
	ID           string
	Auth         AuthConfig
	OIDC         OIDCConfig
	DB           gormstore.Config
	Redis        RedisConfig
	Auction      AuctionConfig
	Verification VerificationConfig
	Notification NotificationConfig
}

// AuthConfig 是 Ed25519 JWT 的驗證設定，設置了 OIDC 時不使用
type AuthConfig struct {
	PublicKeyPEM string
	Issuer       string
	Audience     string
}

type OIDCConfig struct {
	IssuerURL string
	ClientID  string
}

// RedisConfig 為空 Addr 時所有元件都只在本機運作
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	KeyPrefix     string
	ConsumerGroup string
	MaxLen        int64

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Events        string
	SSE           string
	Notifications string
}

type AuctionConfig struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	LockWait        time.Duration
	SweepInterval   time.Duration
	SweepBatch      int
	MinIncrement    int64
}

type VerificationConfig struct {
	Admins  []string
	CodeTTL time.Duration
	Limit   verification.LimitPolicy
}

type NotificationConfig struct {
	// RetryBufferPath 為空時投遞失敗的通知不會重送
	RetryBufferPath string
	Redeliver       notify.RedeliverConfig
}
