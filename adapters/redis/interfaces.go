//go:generate mockgen -package=redis -destination=mock.go -source=interfaces.go

package redis

import (
	"context"
)

// IProducer 將資料寫入 stream
type IProducer[T any] interface {
	Start()
	// Publish 非同步寫入，只在序列化失敗或 producer 已關閉時回傳錯誤
	Publish(data T) error
	// Send 同步寫入並回傳訊息 ID
	Send(ctx context.Context, data T) (string, error)
	Close()
}

// IGroupConsumer 以 consumer group 讀取 stream，訊息需要 Done 或 Fail
type IGroupConsumer[T any] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}

// IConsumer 以廣播方式讀取 stream，每個實例都會收到所有訊息
type IConsumer[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// IAutoRenewMutex 是會自動續期的分散式鎖
type IAutoRenewMutex interface {
	// Lock 取得鎖，回傳的 context 會在鎖遺失或釋放時取消
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}
