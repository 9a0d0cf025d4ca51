package sse

// PublishRequest 是跨實例廣播時在 broker 上傳遞的訊息
type PublishRequest[T any] struct {
	Channel string `msgpack:"channel" json:"channel"`
	Message T      `msgpack:"message" json:"message"`
}

// IChannel 管理單一頻道的所有訂閱者
type IChannel[T any] interface {
	// Subscribe 建立一個新的訂閱並回傳接收訊息的通道
	Subscribe() <-chan T
	// Unsubscribe 取消指定通道的訂閱並關閉它
	Unsubscribe(ch <-chan T)
	// UnsubscribeAll 取消所有訂閱
	UnsubscribeAll()
	// Broadcast 將訊息交給所有訂閱者，不會因為訂閱者太慢而阻塞
	Broadcast(message T)
	// IsIdle 檢查是否沒有訂閱者
	IsIdle() bool
}

// IConnectionManager 管理多個頻道的訂閱與發布
type IConnectionManager[T any] interface {
	// Start 開始處理訊息的接收與廣播，應在呼叫其他方法前先呼叫
	Start()
	// Close 停止運作並關閉所有訂閱
	Close()
	// Subscribe 訂閱指定頻道
	Subscribe(channel string) (<-chan T, error)
	// Publish 將資料推送到指定頻道的所有訂閱者 (包含其他實例上的)
	Publish(channel string, data T) error
	// Unsubscribe 取消訂閱指定頻道
	Unsubscribe(channel string, ch <-chan T)
}

// Subscriber 是跨實例廣播的接收端，redis.Consumer 可以直接使用
type Subscriber[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// Publisher 是跨實例廣播的發送端，redis.Producer 可以直接使用
type Publisher[T any] interface {
	Start()
	Publish(data T) error
	Close()
}
