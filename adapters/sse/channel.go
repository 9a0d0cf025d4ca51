package sse

import (
	"sync"
)

// Channel 將訊息廣播給同一個主題的所有訂閱者。
// 每個訂閱者有自己的緩衝區，緩衝區滿時丟棄最舊的訊息，
// 訂閱者最後一定會收到最新的一則。
type Channel[T any] struct {
	subscribers map[<-chan T]chan T
	bufferSize  int
	mu          sync.Mutex
}

func NewChannel[T any](bufferSize int) *Channel[T] {
	return &Channel[T]{
		subscribers: make(map[<-chan T]chan T),
		bufferSize:  max(bufferSize, 1),
	}
}

func (c *Channel[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan T, c.bufferSize)
	c.subscribers[ch] = ch
	return ch
}

func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if writeCh, exists := c.subscribers[ch]; exists {
		delete(c.subscribers, ch)
		close(writeCh)
	}
}

func (c *Channel[T]) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, writeCh := range c.subscribers {
		close(writeCh)
	}
	clear(c.subscribers)
}

func (c *Channel[T]) Broadcast(message T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, writeCh := range c.subscribers {
		offer(writeCh, message)
	}
}

func (c *Channel[T]) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers) == 0
}

// offer 不阻塞地寫入，緩衝區滿時先丟掉最舊的一則
func offer[T any](ch chan T, message T) {
	for {
		select {
		case ch <- message:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
