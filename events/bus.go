package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/smallnest/chanx"
)

var ErrBusClosed = errors.New("event bus closed")

// Handler 處理一個事件
type Handler func(ctx context.Context, event Event)

type busOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type BusOption func(*busOptions)

// WithBusLogger 設置日誌記錄器
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(o *busOptions) {
		o.logger = logger
	}
}

// WithBusBufferSize 設置初始緩衝大小
func WithBusBufferSize(size int) BusOption {
	return func(o *busOptions) {
		o.bufferSize = size
	}
}

// LocalBus 是單一程序內的事件匯流排
// Publish 只會把事件放進無上限的緩衝區，由背景 goroutine 依序交給 handler
type LocalBus struct {
	mu      sync.RWMutex
	ch      *chanx.UnboundedChan[Event]
	handler Handler
	logger  *slog.Logger
	started bool
	closed  bool
	done    chan struct{}
}

func NewLocalBus(handler Handler, opts ...BusOption) *LocalBus {
	options := busOptions{
		logger:     slog.Default(),
		bufferSize: 64,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &LocalBus{
		ch:      chanx.NewUnboundedChan[Event](context.Background(), options.bufferSize),
		handler: handler,
		logger:  options.logger.With(slog.String("caller", "LocalBus")),
		done:    make(chan struct{}),
	}
}

func (b *LocalBus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true
	go func() {
		defer close(b.done)
		for event := range b.ch.Out {
			b.handler(context.Background(), event)
		}
		b.logger.Info("event bus stopped")
	}()
}

func (b *LocalBus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	b.ch.In <- event
	return nil
}

// Close 停止接收事件，並等待已經進入緩衝區的事件都處理完畢
func (b *LocalBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	started := b.started
	close(b.ch.In)
	b.mu.Unlock()
	if !started {
		// 沒有啟動過的匯流排直接丟棄緩衝中的事件
		for range b.ch.Out {
		}
		return
	}
	<-b.done
}
