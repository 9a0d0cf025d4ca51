package sse

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/smallnest/chanx"
)

var ErrManagerClosed = errors.New("connection manager is closed")

type managerOptions[T any] struct {
	logger     *slog.Logger
	bufferSize int
	subscriber Subscriber[PublishRequest[T]]
	publisher  Publisher[PublishRequest[T]]
}

type ManagerOption[T any] func(*managerOptions[T])

// WithManagerLogger 設置日誌記錄器
func WithManagerLogger[T any](logger *slog.Logger) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.logger = logger
	}
}

// WithManagerBufferSize 設置每個訂閱者的緩衝大小
func WithManagerBufferSize[T any](size int) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.bufferSize = size
	}
}

// WithManagerBroker 透過外部 broker 在多個實例間廣播，未設置時只在本機廣播
func WithManagerBroker[T any](subscriber Subscriber[PublishRequest[T]], publisher Publisher[PublishRequest[T]]) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.subscriber = subscriber
		o.publisher = publisher
	}
}

// connectionManager 管理多個頻道的訂閱與發布
type connectionManager[T any] struct {
	logger  *slog.Logger
	options managerOptions[T]

	mu       sync.RWMutex
	wg       sync.WaitGroup
	started  bool
	closed   bool
	cancel   context.CancelFunc
	loopback *chanx.UnboundedChan[PublishRequest[T]]
	channels map[string]*Channel[T]
}

func NewConnectionManager[T any](opts ...ManagerOption[T]) IConnectionManager[T] {
	options := managerOptions[T]{
		logger:     slog.Default(),
		bufferSize: 8,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &connectionManager[T]{
		logger:   options.logger.With(slog.String("caller", "ConnectionManager")),
		options:  options,
		channels: make(map[string]*Channel[T]),
	}
}

func (cm *connectionManager[T]) Start() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.started || cm.closed {
		return
	}
	cm.started = true

	var source <-chan PublishRequest[T]
	if cm.options.subscriber != nil {
		cm.options.publisher.Start()
		cm.options.subscriber.Start()
		source = cm.options.subscriber.Subscribe()
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		cm.cancel = cancel
		cm.loopback = chanx.NewUnboundedChan[PublishRequest[T]](ctx, cm.options.bufferSize)
		source = cm.loopback.Out
	}

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		for req := range source {
			cm.dispatch(req)
		}
	}()
}

func (cm *connectionManager[T]) dispatch(req PublishRequest[T]) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if channel, ok := cm.channels[req.Channel]; ok {
		channel.Broadcast(req.Message)
	}
}

func (cm *connectionManager[T]) Close() {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return
	}
	cm.closed = true
	started := cm.started
	cm.mu.Unlock()

	if started {
		if cm.options.subscriber != nil {
			cm.options.publisher.Close()
			cm.options.subscriber.Close()
		} else {
			close(cm.loopback.In)
		}
		cm.wg.Wait()
		if cm.cancel != nil {
			cm.cancel()
		}
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, channel := range cm.channels {
		channel.UnsubscribeAll()
	}
	clear(cm.channels)
	cm.logger.Info("connection manager closed")
}

func (cm *connectionManager[T]) Subscribe(channel string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.closed {
		return nil, ErrManagerClosed
	}

	c, ok := cm.channels[channel]
	if !ok {
		c = NewChannel[T](cm.options.bufferSize)
		cm.channels[channel] = c
	}
	return c.Subscribe(), nil
}

func (cm *connectionManager[T]) Publish(channel string, data T) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.closed || !cm.started {
		return ErrManagerClosed
	}

	req := PublishRequest[T]{Channel: channel, Message: data}
	if cm.options.publisher != nil {
		return cm.options.publisher.Publish(req)
	}
	cm.loopback.In <- req
	return nil
}

func (cm *connectionManager[T]) Unsubscribe(channel string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[channel]
	if !ok {
		return
	}
	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(cm.channels, channel)
	}
}
