package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"pedigree/events"
)

// EventHandler 處理一個事件，回傳錯誤時事件會被移到死信 stream
type EventHandler func(ctx context.Context, event events.Event) error

// EventWorker 從 consumer group 讀取 EventPublisher 寫入的事件。
// 同一個 group 的多個實例只會有一個處理到同一則事件。
type EventWorker struct {
	consumer IGroupConsumer[events.Event]
	handler  EventHandler
	logger   *slog.Logger
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
}

func NewEventWorker(
	client *redis.Client,
	stream, group, consumer string,
	handler EventHandler,
	opts ...GroupConsumerOption[events.Event],
) (*EventWorker, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	gc, err := NewGroupConsumer(client, stream, group, consumer, opts...)
	if err != nil {
		return nil, err
	}
	return &EventWorker{
		consumer: gc,
		handler:  handler,
		logger:   gc.logger.With(slog.String("caller", "EventWorker")),
	}, nil
}

func (w *EventWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := w.consumer.Start(); err != nil {
		return err
	}
	w.started = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for msg := range w.consumer.Subscribe() {
			w.handle(msg)
		}
	}()
	return nil
}

func (w *EventWorker) handle(msg *Message[events.Event]) {
	ctx := context.Background()
	logger := w.logger.With(
		slog.String("messageId", msg.ID),
		slog.String("kind", string(msg.Data.Kind)),
		slog.String("auctionId", msg.Data.Auction.ID.String()),
	)
	if err := w.handler(ctx, msg.Data); err != nil {
		logger.Warn("event handler failed", slog.Any("error", err))
		if failErr := msg.Fail(ctx, err); failErr != nil {
			logger.Error("fail to dead-letter event", slog.Any("error", failErr))
		}
		return
	}
	if err := msg.Done(ctx); err != nil {
		logger.Error("fail to ack event", slog.Any("error", err))
	}
}

// Close 停止讀取並等待處理中的事件結束
func (w *EventWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	w.started = false
	err := w.consumer.Close()
	w.wg.Wait()
	return err
}
