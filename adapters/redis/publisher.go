package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"pedigree/events"
)

// EventPublisher 將提交後的事件寫入 stream，交給 EventWorker 處理
type EventPublisher struct {
	producer *Producer[events.Event]
}

var _ events.Publisher = (*EventPublisher)(nil)

func NewEventPublisher(client *redis.Client, stream string, opts ...ProducerOption[events.Event]) (*EventPublisher, error) {
	producer, err := NewProducer(client, stream, opts...)
	if err != nil {
		return nil, err
	}
	return &EventPublisher{producer: producer}, nil
}

// Publish 同步寫入，寫入失敗由呼叫端記錄
func (p *EventPublisher) Publish(ctx context.Context, event events.Event) error {
	_, err := p.producer.Send(ctx, event)
	return err
}
