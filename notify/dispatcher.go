package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pedigree/adapters/buffer"
	"pedigree/events"
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pedigree",
	Name:      "notifications_total",
	Help:      "Notifications handed to the notifier, by kind and result.",
}, []string{"kind", "result"})

// SnapshotPublisher 接收即時狀態快照，Feed 實作此介面
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snapshot events.Snapshot) error
}

type options struct {
	logger    *slog.Logger
	snapshots SnapshotPublisher
	retry     *buffer.Store[Message]
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSnapshots 設置即時快照的接收端
func WithSnapshots(snapshots SnapshotPublisher) Option {
	return func(o *options) {
		o.snapshots = snapshots
	}
}

// WithRetryBuffer 投遞失敗的訊息會放進 buffer，由 Redeliverer 之後重送
func WithRetryBuffer(retry *buffer.Store[Message]) Option {
	return func(o *options) {
		o.retry = retry
	}
}

// Dispatcher 將提交後的事件轉成通知與即時快照。
// 投遞失敗不會影響已經提交的狀態，也不會在當下重試。
type Dispatcher struct {
	notifier  Notifier
	snapshots SnapshotPublisher
	retry     *buffer.Store[Message]
	logger    *slog.Logger
}

func NewDispatcher(notifier Notifier, opts ...Option) *Dispatcher {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Dispatcher{
		notifier:  notifier,
		snapshots: o.snapshots,
		retry:     o.retry,
		logger:    o.logger.With(slog.String("caller", "Dispatcher")),
	}
}

// Dispatch 送出事件對應的通知並推送快照。
// 回傳的錯誤只包含沒有被 retry buffer 接手的投遞失敗。
func (d *Dispatcher) Dispatch(ctx context.Context, event events.Event) error {
	d.publishSnapshot(ctx, event)

	var errs []error
	for _, message := range Messages(event) {
		if err := d.deliver(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handle 讓 Dispatcher 可以作為 events.Handler 使用
func (d *Dispatcher) Handle(ctx context.Context, event events.Event) {
	_ = d.Dispatch(ctx, event)
}

// Publish 讓 Dispatcher 可以直接作為 events.Publisher 使用
func (d *Dispatcher) Publish(ctx context.Context, event events.Event) error {
	return d.Dispatch(ctx, event)
}

func (d *Dispatcher) publishSnapshot(ctx context.Context, event events.Event) {
	if d.snapshots == nil {
		return
	}
	snapshot := event.Auction.Snapshot(event.OccurredAt)
	if err := d.snapshots.PublishSnapshot(ctx, snapshot); err != nil {
		d.logger.Warn("fail to publish snapshot",
			slog.String("auctionId", snapshot.AuctionID.String()),
			slog.Any("error", err),
		)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, message Message) error {
	const op = "Dispatcher.deliver"
	err := d.notifier.Notify(ctx, message)
	if err == nil {
		notificationsTotal.WithLabelValues(string(message.Kind), "sent").Inc()
		return nil
	}

	logger := d.logger.With(
		slog.String("messageId", message.ID.String()),
		slog.String("kind", string(message.Kind)),
		slog.String("userId", message.UserID),
	)
	if d.retry != nil {
		item := buffer.Item[Message]{ID: message.ID.String(), Data: message, Attempts: 1, LastError: err.Error()}
		qErr := d.retry.Enqueue(item)
		if qErr == nil {
			notificationsTotal.WithLabelValues(string(message.Kind), "queued").Inc()
			logger.Warn("notification failed, queued for redelivery", slog.Any("error", err))
			return nil
		}
		logger.Error("fail to queue notification", slog.Any("error", qErr))
	}
	notificationsTotal.WithLabelValues(string(message.Kind), "failed").Inc()
	logger.Error("notification failed", slog.Any("error", err))
	return fmt.Errorf("[%s] Fail to notify %s of %s, err=%w", op, message.UserID, message.Kind, err)
}
