// Package notifier 提供 notify.Notifier 的實作
//
// 實際的 email / SMS 投遞由外部服務負責，這裡只負責把訊息交出去。
package notifier

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	redisAdapter "pedigree/adapters/redis"
	"pedigree/notify"
)

// LogNotifier 將訊息寫入日誌，用於沒有外部投遞服務的環境
type LogNotifier struct {
	logger *slog.Logger
}

var _ notify.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With(slog.String("caller", "LogNotifier"))}
}

func (n *LogNotifier) Notify(ctx context.Context, message notify.Message) error {
	n.logger.InfoContext(ctx, "notification",
		slog.String("messageId", message.ID.String()),
		slog.String("userId", message.UserID),
		slog.String("channel", string(message.Channel)),
		slog.String("kind", string(message.Kind)),
		slog.String("subject", message.Subject),
		slog.Any("payload", message.Payload),
	)
	return nil
}

// StreamNotifier 將訊息寫入 redis stream (outbox)，由外部的投遞服務讀取。
// XADD 成功才算已被接受，失敗時由 Dispatcher 放進重送緩衝區。
type StreamNotifier struct {
	producer redisAdapter.IProducer[notify.Message]
	logger   *slog.Logger
}

var _ notify.Notifier = (*StreamNotifier)(nil)

func NewStreamNotifier(client *redis.Client, stream string, maxLen int64, logger *slog.Logger) (*StreamNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	producer, err := redisAdapter.NewProducer(client, stream,
		redisAdapter.WithProducerLogger[notify.Message](logger),
		redisAdapter.WithProducerMaxLen[notify.Message](maxLen),
	)
	if err != nil {
		return nil, err
	}
	return &StreamNotifier{
		producer: producer,
		logger:   logger.With(slog.String("caller", "StreamNotifier"), slog.String("stream", stream)),
	}, nil
}

func (n *StreamNotifier) Notify(ctx context.Context, message notify.Message) error {
	id, err := n.producer.Send(ctx, message)
	if err != nil {
		return err
	}
	n.logger.Debug("notification queued",
		slog.String("messageId", message.ID.String()),
		slog.String("entryId", id),
		slog.String("kind", string(message.Kind)),
	)
	return nil
}
