package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"pedigree/adapters/buffer"
)

// RedeliverConfig 控制重送的頻率與次數
type RedeliverConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

// DrainResult 是一次重送的結果
type DrainResult struct {
	Delivered int
	Requeued  int
	Dropped   int
}

// Redeliverer 定期重送 retry buffer 中的通知，超過次數後丟棄
type Redeliverer struct {
	store    *buffer.Store[Message]
	notifier Notifier
	logger   *slog.Logger
	cron     *cron.Cron
	cfg      RedeliverConfig
}

func NewRedeliverer(store *buffer.Store[Message], notifier Notifier, logger *slog.Logger, cfg RedeliverConfig) (*Redeliverer, error) {
	const op = "NewRedeliverer"
	if cfg.Interval < time.Second {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Redeliverer{
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("caller", "Redeliverer")),
		cron:     cron.New(cron.WithSeconds()),
		cfg:      cfg,
	}
	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	if _, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if _, err := r.Drain(ctx); err != nil {
			r.logger.Error("redelivery failed", slog.Any("error", err))
		}
	}); err != nil {
		return nil, fmt.Errorf("[%s] Fail to schedule redelivery, err=%w", op, err)
	}
	return r, nil
}

func (r *Redeliverer) Start() {
	r.cron.Start()
	r.logger.Info("redeliverer started", slog.Duration("interval", r.cfg.Interval))
}

func (r *Redeliverer) Stop(ctx context.Context) {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	r.logger.Info("redeliverer stopped")
}

// Drain 重送一批訊息
func (r *Redeliverer) Drain(ctx context.Context) (DrainResult, error) {
	const op = "Redeliverer.Drain"
	var result DrainResult
	items, err := r.store.Batch(r.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("[%s] Fail to read retry buffer, err=%w", op, err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		kind := string(item.Data.Kind)
		logger := r.logger.With(slog.String("messageId", item.ID), slog.String("kind", kind))

		err := r.notifier.Notify(ctx, item.Data)
		if err == nil {
			notificationsTotal.WithLabelValues(kind, "redelivered").Inc()
			result.Delivered++
			if err := r.store.Remove(item); err != nil {
				logger.Warn("fail to remove delivered notification", slog.Any("error", err))
			}
			continue
		}

		item.Attempts++
		item.LastError = err.Error()
		if item.Attempts > r.cfg.MaxAttempts {
			notificationsTotal.WithLabelValues(kind, "dropped").Inc()
			result.Dropped++
			logger.Error("dropping notification after max attempts", slog.Int("attempts", item.Attempts), slog.Any("error", err))
			if err := r.store.Remove(item); err != nil {
				logger.Warn("fail to remove dropped notification", slog.Any("error", err))
			}
			continue
		}
		result.Requeued++
		if err := r.store.Requeue(item); err != nil {
			logger.Error("fail to requeue notification", slog.Any("error", err))
		}
	}
	return result, nil
}
