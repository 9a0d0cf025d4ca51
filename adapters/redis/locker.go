package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pedigree/store"
)

// Locker 以 redsync 實作跨實例的 store.Locker
type Locker struct {
	client *redis.Client
	logger *slog.Logger
	opts   []AutoRenewMutexOption
}

var _ store.Locker = (*Locker)(nil)

func NewLocker(client *redis.Client, logger *slog.Logger, opts ...AutoRenewMutexOption) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		client: client,
		logger: logger.With(slog.String("caller", "RedisLocker")),
		opts:   opts,
	}
}

func (l *Locker) Lock(ctx context.Context, key string, wait time.Duration) (context.Context, func(), error) {
	const op = "RedisLocker.Lock"
	opts := append(append([]AutoRenewMutexOption{}, l.opts...), WithAutoRenewMutexWait(wait))
	mutex := NewAutoRenewMutex(l.client, key, opts...)

	lockCtx, err := mutex.Lock(ctx)
	if err != nil {
		if errors.Is(err, ErrLockWaitTimeout) {
			return nil, nil, fmt.Errorf("[%s] %w, key=%s", op, store.ErrLockTimeout, key)
		}
		return nil, nil, fmt.Errorf("[%s] Fail to acquire lock %s, err=%w", op, key, err)
	}

	release := sync.OnceFunc(func() {
		if ok, err := mutex.Unlock(); err != nil || !ok {
			l.logger.Warn("lock was not released cleanly",
				slog.String("key", key),
				slog.Bool("released", ok),
				slog.Any("error", err),
			)
		}
	})
	return lockCtx, release, nil
}
