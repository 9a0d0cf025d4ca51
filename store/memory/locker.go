package memory

import (
	"context"
	"sync"
	"time"

	"pedigree/store"
)

// Locker 是單一程序內的 keyed mutex，等待時間有上限
type Locker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocker 建立新的 Locker
func NewLocker() *Locker {
	return &Locker{slots: make(map[string]*slot)}
}

// Lock 實作 store.Locker，wait <= 0 時不設上限
func (l *Locker) Lock(ctx context.Context, key string, wait time.Duration) (context.Context, func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, nil, ctx.Err()
	case <-timeout:
		l.release(key, s)
		return nil, nil, store.ErrLockTimeout
	}

	lockCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	unlock := func() {
		once.Do(func() {
			cancel()
			<-s.ch
			l.release(key, s)
		})
	}
	return lockCtx, unlock, nil
}

func (l *Locker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
