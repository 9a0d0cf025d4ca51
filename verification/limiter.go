package verification

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 限制驗證碼的請求頻率
// Allow 回傳 0 代表允許，否則回傳需要等待的時間
type RateLimiter interface {
	Allow(ctx context.Context, key string) (time.Duration, error)
}

// LimitPolicy 描述驗證碼的請求限制
//   - Cooldown: 兩次請求之間的最短間隔
//   - Window / MaxInWindow: 一段時間內最多的請求次數
//   - Block: 超過次數後封鎖的時間
type LimitPolicy struct {
	Cooldown    time.Duration
	Window      time.Duration
	MaxInWindow int
	Block       time.Duration
}

// DefaultLimitPolicy 回傳預設的限制
func DefaultLimitPolicy() LimitPolicy {
	return LimitPolicy{
		Cooldown:    time.Minute,
		Window:      time.Hour,
		MaxInWindow: 5,
		Block:       3 * time.Hour,
	}
}

// LocalLimiter 是單一程序內的 RateLimiter
type LocalLimiter struct {
	mu     sync.Mutex
	policy LimitPolicy
	now    func() time.Time
	states map[string]*limitState
}

type limitState struct {
	windowStart  time.Time
	count        int
	last         time.Time
	blockedUntil time.Time
}

func NewLocalLimiter(policy LimitPolicy) *LocalLimiter {
	return &LocalLimiter{
		policy: policy,
		now:    time.Now,
		states: make(map[string]*limitState),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	state, ok := l.states[key]
	if !ok {
		state = &limitState{}
		l.states[key] = state
	}
	if now.Before(state.blockedUntil) {
		return state.blockedUntil.Sub(now), nil
	}
	if !state.last.IsZero() && now.Before(state.last.Add(l.policy.Cooldown)) {
		return state.last.Add(l.policy.Cooldown).Sub(now), nil
	}
	if state.windowStart.IsZero() || !now.Before(state.windowStart.Add(l.policy.Window)) {
		state.windowStart = now
		state.count = 0
	}
	state.count++
	if l.policy.MaxInWindow > 0 && state.count > l.policy.MaxInWindow {
		state.blockedUntil = now.Add(l.policy.Block)
		return l.policy.Block, nil
	}
	state.last = now
	return 0, nil
}
