package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pedigree/verification"
)

// limitScript 依序檢查封鎖、冷卻與時間窗內的次數
//
//	KEYS[1] - 封鎖鍵
//	KEYS[2] - 冷卻鍵
//	KEYS[3] - 時間窗計數鍵
//	ARGV[1] - 冷卻時間 (ms)
//	ARGV[2] - 時間窗長度 (ms)
//	ARGV[3] - 時間窗內的次數上限，0 表示不限制
//	ARGV[4] - 封鎖時間 (ms)
//
// 返回值:
//
//	0  - 允許
//	>0 - 需要等待的毫秒數
var limitScript = redis.NewScript(`
local blocked = redis.call('PTTL', KEYS[1])
if blocked > 0 then
    return blocked
end

local cooling = redis.call('PTTL', KEYS[2])
if cooling > 0 then
    return cooling
end

local count = redis.call('INCR', KEYS[3])
if count == 1 then
    redis.call('PEXPIRE', KEYS[3], ARGV[2])
end

local limit = tonumber(ARGV[3])
if limit > 0 and count > limit then
    redis.call('SET', KEYS[1], '1', 'PX', ARGV[4])
    return tonumber(ARGV[4])
end

if tonumber(ARGV[1]) > 0 then
    redis.call('SET', KEYS[2], '1', 'PX', ARGV[1])
end
return 0
`)

// Limiter 是以 redis 計數的 verification.RateLimiter，多個實例共用同一份狀態
type Limiter struct {
	client *redis.Client
	prefix string
	policy verification.LimitPolicy
}

var _ verification.RateLimiter = (*Limiter)(nil)

func NewLimiter(client *redis.Client, prefix string, policy verification.LimitPolicy) *Limiter {
	if prefix == "" {
		prefix = "limit"
	}
	return &Limiter{client: client, prefix: prefix, policy: policy}
}

func (l *Limiter) Allow(ctx context.Context, key string) (time.Duration, error) {
	const op = "Limiter.Allow"
	base := l.prefix + ":" + key
	wait, err := limitScript.Run(ctx, l.client,
		[]string{base + ":block", base + ":cooldown", base + ":window"},
		l.policy.Cooldown.Milliseconds(),
		max(l.policy.Window.Milliseconds(), 1),
		l.policy.MaxInWindow,
		max(l.policy.Block.Milliseconds(), 1),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("[%s] Fail to run limit script, err=%w", op, err)
	}
	return time.Duration(wait) * time.Millisecond, nil
}
