package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedigree/verification"
)

func TestLimiter_Allow(t *testing.T) {
	mr, client := setupMiniredis(t)
	policy := verification.LimitPolicy{
		Cooldown:    time.Minute,
		Window:      time.Hour,
		MaxInWindow: 2,
		Block:       3 * time.Hour,
	}
	limiter := NewLimiter(client, "otp", policy)
	ctx := context.Background()

	allow := func() time.Duration {
		t.Helper()
		wait, err := limiter.Allow(ctx, "phone:u1")
		require.NoError(t, err)
		return wait
	}

	assert.Zero(t, allow(), "第一次請求")

	wait := allow()
	assert.Greater(t, wait, time.Duration(0), "冷卻中")
	assert.LessOrEqual(t, wait, time.Minute)

	mr.FastForward(time.Minute)
	assert.Zero(t, allow(), "冷卻結束後的第二次請求")

	mr.FastForward(time.Minute)
	assert.Equal(t, 3*time.Hour, allow(), "超過時間窗上限後封鎖")

	mr.FastForward(time.Hour)
	wait = allow()
	assert.InDelta(t, float64(2*time.Hour), float64(wait), float64(time.Second), "封鎖期間")

	mr.FastForward(2 * time.Hour)
	assert.Zero(t, allow(), "封鎖結束")

	other, err := limiter.Allow(ctx, "phone:u2")
	require.NoError(t, err)
	assert.Zero(t, other, "不同的鍵互不影響")
}
