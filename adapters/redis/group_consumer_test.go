package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGroupConsumer(t *testing.T, client *redis.Client, consumer string, opts ...GroupConsumerOption[bidPlaced]) *GroupConsumer[bidPlaced] {
	t.Helper()
	opts = append([]GroupConsumerOption[bidPlaced]{
		WithGroupConsumerLogger[bidPlaced](discardLogger),
		WithGroupConsumerBlockTimeout[bidPlaced](50 * time.Millisecond),
	}, opts...)
	gc, err := NewGroupConsumer(client, "events", "notify", consumer, opts...)
	require.NoError(t, err)
	return gc
}

func addBid(t *testing.T, client *redis.Client, amount int64) {
	t.Helper()
	values, err := Encode(newBidPlaced(amount))
	require.NoError(t, err)
	require.NoError(t, client.XAdd(context.Background(), &redis.XAddArgs{Stream: "events", Values: values}).Err())
}

func pendingCount(t *testing.T, client *redis.Client) int64 {
	t.Helper()
	pending, err := client.XPending(context.Background(), "events", "notify").Result()
	require.NoError(t, err)
	return pending.Count
}

func TestNewGroupConsumer(t *testing.T) {
	client := redis.NewClient(&redis.Options{})
	defer client.Close()

	_, err := NewGroupConsumer[bidPlaced](nil, "events", "notify", "c1")
	assert.ErrorContains(t, err, "redis client cannot be nil")
	_, err = NewGroupConsumer[bidPlaced](client, "events", "", "c1")
	assert.ErrorContains(t, err, "stream, group and consumer cannot be empty")

	gc, err := NewGroupConsumer(client, "events", "notify", "c1", WithGroupConsumerStrictOrdering[bidPlaced](true))
	require.NoError(t, err)
	assert.NotNil(t, gc.mutex)
	assert.NoError(t, gc.Close())
}

func TestGroupConsumer_Deliver(t *testing.T) {
	t.Run("Done 之後訊息不再 pending", func(t *testing.T) {
		_, client := setupMiniredis(t)
		addBid(t, client, 100)
		addBid(t, client, 120)

		gc := newTestGroupConsumer(t, client, "c1")
		require.NoError(t, gc.Start())
		require.NoError(t, gc.Start())
		defer gc.Close()

		ctx := context.Background()
		for _, want := range []int64{100, 120} {
			msg := receive(t, gc.Subscribe(), time.Second)
			assert.Equal(t, want, msg.Data.Amount)
			require.NoError(t, msg.Done(ctx))
			require.NoError(t, msg.Done(ctx))
		}
		assert.Zero(t, pendingCount(t, client))
	})

	t.Run("Fail 將訊息移到死信", func(t *testing.T) {
		_, client := setupMiniredis(t)
		addBid(t, client, 100)

		gc := newTestGroupConsumer(t, client, "c1")
		require.NoError(t, gc.Start())
		defer gc.Close()

		ctx := context.Background()
		msg := receive(t, gc.Subscribe(), time.Second)
		require.NoError(t, msg.Fail(ctx, errors.New("notifier down")))

		dead, err := client.XRange(ctx, DeadLetterStream("events"), "-", "+").Result()
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, "notifier down", dead[0].Values["error"])
		assert.Equal(t, msg.ID, dead[0].Values["source_id"])
		assert.Zero(t, pendingCount(t, client))
	})

	t.Run("無法解析的訊息直接進死信", func(t *testing.T) {
		_, client := setupMiniredis(t)
		ctx := context.Background()
		require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "events", Values: map[string]any{"junk": "1"}}).Err())
		addBid(t, client, 150)

		gc := newTestGroupConsumer(t, client, "c1")
		require.NoError(t, gc.Start())
		defer gc.Close()

		msg := receive(t, gc.Subscribe(), time.Second)
		assert.EqualValues(t, 150, msg.Data.Amount)
		assert.EqualValues(t, 1, client.XLen(ctx, DeadLetterStream("events")).Val())
	})

	t.Run("重啟後先重送未確認的訊息", func(t *testing.T) {
		_, client := setupMiniredis(t)
		addBid(t, client, 100)

		gc := newTestGroupConsumer(t, client, "c1")
		require.NoError(t, gc.Start())
		first := receive(t, gc.Subscribe(), time.Second)
		require.NoError(t, gc.Close())
		assert.EqualValues(t, 1, pendingCount(t, client))

		gc = newTestGroupConsumer(t, client, "c1")
		require.NoError(t, gc.Start())
		defer gc.Close()

		again := receive(t, gc.Subscribe(), time.Second)
		assert.Equal(t, first.ID, again.ID)
		require.NoError(t, again.Done(context.Background()))
		assert.Zero(t, pendingCount(t, client))
	})

	t.Run("嚴格順序模式", func(t *testing.T) {
		_, client := setupMiniredis(t)
		addBid(t, client, 100)

		mutex := NewAutoRenewMutex(client, "lock:events:notify", WithAutoRenewMutexSkipLockError(true))
		gc := newTestGroupConsumer(t, client, "c1",
			WithGroupConsumerStrictOrdering[bidPlaced](true),
			WithGroupConsumerMutex[bidPlaced](mutex),
		)
		require.NoError(t, gc.Start())

		msg := receive(t, gc.Subscribe(), time.Second)
		assert.EqualValues(t, 100, msg.Data.Amount)
		assert.True(t, mutex.Valid())
		require.NoError(t, msg.Done(context.Background()))
		require.NoError(t, gc.Close())
		assert.False(t, mutex.Valid())
	})
}
