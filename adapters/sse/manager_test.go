package sse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedigree/adapters/sse"
)

func TestConnectionManager(t *testing.T) {
	cm := sse.NewConnectionManager[tick]()
	cm.Start()
	defer cm.Close()

	ch, err := cm.Subscribe("auction-1")
	require.NoError(t, err)
	other, err := cm.Subscribe("auction-2")
	require.NoError(t, err)

	require.NoError(t, cm.Publish("auction-1", tick{Price: 120}))
	assert.Equal(t, tick{Price: 120}, receive(t, ch))

	require.NoError(t, cm.Publish("auction-2", tick{Price: 7}))
	assert.Equal(t, tick{Price: 7}, receive(t, other))
	assert.Empty(t, ch)

	cm.Unsubscribe("auction-1", ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	assert.NoError(t, cm.Publish("auction-1", tick{Price: 150}), "沒有訂閱者的頻道也可以發布")
}

func TestConnectionManager_Closed(t *testing.T) {
	cm := sse.NewConnectionManager[tick]()
	assert.ErrorIs(t, cm.Publish("auction-1", tick{}), sse.ErrManagerClosed, "尚未啟動")

	cm.Start()
	ch, err := cm.Subscribe("auction-1")
	require.NoError(t, err)

	cm.Close()
	cm.Close()
	_, ok := <-ch
	assert.False(t, ok)

	_, err = cm.Subscribe("auction-1")
	assert.ErrorIs(t, err, sse.ErrManagerClosed)
	assert.ErrorIs(t, cm.Publish("auction-1", tick{}), sse.ErrManagerClosed)
}

// memoryBroker 模擬兩個實例共用的 stream
type memoryBroker struct {
	out     chan sse.PublishRequest[tick]
	started bool
}

func (b *memoryBroker) Start() { b.started = true }

func (b *memoryBroker) Subscribe() <-chan sse.PublishRequest[tick] { return b.out }

func (b *memoryBroker) Publish(req sse.PublishRequest[tick]) error {
	b.out <- req
	return nil
}

func (b *memoryBroker) Close() {
	if b.started {
		b.started = false
		close(b.out)
	}
}

func TestConnectionManager_Broker(t *testing.T) {
	broker := &memoryBroker{out: make(chan sse.PublishRequest[tick], 4)}
	cm := sse.NewConnectionManager(sse.WithManagerBroker[tick](broker, broker))
	cm.Start()
	defer cm.Close()

	ch, err := cm.Subscribe("auction-1")
	require.NoError(t, err)
	require.NoError(t, cm.Publish("auction-1", tick{Price: 99}))
	assert.Equal(t, tick{Price: 99}, receive(t, ch))
	assert.True(t, broker.started)
}
