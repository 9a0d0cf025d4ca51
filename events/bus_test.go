package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pedigree/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLocalBus_DeliversInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	bus := NewLocalBus(func(_ context.Context, e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Auction.BidCount)
	})
	bus.Start()

	auction := &models.Auction{ID: uuid.Must(uuid.NewV7())}
	for i := range 50 {
		auction.BidCount = i
		require.NoError(t, bus.Publish(context.Background(), New(KindBidAdmitted, auction, time.Now())))
	}
	bus.Close()

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{}), ErrBusClosed)
	bus.Close()
}

func TestLocalBus_CloseWithoutStart(t *testing.T) {
	bus := NewLocalBus(func(context.Context, Event) {})
	require.NoError(t, bus.Publish(context.Background(), Event{}))
	bus.Close()
	bus.Start()
}

func TestSnapshotOf(t *testing.T) {
	now := time.Now()
	auction := &models.Auction{
		ID:           uuid.Must(uuid.NewV7()),
		Status:       models.AuctionStatusActive,
		CurrentPrice: 150,
		BidCount:     2,
		EndTime:      now.Add(time.Hour),
	}
	s := SnapshotOf(auction, now)
	assert.False(t, s.Final)
	assert.Equal(t, int64(150), s.CurrentPrice)

	auction.Status = models.AuctionStatusSold
	assert.True(t, SnapshotOf(auction, now).Final)
}

func TestInfoOf(t *testing.T) {
	assert.Nil(t, InfoOf(nil))
	bid := &models.Bid{ID: uuid.Must(uuid.NewV7()), BidderID: "b", Amount: 10}
	info := InfoOf(bid)
	assert.Equal(t, bid.ID, info.ID)
	assert.Equal(t, int64(10), info.Amount)
}
