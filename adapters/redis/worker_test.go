package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedigree/events"
	"pedigree/models"
)

func closedEvent(seller string) events.Event {
	return events.Event{
		ID:   uuid.Must(uuid.NewV7()),
		Kind: events.KindAuctionClosed,
		Auction: events.AuctionState{
			ID:       uuid.Must(uuid.NewV7()),
			SellerID: seller,
			Status:   models.AuctionStatusEnded,
		},
		Reason:     events.ReasonExpired,
		OccurredAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestEventWorker(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen []string
	)
	handled := make(chan struct{}, 4)
	handler := func(_ context.Context, e events.Event) error {
		mu.Lock()
		seen = append(seen, e.Auction.SellerID)
		mu.Unlock()
		handled <- struct{}{}
		if e.Auction.SellerID == "broken" {
			return errors.New("smtp unavailable")
		}
		return nil
	}

	_, err := NewEventWorker(client, "auction-events", "notify", "w1", nil)
	assert.Error(t, err)

	worker, err := NewEventWorker(client, "auction-events", "notify", "w1", handler,
		WithGroupConsumerLogger[events.Event](discardLogger),
		WithGroupConsumerBlockTimeout[events.Event](50*time.Millisecond),
	)
	require.NoError(t, err)
	require.NoError(t, worker.Start())

	publisher, err := NewEventPublisher(client, "auction-events", WithProducerLogger[events.Event](discardLogger))
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, closedEvent("seller")))
	require.NoError(t, publisher.Publish(ctx, closedEvent("broken")))

	receive(t, handled, time.Second)
	receive(t, handled, time.Second)
	require.NoError(t, worker.Close())
	require.NoError(t, worker.Close())

	mu.Lock()
	assert.Equal(t, []string{"seller", "broken"}, seen)
	mu.Unlock()

	pending, err := client.XPending(ctx, "auction-events", "notify").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)

	dead, err := client.XRange(ctx, DeadLetterStream("auction-events"), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "smtp unavailable", dead[0].Values["error"])
	failed, err := Decode[events.Event](dead[0].Values)
	require.NoError(t, err)
	assert.Equal(t, "broken", failed.Auction.SellerID)
}
