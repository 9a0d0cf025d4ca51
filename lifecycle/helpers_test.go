package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"pedigree/events"
	"pedigree/models"
	"pedigree/store"
	"pedigree/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(r.events, func(e events.Event, _ int) events.Kind { return e.Kind })
}

type fixture struct {
	store    *memory.Store
	locker   *memory.Locker
	manager  *Manager
	recorder *recorder
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		locker:   memory.NewLocker(),
		recorder: &recorder{},
		now:      time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	f.manager = NewManager(f.store, f.locker,
		WithClock(func() time.Time { return f.now }),
		WithPublisher(f.recorder),
		WithLockWait(100*time.Millisecond),
	)
	f.seedUser(t, "admin", models.RoleAdmin, false)
	f.seedUser(t, "seller", models.RoleUserFullVerified, true)
	f.seedUser(t, "newbie", models.RoleUser, false)
	return f
}

func (f *fixture) seedUser(t *testing.T, id string, role models.Role, verified bool) {
	t.Helper()
	user := &models.User{ID: id, Role: role}
	if verified {
		user.EmailVerifiedAt = lo.ToPtr(f.now)
		user.FirstName, user.LastName = "Ewa", "Lis"
		user.Address, user.City, user.PostalCode = "ul. Lipowa 3", "Poznań", "60-001"
		user.PhoneNumber = "+48500000000"
		user.PhoneVerified = true
	}
	require.NoError(t, f.store.Transact(context.Background(), func(tx store.Tx) error {
		_, err := tx.CreateUser(user)
		return err
	}))
}

// activeAuction 建立並審核一個拍賣
func (f *fixture) activeAuction(t *testing.T, spec AuctionSpec) *models.Auction {
	t.Helper()
	ctx := context.Background()
	auction, err := f.manager.Create(ctx, "seller", spec)
	require.NoError(t, err)
	auction, err = f.manager.Approve(ctx, "admin", auction.ID)
	require.NoError(t, err)
	return auction
}

func (f *fixture) addBid(t *testing.T, auctionID uuid.UUID, bidder string, amount int64) {
	t.Helper()
	require.NoError(t, f.manager.WithAuction(context.Background(), auctionID, func(tx store.Tx, a *models.Auction) error {
		ok, err := tx.AdvancePrice(a.ID, a.CurrentPrice, amount)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.ClearWinning(a.ID))
		return tx.CreateBid(&models.Bid{
			ID:        uuid.Must(uuid.NewV7()),
			AuctionID: a.ID,
			BidderID:  bidder,
			Amount:    amount,
			PlacedAt:  f.now,
			IsWinning: true,
		})
	}))
}
