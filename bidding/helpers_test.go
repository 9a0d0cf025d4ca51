package bidding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"pedigree/events"
	"pedigree/lifecycle"
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

func (r *recorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

type fixture struct {
	store    *memory.Store
	manager  *lifecycle.Manager
	ledger   *Ledger
	recorder *recorder

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T, publisher events.Publisher, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		recorder: &recorder{},
		now:      time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	if publisher == nil {
		publisher = f.recorder
	}
	f.manager = lifecycle.NewManager(f.store, memory.NewLocker(),
		lifecycle.WithClock(f.clock),
		lifecycle.WithPublisher(publisher),
		lifecycle.WithLockWait(time.Second),
	)
	f.ledger = NewLedger(f.store, f.manager, append([]Option{WithPublisher(publisher)}, opts...)...)

	f.seedUser(t, &models.User{ID: "admin", Role: models.RoleAdmin})
	for _, id := range []string{"seller", "alice", "bob", "carol"} {
		f.seedUser(t, f.verified(id))
	}
	f.seedUser(t, &models.User{ID: "newbie", Role: models.RoleUser, EmailVerifiedAt: lo.ToPtr(f.now)})
	banned := f.verified("banned")
	banned.Disabled = true
	f.seedUser(t, banned)
	return f
}

func (f *fixture) verified(id string) *models.User {
	return &models.User{
		ID:              id,
		Role:            models.RoleUserFullVerified,
		EmailVerifiedAt: lo.ToPtr(f.now),
		FirstName:       "Jan",
		LastName:        "Nowak",
		Address:         "ul. Polna 1",
		City:            "Kraków",
		PostalCode:      "30-001",
		PhoneNumber:     "+48600000000",
		PhoneVerified:   true,
	}
}

func (f *fixture) seedUser(t *testing.T, user *models.User) {
	t.Helper()
	require.NoError(t, f.store.Transact(context.Background(), func(tx store.Tx) error {
		_, err := tx.CreateUser(user)
		return err
	}))
}

func (f *fixture) activeAuction(t *testing.T, spec lifecycle.AuctionSpec) *models.Auction {
	t.Helper()
	ctx := context.Background()
	if spec.Title == "" {
		spec.Title = "Maine Coon kitten"
	}
	auction, err := f.manager.Create(ctx, "seller", spec)
	require.NoError(t, err)
	auction, err = f.manager.Approve(ctx, "admin", auction.ID)
	require.NoError(t, err)
	return auction
}

func (f *fixture) auction(t *testing.T, id uuid.UUID) *models.Auction {
	t.Helper()
	auction, err := f.manager.Auction(context.Background(), id)
	require.NoError(t, err)
	return auction
}

func startingAt(price int64) lifecycle.AuctionSpec {
	return lifecycle.AuctionSpec{StartingPrice: lo.ToPtr(price)}
}
