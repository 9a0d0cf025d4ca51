// Package memory 提供單一程序內使用的 store 實作，用於本機開發與測試
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"pedigree/models"
	"pedigree/store"
)

// Store 是並發安全的記憶體 store
// 交易之間依序執行。交易中的寫入先放在交易自己的複本，成功後才套用，
// 因此只有被讀寫到的資料列會被複製。
type Store struct {
	mu   sync.Mutex
	data *dataset
}

type dataset struct {
	users    map[string]*models.User
	auctions map[uuid.UUID]*models.Auction
	bids     map[uuid.UUID][]*models.Bid
	audit    map[uuid.UUID][]models.AuditEntry
}

func newDataset() *dataset {
	return &dataset{
		users:    make(map[string]*models.User),
		auctions: make(map[uuid.UUID]*models.Auction),
		bids:     make(map[uuid.UUID][]*models.Bid),
		audit:    make(map[uuid.UUID][]models.AuditEntry),
	}
}

// New 建立一個空的記憶體 store
func New() *Store {
	return &Store{data: newDataset()}
}

// Transact 實作 store.Store
func (s *Store) Transact(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &txn{base: s.data, dirty: newDataset()}
	if err := fn(t); err != nil {
		return err
	}
	// 臨界區段的 context 已經失效時不能提交
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

// txn 讀取時先看 dirty 再看 base，寫入前將資料列複製到 dirty。
// dirty.audit 只保存這個交易新增的紀錄。
type txn struct {
	base  *dataset
	dirty *dataset
}

func (t *txn) commit() {
	for id, u := range t.dirty.users {
		t.base.users[id] = u
	}
	for id, a := range t.dirty.auctions {
		t.base.auctions[id] = a
	}
	for id, bids := range t.dirty.bids {
		t.base.bids[id] = bids
	}
	for id, entries := range t.dirty.audit {
		t.base.audit[id] = append(slices.Clip(t.base.audit[id]), entries...)
	}
}

func (t *txn) user(id string) (*models.User, bool) {
	if u, ok := t.dirty.users[id]; ok {
		return u, true
	}
	u, ok := t.base.users[id]
	return u, ok
}

func (t *txn) auction(id uuid.UUID) (*models.Auction, bool) {
	if a, ok := t.dirty.auctions[id]; ok {
		return a, true
	}
	a, ok := t.base.auctions[id]
	return a, ok
}

// writableAuction 回傳可以直接修改的拍賣
func (t *txn) writableAuction(id uuid.UUID) (*models.Auction, bool) {
	if a, ok := t.dirty.auctions[id]; ok {
		return a, true
	}
	a, ok := t.base.auctions[id]
	if !ok {
		return nil, false
	}
	a = a.Clone()
	t.dirty.auctions[id] = a
	return a, true
}

func (t *txn) bids(auctionID uuid.UUID) []*models.Bid {
	if bids, ok := t.dirty.bids[auctionID]; ok {
		return bids
	}
	return t.base.bids[auctionID]
}

// writableBids 回傳可以直接修改的出價列表
func (t *txn) writableBids(auctionID uuid.UUID) []*models.Bid {
	if bids, ok := t.dirty.bids[auctionID]; ok {
		return bids
	}
	base := t.base.bids[auctionID]
	bids := make([]*models.Bid, len(base), len(base)+1)
	for i, b := range base {
		bid := *b
		bids[i] = &bid
	}
	t.dirty.bids[auctionID] = bids
	return bids
}

func (t *txn) LockUser(id string) (*models.User, error) {
	return t.User(id)
}

func (t *txn) User(id string) (*models.User, error) {
	u, ok := t.user(id)
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return u.Clone(), nil
}

func (t *txn) CreateUser(user *models.User) (bool, error) {
	if _, ok := t.user(user.ID); ok {
		return false, nil
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	t.dirty.users[user.ID] = user.Clone()
	return true, nil
}

func (t *txn) SaveUser(user *models.User) error {
	if _, ok := t.user(user.ID); !ok {
		return fmt.Errorf("user %s: %w", user.ID, store.ErrNotFound)
	}
	user.UpdatedAt = time.Now()
	t.dirty.users[user.ID] = user.Clone()
	return nil
}

func (t *txn) LockAuction(id uuid.UUID) (*models.Auction, error) {
	return t.Auction(id)
}

func (t *txn) Auction(id uuid.UUID) (*models.Auction, error) {
	a, ok := t.auction(id)
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, store.ErrNotFound)
	}
	return a.Clone(), nil
}

func (t *txn) CreateAuction(auction *models.Auction) error {
	if _, ok := t.auction(auction.ID); ok {
		return fmt.Errorf("auction %s already exists", auction.ID)
	}
	now := time.Now()
	auction.CreatedAt = now
	auction.UpdatedAt = now
	t.dirty.auctions[auction.ID] = auction.Clone()
	return nil
}

func (t *txn) TransitionAuction(id uuid.UUID, from, to store.AuctionState, closedAt *time.Time) (bool, error) {
	a, ok := t.auction(id)
	if !ok {
		return false, fmt.Errorf("auction %s: %w", id, store.ErrNotFound)
	}
	if store.StateOf(a) != from {
		return false, nil
	}
	a, _ = t.writableAuction(id)
	a.Status = to.Status
	a.IsApproved = to.IsApproved
	if closedAt != nil {
		v := *closedAt
		a.ClosedAt = &v
	}
	a.UpdatedAt = time.Now()
	return true, nil
}

func (t *txn) AdvancePrice(id uuid.UUID, from, to int64) (bool, error) {
	a, ok := t.auction(id)
	if !ok {
		return false, fmt.Errorf("auction %s: %w", id, store.ErrNotFound)
	}
	if a.CurrentPrice != from {
		return false, nil
	}
	a, _ = t.writableAuction(id)
	a.CurrentPrice = to
	a.BidCount++
	a.UpdatedAt = time.Now()
	return true, nil
}

func (t *txn) ExpiredAuctions(now time.Time, limit int) ([]uuid.UUID, error) {
	var expired []*models.Auction
	isExpired := func(a *models.Auction) bool {
		return a.Status == models.AuctionStatusActive && !a.EndTime.After(now)
	}
	for id, a := range t.base.auctions {
		if changed, ok := t.dirty.auctions[id]; ok {
			a = changed
		}
		if isExpired(a) {
			expired = append(expired, a)
		}
	}
	for id, a := range t.dirty.auctions {
		if _, ok := t.base.auctions[id]; !ok && isExpired(a) {
			expired = append(expired, a)
		}
	}
	slices.SortFunc(expired, func(a, b *models.Auction) int {
		return a.EndTime.Compare(b.EndTime)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]uuid.UUID, len(expired))
	for i, a := range expired {
		ids[i] = a.ID
	}
	return ids, nil
}

func (t *txn) CreateBid(bid *models.Bid) error {
	if _, ok := t.auction(bid.AuctionID); !ok {
		return fmt.Errorf("record bid for auction %s: %w", bid.AuctionID, store.ErrNotFound)
	}
	b := *bid
	t.dirty.bids[bid.AuctionID] = append(t.writableBids(bid.AuctionID), &b)
	return nil
}

func (t *txn) ClearWinning(auctionID uuid.UUID) error {
	for _, b := range t.bids(auctionID) {
		if b.IsWinning {
			for _, w := range t.writableBids(auctionID) {
				w.IsWinning = false
			}
			return nil
		}
	}
	return nil
}

func (t *txn) WinningBid(auctionID uuid.UUID) (*models.Bid, error) {
	for _, b := range t.bids(auctionID) {
		if b.IsWinning {
			bid := *b
			return &bid, nil
		}
	}
	return nil, nil
}

func (t *txn) Bids(auctionID uuid.UUID) ([]models.Bid, error) {
	current := t.bids(auctionID)
	bids := make([]models.Bid, 0, len(current))
	for _, b := range current {
		bids = append(bids, *b)
	}
	return bids, nil
}

func (t *txn) AppendAudit(entry *models.AuditEntry) error {
	t.dirty.audit[entry.AuctionID] = append(t.dirty.audit[entry.AuctionID], *entry)
	return nil
}

func (t *txn) AuditTrail(auctionID uuid.UUID) ([]models.AuditEntry, error) {
	return slices.Concat(t.base.audit[auctionID], t.dirty.audit[auctionID]), nil
}
