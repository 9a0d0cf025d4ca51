// Package lifecycle 管理拍賣的狀態機: 建立、審核、結束與結算
//
//	PENDING(未審核) -> ACTIVE(已審核) -> ENDED | SOLD
//	PENDING(未審核) -> ENDED (審核退回)
//
// ENDED 和 SOLD 是終止狀態，狀態不會倒退。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pedigree/apperror"
	"pedigree/events"
	"pedigree/models"
	"pedigree/store"
	"pedigree/verification"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pedigree",
		Subsystem: "auction",
		Name:      "transitions_total",
		Help:      "Committed auction lifecycle transitions.",
	}, []string{"to", "reason"})
	lockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pedigree",
		Subsystem: "auction",
		Name:      "lock_wait_seconds",
		Help:      "Time spent acquiring the per-auction critical section.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

const (
	DefaultDuration    = 7 * 24 * time.Hour
	DefaultMaxDuration = 90 * 24 * time.Hour
	DefaultLockWait    = 2 * time.Second
	DefaultSweepBatch  = 100
)

type managerOptions struct {
	logger      *slog.Logger
	now         func() time.Time
	publisher   events.Publisher
	lockWait    time.Duration
	duration    time.Duration
	maxDuration time.Duration
	sweepBatch  int
}

type Option func(*managerOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithClock 設置取得目前時間的函數
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) {
		o.now = now
	}
}

// WithPublisher 設置提交後事件的接收者
func WithPublisher(publisher events.Publisher) Option {
	return func(o *managerOptions) {
		o.publisher = publisher
	}
}

// WithLockWait 設置取得拍賣鎖的最長等待時間
func WithLockWait(wait time.Duration) Option {
	return func(o *managerOptions) {
		o.lockWait = wait
	}
}

// WithDefaultDuration 設置拍賣預設的持續時間
func WithDefaultDuration(d time.Duration) Option {
	return func(o *managerOptions) {
		o.duration = d
	}
}

// WithMaxDuration 設置建立拍賣時可以指定的最長持續時間
func WithMaxDuration(d time.Duration) Option {
	return func(o *managerOptions) {
		o.maxDuration = d
	}
}

// WithSweepBatch 設置每次掃描到期拍賣的數量
func WithSweepBatch(n int) Option {
	return func(o *managerOptions) {
		o.sweepBatch = n
	}
}

// Manager 是拍賣狀態 (status / isApproved) 唯一的寫入者
type Manager struct {
	store       store.Store
	locker      store.Locker
	logger      *slog.Logger
	now         func() time.Time
	publisher   events.Publisher
	lockWait    time.Duration
	duration    time.Duration
	maxDuration time.Duration
	sweepBatch  int
}

func NewManager(s store.Store, locker store.Locker, opts ...Option) *Manager {
	options := managerOptions{
		logger:      slog.Default(),
		now:         time.Now,
		publisher:   events.Discard,
		lockWait:    DefaultLockWait,
		duration:    DefaultDuration,
		maxDuration: DefaultMaxDuration,
		sweepBatch:  DefaultSweepBatch,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Manager{
		store:       s,
		locker:      locker,
		logger:      options.logger.With(slog.String("caller", "LifecycleManager")),
		now:         options.now,
		publisher:   options.publisher,
		lockWait:    options.lockWait,
		duration:    options.duration,
		maxDuration: options.maxDuration,
		sweepBatch:  options.sweepBatch,
	}
}

// MaxDuration 回傳建立拍賣時可以指定的最長持續時間
func (m *Manager) MaxDuration() time.Duration {
	return m.maxDuration
}

func (m *Manager) durationTooLong() *apperror.Error {
	return apperror.Invalid("duration exceeds the maximum").
		WithDetail("maxDurationSeconds", int64(m.maxDuration/time.Second))
}

// Now 回傳管理器使用的目前時間
func (m *Manager) Now() time.Time {
	return m.now()
}

// WithAuction 在拍賣的排他區段中執行 fn
// 排他區段由 Locker 的鎖與持有列鎖的交易組成，fn 收到的是已鎖定的拍賣
func (m *Manager) WithAuction(ctx context.Context, auctionID uuid.UUID, fn func(tx store.Tx, auction *models.Auction) error) error {
	const op = "WithAuction"
	start := time.Now()
	lockCtx, unlock, err := m.locker.Lock(ctx, store.AuctionLockKey(auctionID), m.lockWait)
	lockWaitSeconds.Observe(time.Since(start).Seconds())
	if errors.Is(err, store.ErrLockTimeout) {
		return apperror.ErrBusy.WithDetail("auctionId", auctionID.String())
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return apperror.Internal(op, fmt.Errorf("[%s] Fail to acquire auction lock, err=%w", op, err))
	}
	defer unlock()

	err = m.store.Transact(lockCtx, func(tx store.Tx) error {
		auction, err := tx.LockAuction(auctionID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.ErrAuctionNotFound.WithDetail("auctionId", auctionID.String())
		}
		if err != nil {
			return err
		}
		return fn(tx, auction)
	})
	if err == nil {
		return nil
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	// 鎖在交易完成前失效
	if lockCtx.Err() != nil && ctx.Err() == nil {
		return apperror.ErrBusy.Wrap(err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return apperror.Internal(op, err)
}

// AuctionSpec 是建立拍賣的輸入
// StartingPrice 為 nil 且有直購價時，目前價格從直購價開始
type AuctionSpec struct {
	Title         string
	Description   string
	Category      string
	StartingPrice *int64
	BuyNowPrice   *int64
	ReservePrice  *int64
	Duration      time.Duration
}

func (s AuctionSpec) validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return apperror.Invalid("title must not be empty")
	}
	var starting int64
	if s.StartingPrice != nil {
		starting = *s.StartingPrice
		if starting < 0 {
			return apperror.Invalid("starting price must not be negative").WithDetail("startingPrice", starting)
		}
	}
	if s.ReservePrice != nil && *s.ReservePrice < starting {
		return apperror.Invalid("reserve price must not be lower than starting price").WithDetail("reservePrice", *s.ReservePrice)
	}
	if s.BuyNowPrice != nil {
		if *s.BuyNowPrice <= 0 {
			return apperror.Invalid("buy now price must be positive").WithDetail("buyNowPrice", *s.BuyNowPrice)
		}
		if *s.BuyNowPrice < starting {
			return apperror.Invalid("buy now price must not be lower than starting price").WithDetail("buyNowPrice", *s.BuyNowPrice)
		}
	}
	if s.Duration < 0 {
		return apperror.Invalid("duration must not be negative")
	}
	return nil
}

// initialPrice 回傳 max(startingPrice, 沒有起標價時的直購價, 0)
func (s AuctionSpec) initialPrice() int64 {
	var price int64
	if s.StartingPrice != nil {
		price = max(price, *s.StartingPrice)
	} else if s.BuyNowPrice != nil {
		price = max(price, *s.BuyNowPrice)
	}
	return price
}

// Create 建立待審核的拍賣
func (m *Manager) Create(ctx context.Context, sellerID string, spec AuctionSpec) (*models.Auction, error) {
	const op = "Create"
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if spec.Duration > m.maxDuration {
		return nil, m.durationTooLong()
	}
	now := m.now()
	duration := spec.Duration
	if duration == 0 {
		duration = m.duration
	}
	var starting int64
	if spec.StartingPrice != nil {
		starting = *spec.StartingPrice
	}
	auction := &models.Auction{
		ID:            uuid.Must(uuid.NewV7()),
		SellerID:      sellerID,
		Title:         strings.TrimSpace(spec.Title),
		Description:   spec.Description,
		Category:      spec.Category,
		StartingPrice: starting,
		CurrentPrice:  spec.initialPrice(),
		BuyNowPrice:   spec.BuyNowPrice,
		ReservePrice:  spec.ReservePrice,
		StartTime:     now,
		EndTime:       now.Add(duration),
		Status:        models.AuctionStatusPending,
		IsApproved:    false,
	}

	err := m.store.Transact(ctx, func(tx store.Tx) error {
		seller, err := tx.User(sellerID)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.ErrNotVerified
		}
		if err != nil {
			return err
		}
		if seller.Disabled {
			return apperror.ErrUserDisabled
		}
		if !verification.CapabilitiesOf(seller).CanCreateAuction {
			return apperror.ErrNotVerified
		}
		if err := tx.CreateAuction(auction); err != nil {
			return err
		}
		return tx.AppendAudit(m.audit(auction, sellerID, store.AuctionState{}, store.StateOf(auction), "created", now))
	})
	if err != nil {
		if _, ok := apperror.As(err); ok {
			return nil, err
		}
		return nil, apperror.Internal(op, fmt.Errorf("[%s] Fail to create auction, err=%w", op, err))
	}
	transitionsTotal.WithLabelValues(string(models.AuctionStatusPending), "created").Inc()
	m.logger.Info("auction created", slog.String("auctionId", auction.ID.String()), slog.String("sellerId", sellerID))
	return auction, nil
}

// requireAdmin 在交易中確認 adminID 是啟用中的管理員
func requireAdmin(tx store.Tx, adminID string) error {
	admin, err := tx.User(adminID)
	if errors.Is(err, store.ErrNotFound) {
		return apperror.ErrNotAdmin
	}
	if err != nil {
		return err
	}
	if !admin.IsAdmin() || admin.Disabled {
		return apperror.ErrNotAdmin
	}
	return nil
}

// Approve 由管理員審核通過拍賣，拍賣進入 ACTIVE
func (m *Manager) Approve(ctx context.Context, adminID string, auctionID uuid.UUID) (*models.Auction, error) {
	var (
		result *models.Auction
		event  events.Event
	)
	err := m.WithAuction(ctx, auctionID, func(tx store.Tx, auction *models.Auction) error {
		if err := requireAdmin(tx, adminID); err != nil {
			return err
		}
		if auction.Status.Terminal() {
			return apperror.ErrInvalidTransition.WithDetail("status", auction.Status)
		}
		if auction.IsApproved {
			return apperror.ErrAlreadyApproved
		}
		now := m.now()
		from := store.StateOf(auction)
		to := store.AuctionState{Status: models.AuctionStatusActive, IsApproved: true}
		if err := m.transition(tx, auction, from, to, nil); err != nil {
			return err
		}
		if err := tx.AppendAudit(m.audit(auction, adminID, from, to, "approved", now)); err != nil {
			return err
		}
		result = auction
		event = events.New(events.KindAuctionApproved, auction, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.Emit(ctx, event)
	return result, nil
}

// Reject 由管理員退回尚未審核的拍賣，拍賣直接結束
func (m *Manager) Reject(ctx context.Context, adminID string, auctionID uuid.UUID, note string) (*models.Auction, error) {
	var (
		result *models.Auction
		event  events.Event
	)
	err := m.WithAuction(ctx, auctionID, func(tx store.Tx, auction *models.Auction) error {
		if err := requireAdmin(tx, adminID); err != nil {
			return err
		}
		if auction.Status != models.AuctionStatusPending || auction.IsApproved {
			return apperror.ErrInvalidTransition.WithDetail("status", auction.Status)
		}
		now := m.now()
		from := store.StateOf(auction)
		to := store.AuctionState{Status: models.AuctionStatusEnded}
		if err := m.transition(tx, auction, from, to, &now); err != nil {
			return err
		}
		if err := tx.AppendAudit(m.audit(auction, adminID, from, to, joinReason(string(events.ReasonRejected), note), now)); err != nil {
			return err
		}
		result = auction
		event = events.New(events.KindAuctionClosed, auction, now)
		event.Reason = events.ReasonRejected
		event.Note = note
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.Emit(ctx, event)
	return result, nil
}

// CloseResult 是結束拍賣的結果，Changed 為 false 代表拍賣原本就已經結束
type CloseResult struct {
	Auction    *models.Auction
	WinningBid *models.Bid
	Changed    bool
}

// Close 結束進行中的拍賣，有出價時為 SOLD，否則為 ENDED
// 已經結束的拍賣不會變更
func (m *Manager) Close(ctx context.Context, auctionID uuid.UUID, reason events.CloseReason) (*CloseResult, error) {
	return m.close(ctx, auctionID, reason, "system", m.now())
}

// ForceClose 由管理員提前結束拍賣
func (m *Manager) ForceClose(ctx context.Context, adminID string, auctionID uuid.UUID) (*CloseResult, error) {
	var result CloseResult
	var event *events.Event
	err := m.WithAuction(ctx, auctionID, func(tx store.Tx, auction *models.Auction) error {
		if err := requireAdmin(tx, adminID); err != nil {
			return err
		}
		var err error
		event, result.WinningBid, err = m.CloseInTx(tx, auction, events.ReasonAdminForced, adminID, m.now())
		result.Auction = auction
		return err
	})
	if err != nil {
		return nil, err
	}
	if event != nil {
		result.Changed = true
		m.Emit(ctx, *event)
	}
	return &result, nil
}

func (m *Manager) close(ctx context.Context, auctionID uuid.UUID, reason events.CloseReason, actor string, now time.Time) (*CloseResult, error) {
	var result CloseResult
	var event *events.Event
	err := m.WithAuction(ctx, auctionID, func(tx store.Tx, auction *models.Auction) error {
		var err error
		event, result.WinningBid, err = m.CloseInTx(tx, auction, reason, actor, now)
		result.Auction = auction
		return err
	})
	if err != nil {
		return nil, err
	}
	if event != nil {
		result.Changed = true
		m.Emit(ctx, *event)
	}
	return &result, nil
}

// CloseInTx 在呼叫端已經持有的排他區段中結束拍賣
// 回傳的事件需要在交易提交後交給 Emit，拍賣原本就已經結束時事件為 nil
func (m *Manager) CloseInTx(tx store.Tx, auction *models.Auction, reason events.CloseReason, actor string, now time.Time) (*events.Event, *models.Bid, error) {
	if auction.Status.Terminal() {
		return nil, nil, nil
	}
	if auction.Status != models.AuctionStatusActive {
		return nil, nil, apperror.ErrInvalidTransition.WithDetail("status", auction.Status)
	}
	if reason == events.ReasonExpired && now.Before(auction.EndTime) {
		return nil, nil, apperror.ErrNotExpired.WithDetail("endTime", auction.EndTime)
	}
	winner, err := tx.WinningBid(auction.ID)
	if err != nil {
		return nil, nil, err
	}
	from := store.StateOf(auction)
	to := store.AuctionState{Status: models.AuctionStatusEnded, IsApproved: auction.IsApproved}
	if winner != nil {
		to.Status = models.AuctionStatusSold
	}
	if err := m.transition(tx, auction, from, to, &now); err != nil {
		return nil, nil, err
	}
	if err := tx.AppendAudit(m.audit(auction, actor, from, to, string(reason), now)); err != nil {
		return nil, nil, err
	}
	event := events.New(events.KindAuctionClosed, auction, now)
	event.Reason = reason
	event.WinningBid = events.InfoOf(winner)
	event.ReserveMet = winner != nil && auction.ReserveMet(winner.Amount)
	return &event, winner, nil
}

// Emit 在交易提交後發出事件，發送失敗只會記錄
func (m *Manager) Emit(ctx context.Context, event events.Event) {
	if event.Kind == "" {
		return
	}
	reason := string(event.Reason)
	if event.Kind == events.KindAuctionApproved {
		reason = "approved"
	}
	transitionsTotal.WithLabelValues(string(event.Auction.Status), reason).Inc()
	m.logger.Info("auction transition",
		slog.String("auctionId", event.Auction.ID.String()),
		slog.String("kind", string(event.Kind)),
		slog.String("status", string(event.Auction.Status)),
		slog.String("reason", string(event.Reason)))
	if err := m.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		m.logger.Error("fail to publish auction event", slog.String("auctionId", event.Auction.ID.String()), slog.Any("error", err))
	}
}

// transition 以條件式更新變更狀態，並將結果反映到 auction
func (m *Manager) transition(tx store.Tx, auction *models.Auction, from, to store.AuctionState, closedAt *time.Time) error {
	ok, err := tx.TransitionAuction(auction.ID, from, to, closedAt)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.ErrInvalidTransition.WithDetail("status", auction.Status)
	}
	auction.Status = to.Status
	auction.IsApproved = to.IsApproved
	if closedAt != nil {
		v := *closedAt
		auction.ClosedAt = &v
	}
	return nil
}

func (m *Manager) audit(auction *models.Auction, actor string, from, to store.AuctionState, reason string, at time.Time) *models.AuditEntry {
	return &models.AuditEntry{
		ID:           uuid.Must(uuid.NewV7()),
		AuctionID:    auction.ID,
		Actor:        actor,
		FromStatus:   from.Status,
		ToStatus:     to.Status,
		FromApproved: from.IsApproved,
		ToApproved:   to.IsApproved,
		Reason:       reason,
		At:           at,
	}
}

func joinReason(reason, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return reason
	}
	return reason + ": " + note
}
