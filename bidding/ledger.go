// Package bidding 負責出價的原子性寫入、價格推進與得標者判定
package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pedigree/apperror"
	"pedigree/events"
	"pedigree/lifecycle"
	"pedigree/models"
	"pedigree/store"
	"pedigree/verification"
)

var (
	bidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pedigree",
		Subsystem: "bidding",
		Name:      "bids_total",
		Help:      "Bid attempts by result code.",
	}, []string{"result"})
	bidDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pedigree",
		Subsystem: "bidding",
		Name:      "place_bid_duration_seconds",
		Help:      "Latency of bid admission including lock wait.",
		Buckets:   prometheus.DefBuckets,
	})
)

const DefaultMaxAttempts = 3

type ledgerOptions struct {
	logger       *slog.Logger
	publisher    events.Publisher
	minIncrement int64
	maxAttempts  int
}

type Option func(*ledgerOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *ledgerOptions) {
		o.logger = logger
	}
}

// WithPublisher 設置出價事件的接收者
func WithPublisher(publisher events.Publisher) Option {
	return func(o *ledgerOptions) {
		o.publisher = publisher
	}
}

// WithMinIncrement 設置每次出價最少需要高出目前價格多少，0 代表只要更高即可
func WithMinIncrement(n int64) Option {
	return func(o *ledgerOptions) {
		o.minIncrement = n
	}
}

// WithMaxAttempts 設置條件式更新失敗時的最多嘗試次數
func WithMaxAttempts(n int) Option {
	return func(o *ledgerOptions) {
		o.maxAttempts = n
	}
}

// Ledger 是出價紀錄唯一的建立者，也是 current_price 唯一的推進者
type Ledger struct {
	store        store.Store
	lifecycle    *lifecycle.Manager
	logger       *slog.Logger
	publisher    events.Publisher
	minIncrement int64
	maxAttempts  int
}

func NewLedger(s store.Store, manager *lifecycle.Manager, opts ...Option) *Ledger {
	options := ledgerOptions{
		logger:      slog.Default(),
		publisher:   events.Discard,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.maxAttempts < 1 {
		options.maxAttempts = 1
	}
	return &Ledger{
		store:        s,
		lifecycle:    manager,
		logger:       options.logger.With(slog.String("caller", "BidLedger")),
		publisher:    options.publisher,
		minIncrement: options.minIncrement,
		maxAttempts:  options.maxAttempts,
	}
}

// BidRequest 是一次出價
// ExpectedPrice 是呼叫端看到的目前價格，與實際價格不同時回傳 ErrPriceChanged
type BidRequest struct {
	BidderID      string
	AuctionID     uuid.UUID
	Amount        int64
	ExpectedPrice *int64
}

// BidReceipt 是出價被接受後的結果
type BidReceipt struct {
	Bid            models.Bid           `json:"bid"`
	Auction        *models.Auction      `json:"-"`
	PreviousWinner *models.Bid          `json:"-"`
	BoughtNow      bool                 `json:"boughtNow"`
	Status         models.AuctionStatus `json:"status"`
	CurrentPrice   int64                `json:"currentPrice"`
}

// PlaceBid 是唯一的出價入口
//
// 檢查順序:
//  1. 出價者必須完成驗證 (AuthorizationError)
//  2. 金額必須為正數 (ValidationError)
//  3. 取得拍賣的排他區段，逾時回傳 ErrBusy
//  4. 拍賣必須存在且可以出價，賣家不能出價
//  5. ExpectedPrice 過期時回傳 ErrPriceChanged
//  6. 金額必須高於目前價格
//
// 出價被接受時，價格推進、得標者切換和出價寫入在同一個交易中完成；
// 金額達到直購價時拍賣在同一個排他區段中以 SOLD 結束。
func (l *Ledger) PlaceBid(ctx context.Context, req BidRequest) (*BidReceipt, error) {
	start := time.Now()
	receipt, err := l.placeBid(ctx, req)
	bidDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		bidsTotal.WithLabelValues(string(apperror.CodeOf(err))).Inc()
		return nil, err
	}
	bidsTotal.WithLabelValues("admitted").Inc()
	return receipt, nil
}

func (l *Ledger) placeBid(ctx context.Context, req BidRequest) (*BidReceipt, error) {
	var (
		receipt    *BidReceipt
		bidEvent   events.Event
		closeEvent *events.Event
	)
	now := l.lifecycle.Now()

	verified, err := l.bidderVerified(ctx, req.BidderID)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, apperror.ErrNotVerified
	}
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount.WithDetail("amount", req.Amount)
	}

	err = l.lifecycle.WithAuction(ctx, req.AuctionID, func(tx store.Tx, auction *models.Auction) error {
		now = l.lifecycle.Now()
		if !auction.Biddable(now) {
			return apperror.ErrAuctionNotBiddable.
				WithDetail("status", auction.Status).
				WithDetail("isApproved", auction.IsApproved)
		}
		if auction.SellerID == req.BidderID {
			return apperror.ErrSelfBidForbidden
		}
		if req.ExpectedPrice != nil && *req.ExpectedPrice != auction.CurrentPrice {
			return apperror.ErrPriceChanged.WithDetail("currentPrice", auction.CurrentPrice)
		}
		if err := l.checkAmount(auction, req.Amount); err != nil {
			return err
		}

		previous, err := tx.WinningBid(auction.ID)
		if err != nil {
			return err
		}
		if err := l.advance(tx, auction, req.Amount); err != nil {
			return err
		}
		bid := &models.Bid{
			ID:        uuid.Must(uuid.NewV7()),
			AuctionID: auction.ID,
			BidderID:  req.BidderID,
			Amount:    req.Amount,
			PlacedAt:  now,
			IsWinning: true,
		}
		if err := tx.ClearWinning(auction.ID); err != nil {
			return err
		}
		if err := tx.CreateBid(bid); err != nil {
			return err
		}

		receipt = &BidReceipt{Bid: *bid, Auction: auction, PreviousWinner: previous}
		bidEvent = events.New(events.KindBidAdmitted, auction, now)
		bidEvent.Bid = events.InfoOf(bid)
		bidEvent.PreviousWinner = events.InfoOf(previous)

		if auction.BuyNowPrice != nil && req.Amount >= *auction.BuyNowPrice {
			closeEvent, _, err = l.lifecycle.CloseInTx(tx, auction, events.ReasonBuyNow, req.BidderID, now)
			if err != nil {
				return err
			}
			receipt.BoughtNow = true
		}
		// 事件中的拍賣狀態是出價完成後的狀態
		bidEvent.Auction = events.StateOf(auction)
		return nil
	})
	if err != nil {
		return nil, err
	}

	receipt.Status = receipt.Auction.Status
	receipt.CurrentPrice = receipt.Auction.CurrentPrice
	l.logger.Info("bid admitted",
		slog.String("auctionId", req.AuctionID.String()),
		slog.String("bidderId", req.BidderID),
		slog.Int64("amount", req.Amount),
		slog.Bool("boughtNow", receipt.BoughtNow))

	if err := l.publisher.Publish(context.WithoutCancel(ctx), bidEvent); err != nil {
		l.logger.Error("fail to publish bid event", slog.String("auctionId", req.AuctionID.String()), slog.Any("error", err))
	}
	if closeEvent != nil {
		l.lifecycle.Emit(ctx, *closeEvent)
	}
	return receipt, nil
}

// checkAmount 判斷金額是否足以成為新的最高出價
// 只設定直購價且尚未有人出價的拍賣，目前價格就是直購價，此時以直購價出價是允許的
func (l *Ledger) checkAmount(auction *models.Auction, amount int64) error {
	if auction.BidCount == 0 && auction.StartingPrice == 0 && auction.BuyNowPrice != nil &&
		auction.CurrentPrice == *auction.BuyNowPrice && amount >= *auction.BuyNowPrice {
		return nil
	}
	tooLow := apperror.ErrBidTooLow.
		WithDetail("currentPrice", auction.CurrentPrice).
		WithDetail("minimumBid", auction.CurrentPrice+max(l.minIncrement, 1))
	if amount <= auction.CurrentPrice {
		return tooLow
	}
	if l.minIncrement > 0 && amount < auction.CurrentPrice+l.minIncrement {
		return tooLow
	}
	return nil
}

// advance 以條件式更新推進價格，比對失敗時重新讀取並重試
func (l *Ledger) advance(tx store.Tx, auction *models.Auction, amount int64) error {
	for attempt := 1; ; attempt++ {
		ok, err := tx.AdvancePrice(auction.ID, auction.CurrentPrice, amount)
		if err != nil {
			return err
		}
		if ok {
			auction.CurrentPrice = amount
			auction.BidCount++
			return nil
		}
		if attempt >= l.maxAttempts {
			return apperror.ErrPriceChanged.WithDetail("currentPrice", auction.CurrentPrice)
		}
		fresh, err := tx.Auction(auction.ID)
		if err != nil {
			return err
		}
		l.logger.Warn("price compare-and-set lost, retrying",
			slog.String("auctionId", auction.ID.String()),
			slog.Int64("expected", auction.CurrentPrice),
			slog.Int64("actual", fresh.CurrentPrice),
			slog.Int("attempt", attempt))
		*auction = *fresh
		if !auction.Biddable(l.lifecycle.Now()) {
			return apperror.ErrAuctionNotBiddable.WithDetail("status", auction.Status)
		}
		if err := l.checkAmount(auction, amount); err != nil {
			return err
		}
	}
}

func (l *Ledger) bidderVerified(ctx context.Context, bidderID string) (bool, error) {
	const op = "bidderVerified"
	if bidderID == "" {
		return false, apperror.ErrUnauthenticated
	}
	var user *models.User
	err := l.store.Transact(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.User(bidderID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperror.Internal(op, fmt.Errorf("[%s] Fail to load bidder, err=%w", op, err))
	}
	if user.Disabled {
		return false, apperror.ErrUserDisabled
	}
	return verification.CapabilitiesOf(user).CanBid, nil
}

// WinningBidFor 回傳拍賣目前的得標出價，沒有出價時回傳 nil
func (l *Ledger) WinningBidFor(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	var bid *models.Bid
	err := l.store.Transact(ctx, func(tx store.Tx) error {
		if _, err := tx.Auction(auctionID); err != nil {
			return err
		}
		var err error
		bid, err = tx.WinningBid(auctionID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.ErrAuctionNotFound.WithDetail("auctionId", auctionID.String())
	}
	if err != nil {
		return nil, apperror.Internal("WinningBidFor", err)
	}
	return bid, nil
}

// BidsFor 依出價時間回傳拍賣的所有出價
func (l *Ledger) BidsFor(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	var bids []models.Bid
	err := l.store.Transact(ctx, func(tx store.Tx) error {
		if _, err := tx.Auction(auctionID); err != nil {
			return err
		}
		var err error
		bids, err = tx.Bids(auctionID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.ErrAuctionNotFound.WithDetail("auctionId", auctionID.String())
	}
	if err != nil {
		return nil, apperror.Internal("BidsFor", err)
	}
	return bids, nil
}
