package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"pedigree/apperror"
	"pedigree/events"
	"pedigree/models"
	"pedigree/store"
)

// SweepResult 是一次掃描的結果
// Busy 為排他區段忙碌而略過的拍賣，會在下一次掃描時再處理
type SweepResult struct {
	Ended  []uuid.UUID `json:"ended"`
	Sold   []uuid.UUID `json:"sold"`
	Busy   []uuid.UUID `json:"busy"`
	Failed []uuid.UUID `json:"failed"`
}

// Closed 回傳本次結束的拍賣數量
func (r SweepResult) Closed() int {
	return len(r.Ended) + len(r.Sold)
}

// CloseExpiredAuctions 結束所有 end_time <= now 的進行中拍賣
func (m *Manager) CloseExpiredAuctions(ctx context.Context, now time.Time) (SweepResult, error) {
	const op = "CloseExpiredAuctions"
	var result SweepResult
	seen := make(map[uuid.UUID]struct{})

	for {
		var ids []uuid.UUID
		err := m.store.Transact(ctx, func(tx store.Tx) error {
			var err error
			ids, err = tx.ExpiredAuctions(now, m.sweepBatch)
			return err
		})
		if err != nil {
			return result, apperror.Internal(op, fmt.Errorf("[%s] Fail to list expired auctions, err=%w", op, err))
		}

		progressed := false
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if err := ctx.Err(); err != nil {
				return result, err
			}

			closed, err := m.close(ctx, id, events.ReasonExpired, "sweeper", now)
			switch {
			case err == nil && closed.Changed:
				progressed = true
				if closed.Auction.Status == models.AuctionStatusSold {
					result.Sold = append(result.Sold, id)
				} else {
					result.Ended = append(result.Ended, id)
				}
			case err == nil:
			case apperror.CodeOf(err) == apperror.CodeBusy:
				result.Busy = append(result.Busy, id)
			default:
				m.logger.Error("fail to close expired auction", slog.String("auctionId", id.String()), slog.Any("error", err))
				result.Failed = append(result.Failed, id)
			}
		}
		if !progressed || len(ids) < m.sweepBatch {
			break
		}
	}

	if result.Closed() > 0 || len(result.Busy) > 0 || len(result.Failed) > 0 {
		m.logger.Info("expired auctions swept",
			slog.Int("ended", len(result.Ended)),
			slog.Int("sold", len(result.Sold)),
			slog.Int("busy", len(result.Busy)),
			slog.Int("failed", len(result.Failed)))
	}
	return result, nil
}

// Sweeper 定期結束到期的拍賣
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewSweeper 建立 Sweeper，interval 小於一秒時使用一秒
func NewSweeper(manager *Manager, interval time.Duration) (*Sweeper, error) {
	const op = "NewSweeper"
	if interval < time.Second {
		interval = time.Second
	}
	s := &Sweeper{
		manager: manager,
		cron:    cron.New(cron.WithSeconds()),
		logger:  manager.logger.With(slog.String("caller", "Sweeper")),
	}
	schedule := fmt.Sprintf("@every %ds", int(interval.Seconds()))
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		s.Run(ctx)
	}); err != nil {
		return nil, fmt.Errorf("[%s] Fail to schedule sweep, err=%w", op, err)
	}
	return s, nil
}

// Run 立即執行一次掃描
func (s *Sweeper) Run(ctx context.Context) SweepResult {
	result, err := s.manager.CloseExpiredAuctions(ctx, s.manager.now())
	if err != nil {
		s.logger.Error("sweep failed", slog.Any("error", err))
	}
	return result
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("sweeper started")
}

// Stop 停止排程並等待執行中的掃描結束
func (s *Sweeper) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.logger.Info("sweeper stopped")
}
