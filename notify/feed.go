package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"pedigree/adapters/sse"
	"pedigree/events"
)

// SnapshotSource 提供拍賣目前的快照，lifecycle.Manager 實作此介面
type SnapshotSource interface {
	Snapshot(ctx context.Context, auctionID uuid.UUID) (events.Snapshot, error)
}

// Feed 是每個拍賣的即時快照訂閱
type Feed struct {
	manager sse.IConnectionManager[events.Snapshot]
	source  SnapshotSource
	logger  *slog.Logger
}

var _ SnapshotPublisher = (*Feed)(nil)

func NewFeed(manager sse.IConnectionManager[events.Snapshot], source SnapshotSource, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		manager: manager,
		source:  source,
		logger:  logger.With(slog.String("caller", "Feed")),
	}
}

func (f *Feed) PublishSnapshot(_ context.Context, snapshot events.Snapshot) error {
	return f.manager.Publish(snapshot.AuctionID.String(), snapshot)
}

// Subscribe 先送出目前的快照，之後送出每次變動。
// 拍賣結束 (Final) 或 ctx 結束後 channel 會被關閉，需要時重新訂閱即可。
func (f *Feed) Subscribe(ctx context.Context, auctionID uuid.UUID) (<-chan events.Snapshot, error) {
	channel := auctionID.String()
	live, err := f.manager.Subscribe(channel)
	if err != nil {
		return nil, err
	}
	current, err := f.source.Snapshot(ctx, auctionID)
	if err != nil {
		f.manager.Unsubscribe(channel, live)
		return nil, err
	}

	out := make(chan events.Snapshot)
	go func() {
		defer close(out)
		defer f.manager.Unsubscribe(channel, live)

		last := current
		if !send(ctx, out, current) || current.Final {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case snapshot, ok := <-live:
				if !ok {
					return
				}
				if stale(snapshot, last) {
					continue
				}
				last = snapshot
				if !send(ctx, out, snapshot) || snapshot.Final {
					return
				}
			}
		}
	}()
	return out, nil
}

// stale 判斷 live 是否已經包含在 last 中。
// 只比較狀態不比較時間: 事件的時間在提交前就決定了，不同實例的時鐘也不一定一致。
// 出價次數只會增加，出價次數相同且狀態相同代表沒有新的變動，結束的快照一律送出。
func stale(live, last events.Snapshot) bool {
	if live.Final {
		return false
	}
	if live.BidCount != last.BidCount {
		return live.BidCount < last.BidCount
	}
	return live.Status == last.Status
}

func send(ctx context.Context, out chan<- events.Snapshot, snapshot events.Snapshot) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- snapshot:
		return true
	}
}
