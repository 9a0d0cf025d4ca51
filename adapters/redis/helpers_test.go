package redis

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// setupMock 回傳 redismock 客戶端，結束時檢查所有預期都有被呼叫
func setupMock(t *testing.T) (*redis.Client, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

// setupMiniredis 啟動 miniredis 並回傳連到它的客戶端
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

type bidPlaced struct {
	AuctionID uuid.UUID `msgpack:"auctionId"`
	BidderID  string    `msgpack:"bidderId"`
	Amount    int64     `msgpack:"amount"`
	PlacedAt  time.Time `msgpack:"placedAt"`
}

func newBidPlaced(amount int64) bidPlaced {
	return bidPlaced{
		AuctionID: uuid.Must(uuid.NewV7()),
		BidderID:  "bidder",
		Amount:    amount,
		PlacedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

func receive[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return v
	case <-time.After(timeout):
		t.Fatal("timed out waiting for message")
	}
	var zero T
	return zero
}
