package api

import (
	"bufio"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedigree/apperror"
	"pedigree/events"
	"pedigree/lifecycle"
	"pedigree/models"
	"pedigree/notify"
	"pedigree/verification"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperror.ErrUnauthenticated, http.StatusUnauthorized},
		{apperror.ErrNotVerified, http.StatusForbidden},
		{apperror.ErrSelfBidForbidden, http.StatusForbidden},
		{apperror.ErrAuctionNotBiddable, http.StatusConflict},
		{apperror.ErrBidTooLow.WithDetail("currentPrice", 100), http.StatusBadRequest},
		{apperror.ErrAuctionNotFound, http.StatusNotFound},
		{apperror.ErrPriceChanged, http.StatusConflict},
		{apperror.ErrBusy, http.StatusServiceUnavailable},
		{apperror.ErrTooManyRequests, http.StatusTooManyRequests},
		{apperror.Internal("op", assert.AnError), http.StatusInternalServerError},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestHandlers_Unauthenticated(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/auctions", "", CreateAuctionRequest{Title: "Sphynx"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperror.CodeUnauthenticated, decode[ErrorResponse](t, w).Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_Verification(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/me", "breeder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[UserResponse](t, w)
	assert.Equal(t, models.RoleUser, me.Role)
	assert.True(t, me.EmailVerified)
	assert.False(t, me.Capabilities.CanCreateAuction)

	// 未完成驗證不能建立拍賣
	w = ts.do(t, http.MethodPost, "/auctions", "breeder", CreateAuctionRequest{Title: "Sphynx"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperror.CodeNotVerified, decode[ErrorResponse](t, w).Code)

	ts.verify(t, "breeder")
	w = ts.do(t, http.MethodGet, "/me/capabilities", "breeder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, verification.Capabilities{CanCreateAuction: true, CanBid: true, CanAddReference: true, CanAddPhoto: true},
		decode[verification.Capabilities](t, w))

	// 冷卻時間內再次請求驗證碼
	w = ts.do(t, http.MethodPost, "/me/phone/verification", "breeder", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = ts.do(t, http.MethodPost, "/me/phone/verify", "breeder", VerifyPhoneRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_AuctionScenario(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range []string{"seller", "alice", "bob"} {
		ts.verify(t, id)
	}

	auction := ts.openAuction(t, CreateAuctionRequest{
		Title:           "Ragdoll kitten",
		Description:     `<p>Healthy</p><script>alert("x")</script>`,
		StartingPrice:   lo.ToPtr[int64](50),
		DurationSeconds: 3600,
	})
	assert.Equal(t, models.AuctionStatusActive, auction.Status)
	assert.True(t, auction.IsApproved)
	assert.Equal(t, "<p>Healthy</p>", auction.Description)
	path := "/auctions/" + auction.ID.String()

	w := ts.do(t, http.MethodPost, path+"/approve", "admin", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeAlreadyApproved, decode[ErrorResponse](t, w).Code)

	for _, bid := range []struct {
		bidder string
		amount int64
	}{{"alice", 100}, {"bob", 120}, {"alice", 150}} {
		w := ts.do(t, http.MethodPost, path+"/bids", bid.bidder, PlaceBidRequest{Amount: bid.amount})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		receipt := decode[BidReceiptResponse](t, w)
		assert.Equal(t, bid.amount, receipt.CurrentPrice)
		assert.True(t, receipt.Bid.IsWinning)
	}

	w = ts.do(t, http.MethodPost, path+"/bids", "bob", PlaceBidRequest{Amount: 140})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	tooLow := decode[ErrorResponse](t, w)
	assert.Equal(t, apperror.CodeBidTooLow, tooLow.Code)
	assert.EqualValues(t, 150, tooLow.Details["currentPrice"])

	w = ts.do(t, http.MethodPost, path+"/bids", "bob", PlaceBidRequest{Amount: 200, ExpectedPrice: lo.ToPtr[int64](120)})
	assert.Equal(t, http.StatusConflict, w.Code)
	stale := decode[ErrorResponse](t, w)
	assert.Equal(t, apperror.CodePriceChanged, stale.Code)
	assert.True(t, stale.Retryable)

	w = ts.do(t, http.MethodPost, path+"/bids", "seller", PlaceBidRequest{Amount: 500})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodGet, path+"/bids", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	bids := decode[[]BidResponse](t, w)
	require.Len(t, bids, 3)
	assert.Equal(t, []bool{false, false, true}, lo.Map(bids, func(b BidResponse, _ int) bool { return b.IsWinning }))

	w = ts.do(t, http.MethodGet, path+"/winning", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode[BidResponse](t, w).BidderID)

	w = ts.do(t, http.MethodPost, path+"/close", "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, path+"/close", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	closed := decode[CloseResponse](t, w)
	assert.True(t, closed.Changed)
	assert.Equal(t, models.AuctionStatusSold, closed.Auction.Status)
	require.NotNil(t, closed.WinningBid)
	assert.EqualValues(t, 150, closed.WinningBid.Amount)

	w = ts.do(t, http.MethodPost, path+"/bids", "bob", PlaceBidRequest{Amount: 300})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeAuctionNotBiddable, decode[ErrorResponse](t, w).Code)

	w = ts.do(t, http.MethodGet, path+"/history", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]AuditEntryResponse](t, w)
	assert.Equal(t, []models.AuctionStatus{models.AuctionStatusPending, models.AuctionStatusActive, models.AuctionStatusSold},
		lo.Map(history, func(e AuditEntryResponse, _ int) models.AuctionStatus { return e.ToStatus }))

	// 事件在背景處理
	assert.Eventually(t, func() bool {
		return lo.Contains(ts.inbox.kinds("seller"), notify.KindAuctionSold) &&
			lo.Contains(ts.inbox.kinds("alice"), notify.KindAuctionWon) &&
			lo.Contains(ts.inbox.kinds("bob"), notify.KindOutbid)
	}, time.Second, 10*time.Millisecond)
}

func TestHandlers_RejectAndCloseExpired(t *testing.T) {
	ts := newTestServer(t)
	ts.verify(t, "seller")

	w := ts.do(t, http.MethodPost, "/auctions", "seller", CreateAuctionRequest{Title: "Maine Coon"})
	require.Equal(t, http.StatusCreated, w.Code)
	pending := decode[AuctionResponse](t, w)
	assert.Equal(t, models.AuctionStatusPending, pending.Status)

	w = ts.do(t, http.MethodPost, "/auctions/"+pending.ID.String()+"/reject", "admin", RejectAuctionRequest{Note: "missing pedigree papers"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.AuctionStatusEnded, decode[AuctionResponse](t, w).Status)

	w = ts.do(t, http.MethodPost, "/auctions/close-expired", "seller", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(t, http.MethodPost, "/auctions/close-expired", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[lifecycle.SweepResult](t, w).Closed())

	w = ts.do(t, http.MethodPost, "/auctions", "seller", CreateAuctionRequest{Title: "Maine Coon", DurationSeconds: math.MaxInt64})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	tooLong := decode[ErrorResponse](t, w)
	assert.Equal(t, apperror.CodeInvalidInput, tooLong.Code)
	assert.EqualValues(t, int64(lifecycle.DefaultMaxDuration/time.Second), tooLong.Details["maxDurationSeconds"])

	w = ts.do(t, http.MethodGet, "/auctions/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(t, http.MethodGet, "/auctions/"+uuid.Must(uuid.NewV7()).String(), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperror.CodeAuctionNotFound, decode[ErrorResponse](t, w).Code)
}

func TestHandlers_SetDisabled(t *testing.T) {
	ts := newTestServer(t)
	ts.verify(t, "alice")

	w := ts.do(t, http.MethodPut, "/users/alice/disabled", "alice", SetDisabledRequest{Disabled: true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPut, "/users/alice/disabled", "admin", SetDisabledRequest{Disabled: true})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/me/capabilities", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[verification.Capabilities](t, w).CanBid)
}

func TestHandlers_StreamEvents(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range []string{"seller", "alice"} {
		ts.verify(t, id)
	}
	auction := ts.openAuction(t, CreateAuctionRequest{Title: "Bengal", StartingPrice: lo.ToPtr[int64](10)})

	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/auctions/" + auction.ID.String() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	snapshots := make(chan events.Snapshot, 4)
	go func() {
		defer close(snapshots)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			var s events.Snapshot
			if json.Unmarshal([]byte(data), &s) == nil {
				snapshots <- s
			}
		}
	}()

	first := <-snapshots
	assert.EqualValues(t, 10, first.CurrentPrice)

	w := ts.do(t, http.MethodPost, "/auctions/"+auction.ID.String()+"/bids", "alice", PlaceBidRequest{Amount: 25})
	require.Equal(t, http.StatusCreated, w.Code)
	w = ts.do(t, http.MethodPost, "/auctions/"+auction.ID.String()+"/close", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var last events.Snapshot
	for s := range snapshots {
		last = s
	}
	assert.True(t, last.Final, "拍賣結束後串流會被關閉")
	assert.Equal(t, models.AuctionStatusSold, last.Status)
	assert.EqualValues(t, 25, last.CurrentPrice)
}
