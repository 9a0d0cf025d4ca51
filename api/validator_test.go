package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedigree/apperror"
)

func TestLoadAPIDocument_CoversRoutes(t *testing.T) {
	doc, err := LoadAPIDocument(context.Background())
	require.NoError(t, err)
	_, err = NewRequestValidator(doc)
	require.NoError(t, err)

	ts := newTestServer(t)
	for _, route := range ts.server.Handler().(*gin.Engine).Routes() {
		if route.Path == "/metrics" {
			continue
		}
		path := strings.ReplaceAll(route.Path, ":id", "{id}")
		item := doc.Paths.Find(path)
		if assert.NotNil(t, item, "missing path %s", path) {
			assert.NotNil(t, item.GetOperation(route.Method), "missing operation %s %s", route.Method, path)
		}
	}
}

func TestRequestValidator_RejectsSchemaMismatch(t *testing.T) {
	ts := newTestServer(t)
	bids := "/auctions/" + uuid.NewString() + "/bids"

	// 格式錯誤在查詢拍賣之前就被擋下
	w := ts.do(t, http.MethodPost, bids, "bob", map[string]any{"amount": "150"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, apperror.CodeInvalidInput, resp.Code)
	assert.Equal(t, "amount", resp.Details["field"])
	assert.NotEmpty(t, resp.Details["reason"])

	w = ts.do(t, http.MethodPost, bids, "bob", map[string]any{"expectedPrice": 100})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPut, "/users/alice/disabled", "admin", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeInvalidInput, decode[ErrorResponse](t, w).Code)

	// 未登入時先回 401
	w = ts.do(t, http.MethodPost, bids, "", map[string]any{"amount": "150"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 格式正確時交給 handler，bob 尚未完成驗證
	w = ts.do(t, http.MethodPost, bids, "bob", PlaceBidRequest{Amount: 150})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperror.CodeNotVerified, decode[ErrorResponse](t, w).Code)
}
