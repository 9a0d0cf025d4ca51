package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedigree/auth"
	"pedigree/notify"
	"pedigree/verification"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// inbox 收集送出的通知，用來取得手機驗證碼
type inbox struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (i *inbox) Notify(_ context.Context, m notify.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.messages = append(i.messages, m)
	return nil
}

func (i *inbox) lastCode(userID string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	for j := len(i.messages) - 1; j >= 0; j-- {
		m := i.messages[j]
		if m.UserID == userID && m.Kind == notify.KindPhoneVerificationCode {
			return m.Payload["code"].(string)
		}
	}
	return ""
}

func (i *inbox) kinds(userID string) []notify.Kind {
	i.mu.Lock()
	defer i.mu.Unlock()
	var kinds []notify.Kind
	for _, m := range i.messages {
		if m.UserID == userID {
			kinds = append(kinds, m.Kind)
		}
	}
	return kinds
}

type testServer struct {
	server *Server
	key    ed25519.PrivateKey
	inbox  *inbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	box := &inbox{}
	server, err := NewServer(ServerConfig{
		ID: "test",
		Auth: AuthConfig{
			PublicKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
			Issuer:       "https://id.example.com",
			Audience:     "pedigree",
		},
		Verification: VerificationConfig{
			Admins: []string{"admin"},
			Limit:  verification.LimitPolicy{Cooldown: time.Minute, Window: time.Hour, MaxInWindow: 5, Block: time.Hour},
		},
	}, WithLogger(discardLogger), WithNotifier(box))
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Close(context.Background()) })
	return &testServer{server: server, key: priv, inbox: box}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	claims := auth.Claims{
		Email:         userID + "@example.com",
		EmailVerified: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    "https://id.example.com",
			Audience:  []string{"pedigree"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(ts.key)
	require.NoError(t, err)
	return token
}

// do 送出請求，userID 為空時不帶 token
func (ts *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, userID))
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// verify 完成個人資料與手機驗證
func (ts *testServer) verify(t *testing.T, userID string) {
	t.Helper()
	w := ts.do(t, http.MethodPut, "/me/profile", userID, verification.ProfileFields{
		FirstName:   "Ola",
		LastName:    "Nowak",
		Address:     "ul. Kwiatowa 3",
		City:        "Poznań",
		PostalCode:  "60-001",
		PhoneNumber: "+48700000000",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/me/phone/verification", userID, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	w = ts.do(t, http.MethodPost, "/me/phone/verify", userID, VerifyPhoneRequest{Code: ts.inbox.lastCode(userID)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.True(t, decode[verification.Capabilities](t, w).CanBid)
}

func (ts *testServer) openAuction(t *testing.T, req CreateAuctionRequest) AuctionResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/auctions", "seller", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[AuctionResponse](t, w)
	assert.Equal(t, "/auctions/"+created.ID.String(), w.Header().Get("Location"))

	w = ts.do(t, http.MethodPost, "/auctions/"+created.ID.String()+"/approve", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[AuctionResponse](t, w)
}

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNewServer_RequiresAuthenticator(t *testing.T) {
	_, err := NewServer(ServerConfig{}, WithLogger(discardLogger))
	assert.ErrorContains(t, err, "either OIDC issuer or JWT public key is required")
}
