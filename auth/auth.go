// Package auth 負責將外部身分提供者簽發的憑證轉換為使用者身分
package auth

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"pedigree/apperror"
)

// Identity 是通過驗證的呼叫者
type Identity struct {
	UserID        string
	Email         string
	EmailVerified bool
}

// Authenticator 驗證 bearer token 並回傳身分
// 憑證缺少或無效時回傳 apperror.ErrUnauthenticated
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// Claims 是身分提供者簽發的 access token 內容
type Claims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator 驗證 Ed25519 簽章的 JWT
type JWTAuthenticator struct {
	key    ed25519.PublicKey
	parser *jwt.Parser
}

// NewJWTAuthenticator 建立 JWTAuthenticator，issuer 和 audience 為空時不檢查
func NewJWTAuthenticator(key ed25519.PublicKey, issuer, audience string) *JWTAuthenticator {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		options = append(options, jwt.WithAudience(audience))
	}
	return &JWTAuthenticator{
		key:    key,
		parser: jwt.NewParser(options...),
	}
}

// NewJWTAuthenticatorFromPEM 從 PEM 格式的公鑰建立 JWTAuthenticator
func NewJWTAuthenticatorFromPEM(pem []byte, issuer, audience string) (*JWTAuthenticator, error) {
	const op = "NewJWTAuthenticatorFromPEM"
	key, err := jwt.ParseEdPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public key, err=%w", op, err)
	}
	edKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("[%s] Public key is not ed25519", op)
	}
	return NewJWTAuthenticator(edKey, issuer, audience), nil
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperror.ErrUnauthenticated
	}
	claims := &Claims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return Identity{}, apperror.ErrUnauthenticated.Wrap(err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, apperror.ErrUnauthenticated
	}
	return Identity{
		UserID:        claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}
