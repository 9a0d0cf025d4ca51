package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedigree/apperror"
)

func sign(t *testing.T, key ed25519.PrivateKey, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() Claims {
	return Claims{
		Email:         "breeder@example.com",
		EmailVerified: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "https://id.example.com",
			Audience:  []string{"pedigree"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestJWTAuthenticator_Authenticate(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	authenticator := NewJWTAuthenticator(pub, "https://id.example.com", "pedigree")
	ctx := context.Background()

	identity, err := authenticator.Authenticate(ctx, sign(t, priv, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "user-1", Email: "breeder@example.com", EmailVerified: true}, identity)

	t.Run("empty token", func(t *testing.T) {
		_, err := authenticator.Authenticate(ctx, "")
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	})

	t.Run("expired", func(t *testing.T) {
		claims := validClaims()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := authenticator.Authenticate(ctx, sign(t, priv, claims))
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := validClaims()
		claims.Audience = []string{"other"}
		_, err := authenticator.Authenticate(ctx, sign(t, priv, claims))
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	})

	t.Run("missing subject", func(t *testing.T) {
		claims := validClaims()
		claims.Subject = ""
		_, err := authenticator.Authenticate(ctx, sign(t, priv, claims))
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	})

	t.Run("foreign key", func(t *testing.T) {
		_, other, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		_, err = authenticator.Authenticate(ctx, sign(t, other, validClaims()))
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	})
}

func TestNewJWTAuthenticatorFromPEM(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	authenticator, err := NewJWTAuthenticatorFromPEM(block, "", "")
	require.NoError(t, err)
	identity, err := authenticator.Authenticate(context.Background(), sign(t, priv, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)

	_, err = NewJWTAuthenticatorFromPEM([]byte("not a key"), "", "")
	assert.Error(t, err)
}
