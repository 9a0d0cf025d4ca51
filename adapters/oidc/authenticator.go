package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"pedigree/apperror"
	"pedigree/auth"
)

// Authenticator 以身分提供者簽發的 ID token 作為 bearer token
type Authenticator struct {
	verifier *oidc.IDTokenVerifier
}

var _ auth.Authenticator = (*Authenticator)(nil)

// NewAuthenticator 透過 discovery 取得 issuer 的公鑰，audience 必須是 clientID
func NewAuthenticator(ctx context.Context, issuerURL, clientID string) (*Authenticator, error) {
	const op = "NewAuthenticator"
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create provider, err=%w", op, err)
	}
	return NewAuthenticatorWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

func NewAuthenticatorWithVerifier(verifier *oidc.IDTokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// Verify 驗證 ID token 並解析 claim
func (a *Authenticator) Verify(ctx context.Context, rawIDToken string) (*IDToken, error) {
	const op = "Verify"
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[%s] err=%w", op, err)
	}
	token := &IDToken{
		Subject:  idToken.Subject,
		Issuer:   idToken.Issuer,
		internal: idToken,
	}
	if err := idToken.Claims(&token.Email); err != nil {
		return nil, fmt.Errorf("[%s] Failed to parse email claims, err=%w", op, err)
	}
	if err := idToken.Claims(&token.Profile); err != nil {
		return nil, fmt.Errorf("[%s] Failed to parse profile claims, err=%w", op, err)
	}
	return token, nil
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, apperror.ErrUnauthenticated
	}
	idToken, err := a.Verify(ctx, token)
	if err != nil {
		return auth.Identity{}, apperror.ErrUnauthenticated.Wrap(err)
	}
	if idToken.Subject == "" {
		return auth.Identity{}, apperror.ErrUnauthenticated
	}
	return auth.Identity{
		UserID:        idToken.Subject,
		Email:         idToken.Email.Email,
		EmailVerified: idToken.EmailVerified,
	}, nil
}
