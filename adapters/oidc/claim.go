// 參考https://auth0.com/docs/get-started/apis/scopes/openid-connect-scopes
package oidc

import "github.com/coreos/go-oidc/v3/oidc"

type Email struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type Profile struct {
	Name       string `json:"name"`
	FamilyName string `json:"family_name"`
	GivenName  string `json:"given_name"`
	Nickname   string `json:"nickname"`
}

// IDToken 是驗證過的 ID token 以及其中的 email / profile claim
// sub / iss / aud / exp 由 go-oidc 驗證，直接取用 Subject 等欄位即可
type IDToken struct {
	Email
	Profile

	Subject string
	Issuer  string

	internal *oidc.IDToken
}

func (i *IDToken) Claims(v any) error {
	return i.internal.Claims(v)
}
