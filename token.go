package gidtoken

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// IdentityToken is a signed ID token obtained from the token endpoint or the metadata server.
// Its fields are read from the payload without verifying the signature; use a Verifier
// on the receiving side.
type IdentityToken struct {
	raw       string
	audience  []string
	expiresAt time.Time
}

// newIdentityToken decodes raw, which must be a three-segment compact JWT.
func newIdentityToken(raw string) (*IdentityToken, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := parseCompact(raw)
	if err != nil {
		return nil, err
	}
	exp, ok := parsed.payload.Time("exp")
	if !ok {
		return nil, newError(ErrCodeMalformedToken, errors.New(`token has no numeric "exp" claim`))
	}
	return &IdentityToken{
		raw:       raw,
		audience:  parsed.payload.Audience(),
		expiresAt: exp,
	}, nil
}

// Raw returns the compact serialization.
func (t *IdentityToken) Raw() string {
	return t.raw
}

// String returns the compact serialization.
func (t *IdentityToken) String() string {
	return t.raw
}

// Audience returns the token's aud claim as a list.
func (t *IdentityToken) Audience() []string {
	return append([]string(nil), t.audience...)
}

// ExpiresAt returns the exp claim.
func (t *IdentityToken) ExpiresAt() time.Time {
	return t.expiresAt
}

// Expired reports whether the token is past its expiry at now.
func (t *IdentityToken) Expired(now time.Time) bool {
	return !now.Before(t.expiresAt)
}

// AuthorizationHeader returns the value for an Authorization header.
func (t *IdentityToken) AuthorizationHeader() string {
	return "Bearer " + t.raw
}

// SetAuthHeader sets the Authorization header on r.
func (t *IdentityToken) SetAuthHeader(r *http.Request) {
	r.Header.Set("Authorization", t.AuthorizationHeader())
}

// OAuth2Token adapts the ID token to an oauth2.Token so it can be used with oauth2.NewClient.
func (t *IdentityToken) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: t.raw,
		TokenType:   "Bearer",
		Expiry:      t.expiresAt,
	}
	return tok.WithExtra(map[string]any{"id_token": t.raw})
}
