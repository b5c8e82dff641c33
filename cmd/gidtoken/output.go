package main

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/bionicotaku/lingo-utils-gidtoken"
)

type tokenOutput struct {
	IDToken   string    `json:"id_token"`
	Audience  []string  `json:"audience"`
	ExpiresAt time.Time `json:"expires_at"`
}

func printToken(w io.Writer, tok *gidtoken.IdentityToken, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(w, tok.Raw())
		return err
	}
	return writeJSON(w, tokenOutput{
		IDToken:   tok.Raw(),
		Audience:  tok.Audience(),
		ExpiresAt: tok.ExpiresAt().UTC(),
	})
}

type claimsOutput struct {
	Subject         string         `json:"sub"`
	Issuer          string         `json:"iss"`
	Audience        []string       `json:"aud"`
	Email           string         `json:"email,omitempty"`
	EmailVerified   bool           `json:"email_verified"`
	AuthorizedParty string         `json:"azp,omitempty"`
	KeyID           string         `json:"kid"`
	IssuedAt        *time.Time     `json:"iat,omitempty"`
	NotBefore       *time.Time     `json:"nbf,omitempty"`
	ExpiresAt       time.Time      `json:"exp"`
	CustomClaims    map[string]any `json:"custom_claims,omitempty"`
}

func printClaims(w io.Writer, claims *gidtoken.Claims) error {
	out := claimsOutput{
		Subject:         claims.Subject,
		Issuer:          claims.Issuer,
		Audience:        claims.Audience,
		Email:           claims.Email,
		EmailVerified:   claims.EmailVerified,
		AuthorizedParty: claims.AuthorizedParty,
		KeyID:           claims.KeyID,
		IssuedAt:        optionalTime(claims.IssuedAt),
		NotBefore:       optionalTime(claims.NotBefore),
		ExpiresAt:       claims.ExpiresAt.UTC(),
		CustomClaims:    claims.CustomClaims,
	}
	return writeJSON(w, out)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
