package gidtoken

import (
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claims represents the verified claims of a Google ID token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	KeyID     string

	Email           string
	EmailVerified   bool
	AuthorizedParty string
	CustomClaims    map[string]any
}

// AudienceMatcher reports whether tokenAudience, one entry of the token's aud
// claim, satisfies the audience the caller expects.
type AudienceMatcher func(tokenAudience, expected string) bool

// MatchExact requires the token audience to equal the expected audience.
func MatchExact(tokenAudience, expected string) bool {
	return tokenAudience == expected
}

// MatchPrefix accepts a token audience that starts with the expected audience.
func MatchPrefix(tokenAudience, expected string) bool {
	return strings.HasPrefix(tokenAudience, expected)
}

// MatchContains accepts a token audience that contains the expected audience.
func MatchContains(tokenAudience, expected string) bool {
	return strings.Contains(tokenAudience, expected)
}

func extractClaims(token jwt.Token, keyID string) *Claims {
	private := token.PrivateClaims()
	var audience []string
	if audList := token.Audience(); len(audList) > 0 {
		audience = append([]string(nil), audList...)
	}
	claims := &Claims{
		Subject:   token.Subject(),
		Issuer:    token.Issuer(),
		Audience:  audience,
		ExpiresAt: token.Expiration(),
		NotBefore: token.NotBefore(),
		IssuedAt:  token.IssuedAt(),
		KeyID:     keyID,
	}

	if v, ok := private["email"].(string); ok {
		claims.Email = strings.ToLower(v)
	}
	switch v := private["email_verified"].(type) {
	case bool:
		claims.EmailVerified = v
	case string:
		claims.EmailVerified = strings.EqualFold(v, "true")
	}
	if v, ok := private["azp"].(string); ok {
		claims.AuthorizedParty = v
	}
	if len(private) > 0 {
		claims.CustomClaims = make(map[string]any, len(private))
		for k, v := range private {
			claims.CustomClaims[k] = v
		}
	}
	return claims
}
