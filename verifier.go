package gidtoken

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
)

// VerificationResult is the outcome of Verifier.Check.
type VerificationResult struct {
	Valid  bool
	Claims *Claims
	// Reason is set when Valid is false.
	Reason ErrorCode
	Err    error
}

// Verifier validates Google-signed ID tokens against a rotating public key set.
type Verifier struct {
	cfg     VerifierConfig
	keys    KeyResolver
	issuers map[string]struct{}
}

// NewVerifier builds a verifier that resolves signing keys through keys.
func NewVerifier(keys KeyResolver, cfg VerifierConfig) (*Verifier, error) {
	if keys == nil {
		return nil, newError(ErrCodeInvalidConfig, errors.New("key resolver is required"))
	}
	cfg.normalize()
	issuers := make(map[string]struct{}, len(cfg.Issuers))
	for _, iss := range cfg.Issuers {
		if iss != "" {
			issuers[iss] = struct{}{}
		}
	}
	return &Verifier{cfg: cfg, keys: keys, issuers: issuers}, nil
}

// Check verifies token and reports the outcome as a result rather than an error.
func (v *Verifier) Check(ctx context.Context, token, expectedAudience string) VerificationResult {
	claims, err := v.Verify(ctx, token, expectedAudience)
	if err != nil {
		reason := CodeOf(err)
		if reason == "" {
			reason = ErrCodeMalformedToken
		}
		return VerificationResult{Reason: reason, Err: err}
	}
	return VerificationResult{Valid: true, Claims: claims}
}

// Verify checks the token's structure, signature, expiry, issuer and audience,
// in that order, and returns its claims. Every failure carries an *Error.
func (v *Verifier) Verify(ctx context.Context, token, expectedAudience string) (*Claims, error) {
	parsed, err := parseCompact(token)
	if err != nil {
		return nil, withOp(err, "verify", "")
	}

	if alg, _ := parsed.header.String(jws.AlgorithmKey); alg != jwa.RS256.String() {
		return nil, newError(ErrCodeSignatureInvalid, fmt.Errorf("unsupported alg %q", alg))
	}
	kid, _ := parsed.header.String(jws.KeyIDKey)
	if kid == "" {
		return nil, newError(ErrCodeMalformedToken, errors.New("header has no kid"))
	}

	key, err := v.keys.Resolve(ctx, kid)
	if err != nil {
		return nil, withOp(err, "verify", "")
	}

	if err := verifySignature(parsed, key); err != nil {
		v.cfg.Logger.Debug("signature rejected", zap.String("kid", kid), zap.Error(err))
		return nil, err
	}

	tok, err := jwt.ParseInsecure([]byte(token))
	if err != nil {
		return nil, newError(ErrCodeMalformedToken, err)
	}
	if tok.Expiration().IsZero() {
		return nil, newError(ErrCodeMalformedToken, errors.New(`token has no "exp" claim`))
	}

	if err := jwt.Validate(tok,
		jwt.WithClock(jwt.ClockFunc(v.cfg.Now)),
		jwt.WithAcceptableSkew(v.cfg.ClockSkew),
	); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired()):
			return nil, newError(ErrCodeExpired, err)
		case errors.Is(err, jwt.ErrTokenNotYetValid()), errors.Is(err, jwt.ErrInvalidIssuedAt()):
			return nil, newError(ErrCodeNotYetValid, err)
		default:
			return nil, newError(ErrCodeMalformedToken, err)
		}
	}

	if len(v.issuers) > 0 {
		if _, ok := v.issuers[tok.Issuer()]; !ok {
			return nil, newError(ErrCodeInvalidIssuer, fmt.Errorf("issuer %q not accepted", tok.Issuer()))
		}
	}

	if !v.audienceMatches(tok.Audience(), expectedAudience) {
		return nil, newError(ErrCodeAudienceMismatch,
			fmt.Errorf("expected %q, token audience %q", expectedAudience, tok.Audience()))
	}

	return extractClaims(tok, kid), nil
}

func (v *Verifier) audienceMatches(audience []string, expected string) bool {
	if expected == "" {
		return false
	}
	for _, aud := range audience {
		if v.cfg.AudienceMatch(aud, expected) {
			return true
		}
	}
	return false
}

func verifySignature(parsed *compactToken, key SigningKey) error {
	if _, err := base64.RawURLEncoding.Strict().DecodeString(parsed.signature); err != nil {
		return newError(ErrCodeSignatureInvalid, fmt.Errorf("signature is not base64url: %w", err))
	}
	if _, err := jws.Verify([]byte(parsed.raw), jws.WithKey(jwa.RS256, key.PublicKey)); err != nil {
		return newError(ErrCodeSignatureInvalid, err)
	}
	return nil
}
