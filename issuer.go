package gidtoken

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const maxResponseBodySize = 1 << 20

// TokenIssuer obtains Google-signed ID tokens, either by exchanging a self-signed
// assertion at the token endpoint or by asking the local metadata server.
type TokenIssuer struct {
	cfg IssuerConfig
}

// NewTokenIssuer builds a TokenIssuer.
func NewTokenIssuer(cfg IssuerConfig) (*TokenIssuer, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrCodeInvalidConfig, err)
	}
	return &TokenIssuer{cfg: cfg}, nil
}

// AssertionClaims returns the claim set of the JWT-bearer assertion for identity.
func (i *TokenIssuer) AssertionClaims(identity ServiceIdentity, targetAudience string) ClaimSet {
	now := i.cfg.Now().Unix()
	return ClaimSet{
		"iss":             identity.Email,
		"sub":             identity.Email,
		"aud":             i.cfg.TokenURL,
		"iat":             now,
		"exp":             now + int64(i.cfg.Lifetime.Seconds()),
		"target_audience": targetAudience,
	}
}

// IssueViaExchange signs an assertion for identity and exchanges it for an ID
// token whose audience is targetAudience.
func (i *TokenIssuer) IssueViaExchange(ctx context.Context, identity ServiceIdentity, targetAudience string) (*IdentityToken, error) {
	const op = "token exchange"

	if strings.TrimSpace(targetAudience) == "" {
		return nil, newError(ErrCodeInvalidConfig, errors.New("target audience is required"))
	}
	if err := identity.validate(); err != nil {
		return nil, err
	}

	assertion, err := SignAssertion(identity, i.AssertionClaims(identity, targetAudience))
	if err != nil {
		return nil, withOp(err, op, "")
	}

	form := url.Values{
		"grant_type": {jwtBearerGrantType},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, i.remoteFailure(ErrCodeTokenExchange, op, i.cfg.TokenURL, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	i.cfg.Logger.Debug("exchanging assertion",
		zap.String("endpoint", i.cfg.TokenURL),
		zap.String("client_email", identity.Email),
		zap.String("target_audience", targetAudience))

	status, body, err := i.do(req)
	if err != nil {
		return nil, i.remoteFailure(ErrCodeTokenExchange, op, i.cfg.TokenURL, err)
	}
	if status != http.StatusOK {
		return nil, newRemoteError(ErrCodeTokenExchange, op, i.cfg.TokenURL, status, body)
	}

	var resp struct {
		IDToken string `json:"id_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, i.remoteFailure(ErrCodeTokenExchange, op, i.cfg.TokenURL, fmt.Errorf("decode response: %w", err))
	}
	if resp.IDToken == "" {
		return nil, i.remoteFailure(ErrCodeTokenExchange, op, i.cfg.TokenURL, errors.New(`response has no "id_token"`))
	}

	tok, err := newIdentityToken(resp.IDToken)
	if err != nil {
		return nil, withOp(err, op, i.cfg.TokenURL)
	}
	return tok, nil
}

// IssueViaMetadata fetches an ID token for targetAudience from the metadata server.
func (i *TokenIssuer) IssueViaMetadata(ctx context.Context, targetAudience string) (*IdentityToken, error) {
	const op = "metadata identity"

	if strings.TrimSpace(targetAudience) == "" {
		return nil, newError(ErrCodeInvalidConfig, errors.New("target audience is required"))
	}

	endpoint, err := url.Parse(i.cfg.MetadataURL)
	if err != nil {
		return nil, i.remoteFailure(ErrCodeMetadataFetch, op, i.cfg.MetadataURL, err)
	}
	query := endpoint.Query()
	query.Set("audience", targetAudience)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, i.remoteFailure(ErrCodeMetadataFetch, op, i.cfg.MetadataURL, err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	i.cfg.Logger.Debug("requesting identity from metadata server",
		zap.String("endpoint", i.cfg.MetadataURL),
		zap.String("target_audience", targetAudience))

	status, body, err := i.do(req)
	if err != nil {
		return nil, i.remoteFailure(ErrCodeMetadataFetch, op, i.cfg.MetadataURL, err)
	}
	if status != http.StatusOK {
		return nil, newRemoteError(ErrCodeMetadataFetch, op, i.cfg.MetadataURL, status, body)
	}

	tok, err := newIdentityToken(string(body))
	if err != nil {
		return nil, withOp(err, op, i.cfg.MetadataURL)
	}
	return tok, nil
}

func (i *TokenIssuer) do(req *http.Request) (int, []byte, error) {
	resp, err := i.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (i *TokenIssuer) remoteFailure(code ErrorCode, op, endpoint string, err error) error {
	i.cfg.Logger.Debug("identity token request failed",
		zap.String("op", op), zap.String("endpoint", endpoint), zap.Error(err))
	e := newError(code, err)
	e.Op = op
	e.Endpoint = endpoint
	return e
}
