package gidtoken

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

var impersonatedIDTokenSource = impersonate.IDTokenSource

// ImpersonationRequest describes an ID token minted through the IAM Credentials API
// on behalf of another service account.
type ImpersonationRequest struct {
	TargetPrincipal string
	Audience        string
	IncludeEmail    bool
	Delegates       []string
}

// IssueViaImpersonation asks the IAM Credentials API to mint an ID token for
// req.TargetPrincipal. The caller's own credentials come from opts, or from
// Application Default Credentials when opts is empty.
func (i *TokenIssuer) IssueViaImpersonation(ctx context.Context, req ImpersonationRequest, opts ...option.ClientOption) (*IdentityToken, error) {
	const op = "impersonate"

	switch {
	case strings.TrimSpace(req.TargetPrincipal) == "":
		return nil, newError(ErrCodeInvalidConfig, errors.New("target principal is required"))
	case strings.TrimSpace(req.Audience) == "":
		return nil, newError(ErrCodeInvalidConfig, errors.New("target audience is required"))
	}

	i.cfg.Logger.Debug("requesting impersonated identity",
		zap.String("target_principal", req.TargetPrincipal),
		zap.String("target_audience", req.Audience),
		zap.Strings("delegates", req.Delegates))

	ts, err := impersonatedIDTokenSource(ctx, impersonate.IDTokenConfig{
		Audience:        req.Audience,
		TargetPrincipal: req.TargetPrincipal,
		IncludeEmail:    req.IncludeEmail,
		Delegates:       append([]string(nil), req.Delegates...),
	}, opts...)
	if err != nil {
		return nil, i.remoteFailure(ErrCodeImpersonation, op, req.TargetPrincipal, err)
	}

	tok, err := ts.Token()
	if err != nil {
		return nil, i.remoteFailure(ErrCodeImpersonation, op, req.TargetPrincipal, fmt.Errorf("fetch token: %w", err))
	}
	if tok.AccessToken == "" {
		return nil, i.remoteFailure(ErrCodeImpersonation, op, req.TargetPrincipal, errors.New("empty token returned"))
	}

	identity, err := newIdentityToken(tok.AccessToken)
	if err != nil {
		return nil, withOp(err, op, req.TargetPrincipal)
	}
	return identity, nil
}
