package gidtoken

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

func stubImpersonation(t *testing.T, fn func(context.Context, impersonate.IDTokenConfig, ...option.ClientOption) (oauth2.TokenSource, error)) {
	t.Helper()
	orig := impersonatedIDTokenSource
	impersonatedIDTokenSource = fn
	t.Cleanup(func() { impersonatedIDTokenSource = orig })
}

type failingTokenSource struct{ err error }

func (f failingTokenSource) Token() (*oauth2.Token, error) { return nil, f.err }

func TestIssueViaImpersonation(t *testing.T) {
	const target = "runner@project.iam.gserviceaccount.com"
	raw := signWith(t, testKey(t), "google-1", idTokenClaims(testAudience))

	var got impersonate.IDTokenConfig
	stubImpersonation(t, func(_ context.Context, cfg impersonate.IDTokenConfig, _ ...option.ClientOption) (oauth2.TokenSource, error) {
		got = cfg
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: raw}), nil
	})

	issuer := newTestIssuer(t, IssuerConfig{})
	tok, err := issuer.IssueViaImpersonation(context.Background(), ImpersonationRequest{
		TargetPrincipal: target,
		Audience:        testAudience,
		IncludeEmail:    true,
		Delegates:       []string{"hop@project.iam.gserviceaccount.com"},
	})
	require.NoError(t, err)
	require.Equal(t, raw, tok.Raw())
	require.Equal(t, []string{testAudience}, tok.Audience())

	require.Equal(t, target, got.TargetPrincipal)
	require.Equal(t, testAudience, got.Audience)
	require.True(t, got.IncludeEmail)
	require.Equal(t, []string{"hop@project.iam.gserviceaccount.com"}, got.Delegates)
}

func TestIssueViaImpersonationFailures(t *testing.T) {
	issuer := newTestIssuer(t, IssuerConfig{})
	ctx := context.Background()
	req := ImpersonationRequest{TargetPrincipal: "runner@project.iam.gserviceaccount.com", Audience: testAudience}

	t.Run("missing fields", func(t *testing.T) {
		_, err := issuer.IssueViaImpersonation(ctx, ImpersonationRequest{Audience: testAudience})
		requireCode(t, err, ErrCodeInvalidConfig)
		_, err = issuer.IssueViaImpersonation(ctx, ImpersonationRequest{TargetPrincipal: req.TargetPrincipal})
		requireCode(t, err, ErrCodeInvalidConfig)
	})

	t.Run("no credentials", func(t *testing.T) {
		stubImpersonation(t, func(context.Context, impersonate.IDTokenConfig, ...option.ClientOption) (oauth2.TokenSource, error) {
			return nil, errors.New("could not find default credentials")
		})
		_, err := issuer.IssueViaImpersonation(ctx, req)
		e := requireCode(t, err, ErrCodeImpersonation)
		require.Equal(t, req.TargetPrincipal, e.Endpoint)
	})

	t.Run("permission denied", func(t *testing.T) {
		stubImpersonation(t, func(context.Context, impersonate.IDTokenConfig, ...option.ClientOption) (oauth2.TokenSource, error) {
			return failingTokenSource{err: errors.New("iam: 403 PERMISSION_DENIED")}, nil
		})
		_, err := issuer.IssueViaImpersonation(ctx, req)
		e := requireCode(t, err, ErrCodeImpersonation)
		require.Contains(t, e.Error(), "PERMISSION_DENIED")
	})

	t.Run("malformed token", func(t *testing.T) {
		stubImpersonation(t, func(context.Context, impersonate.IDTokenConfig, ...option.ClientOption) (oauth2.TokenSource, error) {
			return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "a.b"}), nil
		})
		_, err := issuer.IssueViaImpersonation(ctx, req)
		e := requireCode(t, err, ErrCodeMalformedToken)
		require.Equal(t, "impersonate", e.Op)
	})
}
