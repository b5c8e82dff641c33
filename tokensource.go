package gidtoken

import (
	"context"

	"golang.org/x/oauth2"
)

type issueFunc func(context.Context) (*IdentityToken, error)

type identityTokenSource struct {
	ctx   context.Context
	issue issueFunc
}

func (s *identityTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.issue(s.ctx)
	if err != nil {
		return nil, err
	}
	return tok.OAuth2Token(), nil
}

// ExchangeTokenSource returns an oauth2.TokenSource that calls IssueViaExchange on every Token call.
// Wrap it with oauth2.ReuseTokenSource to reuse tokens until they expire.
//
// ctx is kept for future Token calls; its cancellation is ignored so a source
// built from a request context keeps working after that request ends.
func (i *TokenIssuer) ExchangeTokenSource(ctx context.Context, identity ServiceIdentity, targetAudience string) oauth2.TokenSource {
	return &identityTokenSource{
		ctx: detach(ctx),
		issue: func(ctx context.Context) (*IdentityToken, error) {
			return i.IssueViaExchange(ctx, identity, targetAudience)
		},
	}
}

// MetadataTokenSource returns an oauth2.TokenSource backed by IssueViaMetadata.
func (i *TokenIssuer) MetadataTokenSource(ctx context.Context, targetAudience string) oauth2.TokenSource {
	return &identityTokenSource{
		ctx: detach(ctx),
		issue: func(ctx context.Context) (*IdentityToken, error) {
			return i.IssueViaMetadata(ctx, targetAudience)
		},
	}
}

func detach(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
