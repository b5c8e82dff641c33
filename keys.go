package gidtoken

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pquerna/cachecontrol/cacheobject"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	maxJWKSBodySize = 1 << 20
	fetchKeySetOp   = "fetch key set"
)

// SigningKey is a public key published by the token issuer.
type SigningKey struct {
	KeyID     string
	Algorithm string
	PublicKey *rsa.PublicKey
}

// KeyResolver resolves a key ID to the public key that verifies it.
type KeyResolver interface {
	Resolve(ctx context.Context, keyID string) (SigningKey, error)
}

// KeySource caches the issuer's JWK set and refreshes it on expiry or on an unknown key ID.
// Reads of a fresh cache take only a read lock; refreshes are collapsed so that
// concurrent callers observing the same generation share a single fetch.
type KeySource struct {
	cfg   KeySourceConfig
	group singleflight.Group

	mu         sync.RWMutex
	keys       map[string]SigningKey
	expires    time.Time
	generation uint64
}

// NewKeySource builds a KeySource. No network call is made until the first Resolve or Refresh.
func NewKeySource(cfg KeySourceConfig) (*KeySource, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, newError(ErrCodeInvalidConfig, err)
	}
	return &KeySource{cfg: cfg}, nil
}

// Resolve returns the key with the given ID. A miss, or an expired cache,
// triggers exactly one refresh of the full key set before giving up.
//
// Refreshes forced by unknown key IDs are not throttled by MinTTL: every token
// carrying a kid the issuer never published costs one fetch. Rate-limit
// untrusted input in front of Verify.
//
// When ctx ends before a refresh completes, Resolve returns a key_fetch_failed
// error wrapping ctx.Err(); the fetch keeps running for other waiters.
func (s *KeySource) Resolve(ctx context.Context, keyID string) (SigningKey, error) {
	key, found, fresh, gen := s.lookup(keyID)
	if found && fresh {
		return key, nil
	}
	if fresh {
		s.cfg.Logger.Debug("key id not in cached set, refreshing",
			zap.String("kid", keyID), zap.Uint64("generation", gen))
	}

	if err := s.refresh(ctx, gen); err != nil {
		return SigningKey{}, err
	}

	key, found, _, _ = s.lookup(keyID)
	if !found {
		e := newError(ErrCodeKeyNotFound, fmt.Errorf("kid %q", keyID))
		e.Endpoint = s.cfg.JWKSURL
		return SigningKey{}, e
	}
	return key, nil
}

// Refresh forces a fetch of the key set. It is useful to warm the cache at startup.
func (s *KeySource) Refresh(ctx context.Context) error {
	_, _, _, gen := s.lookup("")
	return s.refresh(ctx, gen)
}

// Keys returns a copy of the currently cached key set, regardless of freshness.
func (s *KeySource) Keys() []SigningKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SigningKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out
}

func (s *KeySource) lookup(keyID string) (key SigningKey, found, fresh bool, gen uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, found = s.keys[keyID]
	fresh = s.keys != nil && s.cfg.Now().Before(s.expires)
	return key, found, fresh, s.generation
}

// refresh replaces the key set observed at generation gen. Callers that saw the
// same generation join the in-flight fetch; callers arriving after it completed
// see a newer generation and return without fetching again.
//
// The fetch itself is detached from ctx so that one caller giving up does not
// fail the others sharing it, but each caller stops waiting when its own ctx ends.
func (s *KeySource) refresh(ctx context.Context, gen uint64) error {
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		s.mu.RLock()
		current := s.generation
		s.mu.RUnlock()
		if current != gen {
			return nil, nil
		}

		keys, ttl, err := s.fetch(fetchCtx)
		if err != nil {
			s.cfg.Logger.Debug("key set fetch failed", zap.String("url", s.cfg.JWKSURL), zap.Error(err))
			return nil, err
		}

		s.mu.Lock()
		s.keys = keys
		s.expires = s.cfg.Now().Add(ttl)
		s.generation++
		next := s.generation
		s.mu.Unlock()

		s.cfg.Logger.Debug("key set refreshed",
			zap.String("url", s.cfg.JWKSURL),
			zap.Int("keys", len(keys)),
			zap.Duration("ttl", ttl),
			zap.Uint64("generation", next))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		s.cfg.Logger.Debug("gave up waiting for key set", zap.String("url", s.cfg.JWKSURL), zap.Error(ctx.Err()))
		return s.fetchError(fetchKeySetOp, ctx.Err())
	}
}

func (s *KeySource) fetch(ctx context.Context) (map[string]SigningKey, time.Duration, error) {
	const op = fetchKeySetOp

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.JWKSURL, nil)
	if err != nil {
		return nil, 0, s.fetchError(op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, s.fetchError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodySize))
	if err != nil {
		return nil, 0, s.fetchError(op, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, newRemoteError(ErrCodeKeyFetch, op, s.cfg.JWKSURL, resp.StatusCode, body)
	}

	set, err := jwk.Parse(body, jwk.WithIgnoreParseError(true))
	if err != nil {
		return nil, 0, s.fetchError(op, fmt.Errorf("parse jwks: %w", err))
	}

	keys := make(map[string]SigningKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		k, ok := set.Key(i)
		if !ok {
			continue
		}
		signingKey, err := toSigningKey(k)
		if err != nil {
			s.cfg.Logger.Warn("skipping unusable jwk", zap.String("kid", k.KeyID()), zap.Error(err))
			continue
		}
		keys[signingKey.KeyID] = signingKey
	}
	if len(keys) == 0 {
		return nil, 0, s.fetchError(op, errors.New("jwks contains no usable RSA keys"))
	}

	return keys, s.ttl(resp.Header.Get("Cache-Control")), nil
}

func (s *KeySource) fetchError(op string, err error) error {
	e := newError(ErrCodeKeyFetch, err)
	e.Op = op
	e.Endpoint = s.cfg.JWKSURL
	return e
}

// ttl derives the cache lifetime from a Cache-Control header, clamped to [MinTTL, MaxTTL].
func (s *KeySource) ttl(header string) time.Duration {
	ttl := s.cfg.DefaultTTL
	if header != "" {
		parsed, err := cacheobject.ParseResponseCacheControl(header)
		switch {
		case err != nil:
		case parsed.NoCachePresent || parsed.NoStore:
			ttl = s.cfg.MinTTL
		case parsed.MaxAge >= 0:
			ttl = time.Duration(parsed.MaxAge) * time.Second
		}
	}
	if ttl < s.cfg.MinTTL {
		ttl = s.cfg.MinTTL
	}
	if ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}
	return ttl
}

func toSigningKey(k jwk.Key) (SigningKey, error) {
	if k.KeyID() == "" {
		return SigningKey{}, errors.New("jwk has no kid")
	}
	if alg := k.Algorithm().String(); alg != "" && alg != jwa.RS256.String() {
		return SigningKey{}, fmt.Errorf("unsupported alg %q", alg)
	}
	var pub rsa.PublicKey
	if err := k.Raw(&pub); err != nil {
		return SigningKey{}, fmt.Errorf("not an RSA public key: %w", err)
	}
	return SigningKey{
		KeyID:     k.KeyID(),
		Algorithm: jwa.RS256.String(),
		PublicKey: &pub,
	}, nil
}
