package gidtoken

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://accounts.google.com"
	testEmail    = "svc@project.iam.gserviceaccount.com"
	testAudience = "https://foo.com"
)

var (
	keyOnce   sync.Once
	sharedKey *rsa.PrivateKey
)

// newTestKey returns a fresh 2048-bit key for tests that need a key distinct from testKey.
func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// testKey returns a shared 2048-bit key. Key generation is slow, so tests that
// do not care about key identity share one.
func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		sharedKey = k
	})
	return sharedKey
}

// jwksServer publishes a mutable JWK set and counts how often it was fetched.
type jwksServer struct {
	*httptest.Server

	fetches      atomic.Int32
	mu           sync.Mutex
	keys         map[string]*rsa.PrivateKey
	cacheControl string
	status       int
	body         []byte
	delay        time.Duration
}

func newJWKSServer(t *testing.T, keys map[string]*rsa.PrivateKey) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: keys, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		s.mu.Lock()
		status, body, cc, delay := s.status, s.body, s.cacheControl, s.delay
		payload, err := s.marshal()
		s.mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if delay > 0 {
			time.Sleep(delay)
		}
		if cc != "" {
			w.Header().Set("Cache-Control", cc)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if body != nil {
			_, _ = w.Write(body)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) marshal() ([]byte, error) {
	set := jwk.NewSet()
	for kid, key := range s.keys {
		pub, err := jwk.PublicKeyOf(key)
		if err != nil {
			return nil, err
		}
		if err := pub.Set(jwk.KeyIDKey, kid); err != nil {
			return nil, err
		}
		if err := pub.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
			return nil, err
		}
		if err := set.AddKey(pub); err != nil {
			return nil, err
		}
	}
	return json.Marshal(set)
}

func (s *jwksServer) setKeys(keys map[string]*rsa.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func (s *jwksServer) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = []byte(body)
}

func (s *jwksServer) count() int {
	return int(s.fetches.Load())
}

func newTestKeySource(t *testing.T, url string) *KeySource {
	t.Helper()
	src, err := NewKeySource(KeySourceConfig{JWKSURL: url, HTTPClient: NewHTTPClient(5 * time.Second)})
	require.NoError(t, err)
	return src
}

// idTokenClaims returns a Google-style ID token payload valid for an hour.
func idTokenClaims(aud any) ClaimSet {
	now := time.Now().Unix()
	return ClaimSet{
		"iss":            testIssuer,
		"sub":            "1234567890",
		"aud":            aud,
		"azp":            testEmail,
		"email":          testEmail,
		"email_verified": true,
		"iat":            now,
		"exp":            now + 3600,
	}
}

func signWith(t *testing.T, key *rsa.PrivateKey, kid string, payload ClaimSet) string {
	t.Helper()
	token, err := Sign(ClaimSet{"kid": kid}, payload, key)
	require.NoError(t, err)
	return token
}

func requireCode(t *testing.T, err error, code ErrorCode) *Error {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e, "expected *Error, got %T: %v", err, err)
	require.Equal(t, code, e.Code, "unexpected error: %v", err)
	return e
}
