package gidtoken

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
)

const (
	defaultJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
	defaultTokenURL    = "https://www.googleapis.com/oauth2/v4/token"
	defaultMetadataURL = "http://metadata/computeMetadata/v1/instance/service-accounts/default/identity"

	defaultAssertionLifetime = time.Hour
	defaultKeyTTL            = 5 * time.Minute
	defaultMinKeyTTL         = time.Minute
	defaultMaxKeyTTL         = 24 * time.Hour
	defaultHTTPTimeout       = 10 * time.Second

	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// DefaultIssuers are the iss values Google uses for ID tokens.
var DefaultIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// NewHTTPClient returns a client suitable for sharing between a KeySource and a TokenIssuer.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
		},
	}
}

// KeySourceConfig controls how the public key set is fetched and cached.
type KeySourceConfig struct {
	JWKSURL string
	// DefaultTTL applies when the response has no usable Cache-Control max-age.
	DefaultTTL time.Duration
	MinTTL     time.Duration
	MaxTTL     time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
	Now        func() time.Time
}

func (c *KeySourceConfig) normalize() {
	if c.JWKSURL == "" {
		c.JWKSURL = defaultJWKSURL
	}
	if c.MinTTL <= 0 {
		c.MinTTL = defaultMinKeyTTL
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = defaultMaxKeyTTL
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultKeyTTL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = NewHTTPClient(defaultHTTPTimeout)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c KeySourceConfig) validate() error {
	if c.MinTTL > c.MaxTTL {
		return fmt.Errorf("min ttl %s exceeds max ttl %s", c.MinTTL, c.MaxTTL)
	}
	return validateURL("jwks url", c.JWKSURL)
}

// VerifierConfig describes what the Verifier accepts.
type VerifierConfig struct {
	// Issuers lists accepted iss values. Nil means DefaultIssuers; an empty,
	// non-nil slice disables the issuer check.
	Issuers   []string
	ClockSkew time.Duration
	// AudienceMatch decides whether a token audience satisfies the expected one.
	// Defaults to MatchExact.
	AudienceMatch AudienceMatcher
	Logger        *zap.Logger
	Now           func() time.Time
}

func (c *VerifierConfig) normalize() {
	if c.Issuers == nil {
		c.Issuers = append([]string(nil), DefaultIssuers...)
	}
	if c.ClockSkew < 0 {
		c.ClockSkew = 0
	}
	if c.AudienceMatch == nil {
		c.AudienceMatch = MatchExact
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// IssuerConfig describes the endpoints a TokenIssuer talks to.
type IssuerConfig struct {
	TokenURL    string
	MetadataURL string
	// Lifetime is the validity window of the signed assertion.
	Lifetime   time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
	Now        func() time.Time
}

func (c *IssuerConfig) normalize() {
	if c.TokenURL == "" {
		c.TokenURL = defaultTokenURL
	}
	if c.MetadataURL == "" {
		c.MetadataURL = defaultMetadataURL
	}
	if c.Lifetime <= 0 {
		c.Lifetime = defaultAssertionLifetime
	}
	if c.HTTPClient == nil {
		c.HTTPClient = NewHTTPClient(defaultHTTPTimeout)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c IssuerConfig) validate() error {
	if err := validateURL("token url", c.TokenURL); err != nil {
		return err
	}
	return validateURL("metadata url", c.MetadataURL)
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s %q must be http or https", name, raw)
	}
	if u.Host == "" {
		return errors.New(name + " has no host")
	}
	return nil
}

// EnvConfig holds the environment-driven settings shared by the CLI and embedding services.
type EnvConfig struct {
	JWKSURL         string        `env:"GIDTOKEN_JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	TokenURL        string        `env:"GIDTOKEN_TOKEN_URL" envDefault:"https://www.googleapis.com/oauth2/v4/token"`
	MetadataURL     string        `env:"GIDTOKEN_METADATA_URL" envDefault:"http://metadata/computeMetadata/v1/instance/service-accounts/default/identity"`
	Audience        string        `env:"GIDTOKEN_AUDIENCE"`
	CredentialsFile string        `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	// Issuers replaces DefaultIssuers when non-empty. Set SkipIssuerCheck to
	// accept any iss; an empty GIDTOKEN_ISSUERS alone keeps the defaults.
	Issuers         []string      `env:"GIDTOKEN_ISSUERS" envSeparator:","`
	SkipIssuerCheck bool          `env:"GIDTOKEN_SKIP_ISSUER_CHECK"`
	ClockSkew       time.Duration `env:"GIDTOKEN_CLOCK_SKEW" envDefault:"0s"`
	// KeyTTL applies when the key endpoint sends no max-age. Both it and max-age
	// are raised to KeyMinTTL.
	KeyTTL          time.Duration `env:"GIDTOKEN_KEY_TTL" envDefault:"5m"`
	KeyMinTTL       time.Duration `env:"GIDTOKEN_KEY_MIN_TTL" envDefault:"1m"`
	HTTPTimeout     time.Duration `env:"GIDTOKEN_HTTP_TIMEOUT" envDefault:"10s"`
}

// LoadEnvConfig parses EnvConfig from the process environment.
func LoadEnvConfig() (EnvConfig, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return EnvConfig{}, newError(ErrCodeInvalidConfig, err)
	}
	return cfg, nil
}

// KeySourceConfig derives a KeySourceConfig that uses client for fetches.
func (e EnvConfig) KeySourceConfig(client *http.Client, logger *zap.Logger) KeySourceConfig {
	return KeySourceConfig{
		JWKSURL:    e.JWKSURL,
		DefaultTTL: e.KeyTTL,
		MinTTL:     e.KeyMinTTL,
		HTTPClient: client,
		Logger:     logger,
	}
}

// VerifierConfig derives a VerifierConfig.
func (e EnvConfig) VerifierConfig(logger *zap.Logger) VerifierConfig {
	var issuers []string
	switch {
	case e.SkipIssuerCheck:
		issuers = []string{}
	case len(e.Issuers) > 0:
		issuers = append([]string(nil), e.Issuers...)
	}
	return VerifierConfig{
		Issuers:   issuers,
		ClockSkew: e.ClockSkew,
		Logger:    logger,
	}
}

// IssuerConfig derives an IssuerConfig that uses client for outbound calls.
func (e EnvConfig) IssuerConfig(client *http.Client, logger *zap.Logger) IssuerConfig {
	return IssuerConfig{
		TokenURL:    e.TokenURL,
		MetadataURL: e.MetadataURL,
		HTTPClient:  client,
		Logger:      logger,
	}
}
