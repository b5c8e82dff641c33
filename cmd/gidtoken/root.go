package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bionicotaku/lingo-utils-gidtoken"
)

const (
	envFileKey     = "env_file"
	configFileKey  = "config"
	logLevelKey    = "log.level"
	logFormatKey   = "log.format"
	jwksURLKey     = "jwks_url"
	tokenURLKey    = "token_url"
	metadataURLKey = "metadata_url"
	credentialsKey = "credentials"
	timeoutKey     = "timeout"
)

// app carries what PersistentPreRunE resolved for the subcommands.
var app struct {
	cfg    gidtoken.EnvConfig
	logger *zap.Logger
	client *http.Client
}

var rootCmd = &cobra.Command{
	Use:   "gidtoken",
	Short: "Obtain and verify Google-signed ID tokens",
	Long: `gidtoken mints Google ID tokens for a target audience, by exchanging a
self-signed service account assertion, by asking the metadata server, or through
service account impersonation, and verifies such tokens against Google's public keys.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadDotEnv(viper.GetString(envFileKey)); err != nil {
			return err
		}
		if err := readConfigFile(viper.GetString(configFileKey)); err != nil {
			return err
		}

		logger, err := newLogger(viper.GetString(logLevelKey), viper.GetString(logFormatKey))
		if err != nil {
			return err
		}

		cfg, err := gidtoken.LoadEnvConfig()
		if err != nil {
			return err
		}
		applyOverrides(&cfg)

		app.cfg = cfg
		app.logger = logger
		app.client = gidtoken.NewHTTPClient(cfg.HTTPTimeout)
		logger.Debug("configuration resolved",
			zap.String("jwks_url", cfg.JWKSURL),
			zap.String("token_url", cfg.TokenURL),
			zap.String("metadata_url", cfg.MetadataURL),
			zap.Duration("http_timeout", cfg.HTTPTimeout))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app.logger != nil {
			_ = app.logger.Sync()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.String("env", defaultEnvPath(), "Path to a .env file; missing files are ignored")
	_ = viper.BindPFlag(envFileKey, flags.Lookup("env"))

	flags.String("config", "", "Optional YAML/JSON config file")
	_ = viper.BindPFlag(configFileKey, flags.Lookup("config"))

	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag(logLevelKey, flags.Lookup("log-level"))

	flags.String("log-format", "console", "Log format (console, json)")
	_ = viper.BindPFlag(logFormatKey, flags.Lookup("log-format"))

	flags.String("jwks-url", "", "Public key set URL (env GIDTOKEN_JWKS_URL)")
	_ = viper.BindPFlag(jwksURLKey, flags.Lookup("jwks-url"))

	flags.String("token-url", "", "Token endpoint for assertion exchange (env GIDTOKEN_TOKEN_URL)")
	_ = viper.BindPFlag(tokenURLKey, flags.Lookup("token-url"))

	flags.String("metadata-url", "", "Metadata identity endpoint (env GIDTOKEN_METADATA_URL)")
	_ = viper.BindPFlag(metadataURLKey, flags.Lookup("metadata-url"))

	flags.String("credentials", "", "Service account key file (env GOOGLE_APPLICATION_CREDENTIALS)")
	_ = viper.BindPFlag(credentialsKey, flags.Lookup("credentials"))

	flags.Duration("timeout", 0, "HTTP timeout (env GIDTOKEN_HTTP_TIMEOUT)")
	_ = viper.BindPFlag(timeoutKey, flags.Lookup("timeout"))

	viper.SetEnvPrefix("GIDTOKEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(exchangeCmd, metadataCmd, impersonateCmd, verifyCmd, callCmd)
}

func defaultEnvPath() string {
	if path := os.Getenv("GIDTOKEN_ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}

// loadDotEnv loads path without overriding variables that are already set.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func readConfigFile(path string) error {
	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// applyOverrides lets flags and config file values win over the environment.
func applyOverrides(cfg *gidtoken.EnvConfig) {
	if v := viper.GetString(jwksURLKey); v != "" {
		cfg.JWKSURL = v
	}
	if v := viper.GetString(tokenURLKey); v != "" {
		cfg.TokenURL = v
	}
	if v := viper.GetString(metadataURLKey); v != "" {
		cfg.MetadataURL = v
	}
	if v := viper.GetString(credentialsKey); v != "" {
		cfg.CredentialsFile = v
	}
	if v := viper.GetDuration(timeoutKey); v > 0 {
		cfg.HTTPTimeout = v
	}
}

// audienceOr returns flagValue, falling back to GIDTOKEN_AUDIENCE.
func audienceOr(flagValue string) (string, error) {
	if aud := strings.TrimSpace(flagValue); aud != "" {
		return aud, nil
	}
	if aud := strings.TrimSpace(app.cfg.Audience); aud != "" {
		return aud, nil
	}
	return "", errors.New("audience is required (--audience or GIDTOKEN_AUDIENCE)")
}

func newIssuer() (*gidtoken.TokenIssuer, error) {
	return gidtoken.NewTokenIssuer(app.cfg.IssuerConfig(app.client, app.logger))
}

func expiresIn(tok *gidtoken.IdentityToken) time.Duration {
	return time.Until(tok.ExpiresAt()).Round(time.Second)
}
