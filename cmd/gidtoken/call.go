package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/bionicotaku/lingo-utils-gidtoken"
)

var callFlags struct {
	audience string
	source   string
	method   string
	data     string
	headers  []string
}

var callCmd = &cobra.Command{
	Use:   "call URL",
	Short: "Send an HTTP request authorized with a fresh ID token",
	Long: `call obtains an ID token from the chosen source and sends it as a Bearer token.
The audience defaults to the request URL without its path, which is what Cloud Run
and IAP expect.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		audience := callFlags.audience
		if audience == "" && app.cfg.Audience == "" {
			audience = originOf(target)
		}

		src, err := callTokenSource(cmd.Context(), callFlags.source, audience)
		if err != nil {
			return err
		}

		var body io.Reader
		if callFlags.data != "" {
			body = strings.NewReader(callFlags.data)
		}
		req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(callFlags.method), target, body)
		if err != nil {
			return err
		}
		for _, h := range callFlags.headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("header %q is not name:value", h)
			}
			req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		client := oauth2.NewClient(context.WithValue(cmd.Context(), oauth2.HTTPClient, app.client), src)
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		app.logger.Info("response received",
			zap.String("url", target),
			zap.Int("status", resp.StatusCode))
		if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%s returned %s", target, resp.Status)
		}
		return nil
	},
}

func init() {
	f := callCmd.Flags()
	f.StringVarP(&callFlags.audience, "audience", "a", "", "Target audience (default: GIDTOKEN_AUDIENCE, then the URL origin)")
	f.StringVar(&callFlags.source, "source", "exchange", "Token source: exchange, metadata or impersonate")
	f.StringVarP(&callFlags.method, "method", "X", http.MethodGet, "HTTP method")
	f.StringVarP(&callFlags.data, "data", "d", "", "Request body")
	f.StringArrayVarP(&callFlags.headers, "header", "H", nil, "Extra request header, name:value")
	// shares its value with the impersonate subcommand
	f.StringVar(&impersonateFlags.target, "target-principal", "", "Service account to impersonate when --source=impersonate")
}

func callTokenSource(ctx context.Context, source, audienceFlag string) (oauth2.TokenSource, error) {
	switch source {
	case "exchange":
		audience, err := audienceOr(audienceFlag)
		if err != nil {
			return nil, err
		}
		if app.cfg.CredentialsFile == "" {
			return nil, errors.New("a service account key file is required (--credentials or GOOGLE_APPLICATION_CREDENTIALS)")
		}
		identity, err := gidtoken.ServiceIdentityFromFile(app.cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		issuer, err := newIssuer()
		if err != nil {
			return nil, err
		}
		return oauth2.ReuseTokenSource(nil, issuer.ExchangeTokenSource(ctx, identity, audience)), nil
	case "metadata":
		audience, err := audienceOr(audienceFlag)
		if err != nil {
			return nil, err
		}
		issuer, err := newIssuer()
		if err != nil {
			return nil, err
		}
		return oauth2.ReuseTokenSource(nil, issuer.MetadataTokenSource(ctx, audience)), nil
	case "impersonate":
		if impersonateFlags.target == "" {
			return nil, errors.New("--target-principal is required with --source=impersonate")
		}
		tok, err := issueByImpersonation(ctx, audienceFlag)
		if err != nil {
			return nil, err
		}
		return oauth2.StaticTokenSource(tok.OAuth2Token()), nil
	default:
		return nil, fmt.Errorf("unknown token source %q", source)
	}
}

// originOf returns scheme://host of rawURL, or rawURL itself when it has no host.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}
