package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/bionicotaku/lingo-utils-gidtoken"
)

type issueFlags struct {
	audience string
	json     bool
}

func (f *issueFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.audience, "audience", "a", "", "Target audience (env GIDTOKEN_AUDIENCE)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print token, audience and expiry as JSON")
}

var exchangeFlags issueFlags

var exchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Exchange a signed service account assertion for an ID token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := issueByExchange(cmd.Context(), exchangeFlags.audience)
		if err != nil {
			return err
		}
		return printToken(cmd.OutOrStdout(), tok, exchangeFlags.json)
	},
}

var metadataFlags issueFlags

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Fetch an ID token from the compute metadata server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := issueByMetadata(cmd.Context(), metadataFlags.audience)
		if err != nil {
			return err
		}
		return printToken(cmd.OutOrStdout(), tok, metadataFlags.json)
	},
}

var impersonateFlags struct {
	issueFlags
	target       string
	delegates    []string
	includeEmail bool
}

var impersonateCmd = &cobra.Command{
	Use:   "impersonate",
	Short: "Mint an ID token for another service account through the IAM Credentials API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := issueByImpersonation(cmd.Context(), impersonateFlags.audience)
		if err != nil {
			return err
		}
		return printToken(cmd.OutOrStdout(), tok, impersonateFlags.json)
	},
}

func init() {
	exchangeFlags.register(exchangeCmd)
	metadataFlags.register(metadataCmd)

	impersonateFlags.register(impersonateCmd)
	impersonateCmd.Flags().StringVar(&impersonateFlags.target, "target-principal", "", "Service account to impersonate")
	impersonateCmd.Flags().StringSliceVar(&impersonateFlags.delegates, "delegates", nil, "Delegation chain, in order")
	impersonateCmd.Flags().BoolVar(&impersonateFlags.includeEmail, "include-email", false, "Include email and email_verified claims")
	_ = impersonateCmd.MarkFlagRequired("target-principal")
}

func issueByExchange(ctx context.Context, audienceFlag string) (*gidtoken.IdentityToken, error) {
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
	tok, err := issuer.IssueViaExchange(ctx, identity, audience)
	if err != nil {
		return nil, err
	}
	app.logger.Info("issued id token via exchange",
		zap.String("client_email", identity.Email),
		zap.Strings("audience", tok.Audience()),
		zap.Duration("expires_in", expiresIn(tok)))
	return tok, nil
}

func issueByMetadata(ctx context.Context, audienceFlag string) (*gidtoken.IdentityToken, error) {
	audience, err := audienceOr(audienceFlag)
	if err != nil {
		return nil, err
	}
	issuer, err := newIssuer()
	if err != nil {
		return nil, err
	}
	tok, err := issuer.IssueViaMetadata(ctx, audience)
	if err != nil {
		return nil, err
	}
	app.logger.Info("issued id token via metadata server",
		zap.Strings("audience", tok.Audience()),
		zap.Duration("expires_in", expiresIn(tok)))
	return tok, nil
}

func issueByImpersonation(ctx context.Context, audienceFlag string) (*gidtoken.IdentityToken, error) {
	audience, err := audienceOr(audienceFlag)
	if err != nil {
		return nil, err
	}
	issuer, err := newIssuer()
	if err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if app.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(app.cfg.CredentialsFile))
	}
	tok, err := issuer.IssueViaImpersonation(ctx, gidtoken.ImpersonationRequest{
		TargetPrincipal: impersonateFlags.target,
		Audience:        audience,
		IncludeEmail:    impersonateFlags.includeEmail,
		Delegates:       impersonateFlags.delegates,
	}, opts...)
	if err != nil {
		return nil, err
	}
	app.logger.Info("issued id token via impersonation",
		zap.String("target_principal", impersonateFlags.target),
		zap.Strings("audience", tok.Audience()),
		zap.Duration("expires_in", expiresIn(tok)))
	return tok, nil
}
