package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bionicotaku/lingo-utils-gidtoken"
)

var verifyFlags struct {
	audience  string
	issuers   []string
	match     string
	clockSkew time.Duration
}

var verifyCmd = &cobra.Command{
	Use:   "verify [token|-]",
	Short: "Verify an ID token against Google's public keys and print its claims",
	Long: `verify checks the token's signature, expiry, issuer and audience. The token is
read from the argument, or from stdin when the argument is "-" or missing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readToken(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		audience, err := audienceOr(verifyFlags.audience)
		if err != nil {
			return err
		}
		matcher, err := audienceMatcher(verifyFlags.match)
		if err != nil {
			return err
		}

		keys, err := gidtoken.NewKeySource(app.cfg.KeySourceConfig(app.client, app.logger))
		if err != nil {
			return err
		}
		vcfg := app.cfg.VerifierConfig(app.logger)
		vcfg.AudienceMatch = matcher
		if len(verifyFlags.issuers) > 0 {
			vcfg.Issuers = verifyFlags.issuers
		}
		if verifyFlags.clockSkew > 0 {
			vcfg.ClockSkew = verifyFlags.clockSkew
		}
		verifier, err := gidtoken.NewVerifier(keys, vcfg)
		if err != nil {
			return err
		}

		res := verifier.Check(cmd.Context(), token, audience)
		if !res.Valid {
			app.logger.Warn("token rejected", zap.String("reason", string(res.Reason)), zap.Error(res.Err))
			return fmt.Errorf("token rejected (%s): %w", res.Reason, res.Err)
		}
		app.logger.Info("token verified",
			zap.String("sub", res.Claims.Subject),
			zap.String("kid", res.Claims.KeyID))
		return printClaims(cmd.OutOrStdout(), res.Claims)
	},
}

func init() {
	f := verifyCmd.Flags()
	f.StringVarP(&verifyFlags.audience, "audience", "a", "", "Expected audience (env GIDTOKEN_AUDIENCE)")
	f.StringSliceVar(&verifyFlags.issuers, "issuers", nil, "Accepted issuers (env GIDTOKEN_ISSUERS)")
	f.StringVar(&verifyFlags.match, "match", "exact", "Audience matching: exact, prefix or contains")
	f.DurationVar(&verifyFlags.clockSkew, "clock-skew", 0, "Tolerance for exp and nbf (env GIDTOKEN_CLOCK_SKEW)")
}

func audienceMatcher(name string) (gidtoken.AudienceMatcher, error) {
	switch name {
	case "", "exact":
		return gidtoken.MatchExact, nil
	case "prefix":
		return gidtoken.MatchPrefix, nil
	case "contains":
		return gidtoken.MatchContains, nil
	default:
		return nil, fmt.Errorf("unknown audience match %q", name)
	}
}

func readToken(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return strings.TrimSpace(args[0]), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token from stdin: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", errors.New("no token given")
	}
	return token, nil
}
