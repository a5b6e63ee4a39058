package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fitprogress/api/httpapi"
	"fitprogress/config"
	"fitprogress/core"
)

const jwtSecretEnv = "FITPROGRESS_SECURITY_JWT_SECRET"

func newTokenCmd() *cobra.Command {
	var (
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <athlete>",
		Short: "Issue a signed token that lets an athlete reach their own progress",
		Long: "Issue an HS256 athlete token. The secret defaults to " + jwtSecretEnv +
			" and must match the server's security.jwt_secret.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv(jwtSecretEnv)
			}
			if len(secret) < config.MinJWTSecretLen {
				return fmt.Errorf("secret must be at least %d bytes (--secret or %s)", config.MinJWTSecretLen, jwtSecretEnv)
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be > 0")
			}
			tok, err := httpapi.IssueAthleteToken([]byte(secret), core.UserID(args[0]), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to $"+jwtSecretEnv+")")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
