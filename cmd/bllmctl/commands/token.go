package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amerfu/bllm/internal/auth"
	"github.com/amerfu/bllm/internal/config"
)

// NewTokenCommand creates the token command. Tokens are signed locally with
// the shared secret, so this runs against the same JWT_SECRET the service
// was deployed with.
func NewTokenCommand() *cobra.Command {
	var secret string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token",
		Long:  "Sign a bearer token for a gateway or operator subject using the shared JWT secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("JWT secret required; pass --secret or set JWT_SECRET")
			}

			verifier := auth.New(config.AuthConfig{
				JWTSecret:     secret,
				TokenDuration: ttl,
			})

			token, err := verifier.IssueToken(args[0])
			if err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(map[string]string{"token": token})
				return nil
			}

			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret (defaults to JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}
