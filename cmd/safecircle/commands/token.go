package commands

import (
	"fmt"
	"time"

	"SafeCircle/pkg/middleware"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
)

var (
	tokenTTL  time.Duration
	tokenRole string
)

// tokenCmd signs a token with JWT_SECRET for local testing. Production tokens
// come from the account service.
var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a development access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		token, err := middleware.NewAuthenticator(cfg.JWTSecret).Issue(args[0], tokenRole, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var vapidCmd = &cobra.Command{
	Use:   "vapid",
	Short: "Generate a VAPID key pair for web push",
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", publicKey, privateKey)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "user", "role claim")
}
