package commands

import (
	"fmt"
	"os"

	"SafeCircle/pkg/config"
	"SafeCircle/pkg/logger"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "safecircle",
	Short: "SafeCircle emergency coordination server",
	Long: `SafeCircle lets a user raise an emergency, invites their trusted contacts,
streams locations and chat between the people who answered, and fans every
lifecycle event out to mobile push, web push and websocket rooms.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML file applied on top of the environment (CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd, vapidCmd)
}

// setup loads configuration into config.GlobalConfig and starts the logger.
func setup() (*config.Config, error) {
	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return nil, err
		}
	}
	if err := config.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := config.GlobalConfig
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}
