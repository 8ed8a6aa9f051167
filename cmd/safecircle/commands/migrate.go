package commands

import (
	"SafeCircle/internal/models"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/util"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN, cfg.Mode == "debug")
		if err != nil {
			return err
		}
		if err := models.Migrate(db); err != nil {
			return err
		}
		logger.Info("schema migrated", zap.String("driver", util.NormalizeDriver(cfg.DBDriver)))
		return nil
	},
}
