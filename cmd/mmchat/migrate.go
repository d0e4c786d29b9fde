package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations and exit",
	Long: `Apply the schema to the relay history database (RELAY_DB_DRIVER) and
to the client draft database (SQLITE_DSN).`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	db, _, _, err := openRelayDB(cmd.Context(), cfg.Relay)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate relay database: %w", err)
	}
	log.Info("relay migration completed", zap.String("driver", cfg.Relay.DBDriver))

	drafts, err := sqlite.New(cfg.Client.SQLITEDsn)
	if err != nil {
		return fmt.Errorf("open client database: %w", err)
	}
	defer drafts.Close()
	if err := drafts.Migrate(); err != nil {
		return fmt.Errorf("migrate client database: %w", err)
	}
	log.Info("client migration completed")
	return nil
}
