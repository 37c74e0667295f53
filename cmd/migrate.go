package cmd

import (
	"fmt"
	"os"

	"github.com/jmehdipour/oob-signer/internal/config"
	"github.com/jmehdipour/oob-signer/internal/db"
	"github.com/spf13/cobra"
)

var migrationFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the relay_sessions audit table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQL(cfg.MySQL.DSN, db.OptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		sqlBytes, err := os.ReadFile(migrationFile)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", migrationFile, err)
		}

		if _, err := sqlDB.ExecContext(cmd.Context(), string(sqlBytes)); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}

		fmt.Println(">> Migration complete")
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationFile, "file", "migrations/001_init.sql", "migration to apply")
}
