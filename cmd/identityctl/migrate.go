package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/personcrm/identity-engine/pkg/database"
)

func newMigrateCmd() *cobra.Command {
	var migrationsPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return fmt.Errorf("migrate: init logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			if flagDatabaseURL == "" {
				return fmt.Errorf("migrate: --database-url (or DATABASE_URL) is required")
			}

			sqlDB, err := sql.Open("pgx", flagDatabaseURL)
			if err != nil {
				return fmt.Errorf("migrate: open database: %w", err)
			}
			defer sqlDB.Close()

			if err := database.RunMigrations(sqlDB, migrationsPath, logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			if flagJSON {
				return printJSON(map[string]any{"migrated": true})
			}
			fmt.Println("migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&migrationsPath, "migrations", "migrations", "path to migration files")
	return cmd
}
