package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/migrations"
)

var printSchema bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the billing schema",
	Long: `Apply the billing schema to the configured relational store.

Local SQLite stores are migrated automatically on startup; against Postgres
this applies the schema directly. With --print the Postgres schema is written
to stdout instead, for applying through your own tooling.

Examples:
  carepath migrate
  carepath migrate --print > schema.sql`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if printSchema {
			schema, err := migrations.PostgresSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), schema)
			return err
		}

		cfg := GetConfig()
		if cfg == nil {
			return errors.New("configuration not loaded")
		}

		ctx := cmd.Context()
		container, err := OpenContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		if container.DBConn.Driver() == database.DriverPostgres {
			schema, err := migrations.PostgresSchema()
			if err != nil {
				return err
			}
			if _, err := container.DBConn.Exec(ctx, schema); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Schema applied (%s)\n", container.DBConn.Driver())
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&printSchema, "print", false, "print the Postgres schema instead of applying it")
	rootCmd.AddCommand(migrateCmd)
}
