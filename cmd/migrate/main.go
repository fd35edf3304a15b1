package main

import (
	"RedirectLedger/internal/config"
	"RedirectLedger/internal/observability"
	"RedirectLedger/internal/persistence"
	"RedirectLedger/internal/projection"
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath    string
	dsnFlag       string
	migrationsDir string
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the RedirectLedger Postgres schema",
	Long: `Apply or roll back the SQL migrations under the migrations directory and
rebuild the projection tables from the event log.

The connection string comes from --dsn, else from postgres.dsn in the config
file or REDIRECT_LEDGER_POSTGRES_DSN.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator, _ *sql.DB, logger zerolog.Logger) error {
		if err := m.Up(ctx); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		logger.Info().Msg("all migrations applied")
		return nil
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last applied migration",
	RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator, _ *sql.DB, logger zerolog.Logger) error {
		if err := m.Down(ctx); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info().Msg("last migration rolled back")
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator, _ *sql.DB, _ zerolog.Logger) error {
		statuses, err := m.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tAPPLIED")
		for _, s := range statuses {
			fmt.Fprintf(w, "%s\t%t\n", s.Version, s.Applied)
		}
		return w.Flush()
	}),
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-projections",
	Short: "Rebuild every projection table from the event log",
	RunE: withMigrator(func(ctx context.Context, _ *persistence.Migrator, db *sql.DB, logger zerolog.Logger) error {
		if err := projection.RebuildProjections(ctx, db, logger); err != nil {
			return fmt.Errorf("rebuild projections: %w", err)
		}
		return nil
	}),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "Postgres connection string (overrides config)")
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "", "Migrations directory (overrides config)")
	rootCmd.AddCommand(upCmd, downCmd, statusCmd, rebuildCmd)
}

type migrateFunc func(ctx context.Context, m *persistence.Migrator, db *sql.DB, logger zerolog.Logger) error

// withMigrator opens the database named by flags or config and hands fn a
// migrator for it.
func withMigrator(fn migrateFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		observability.Configure(cfg.Logging.Level, cfg.Logging.Format)
		logger := observability.NewLogger("migrate")

		dsn := cfg.Postgres.DSN
		if dsnFlag != "" {
			dsn = dsnFlag
		}
		dir := cfg.Postgres.MigrationsDir
		if migrationsDir != "" {
			dir = migrationsDir
		}

		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		ctx := cmd.Context()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping db: %w", err)
		}
		return fn(ctx, persistence.NewMigrator(db, dir, logger), db, logger)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
