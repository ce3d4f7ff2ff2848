package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"biblio/internal/config"
	"biblio/internal/storage/ch"
	"biblio/internal/storage/sqldb"
	"biblio/migrations"
)

const (
	targetPostgres   = "postgres"
	targetSQLite     = "sqlite3"
	targetClickHouse = ch.Dialect
)

type options struct {
	target string
	dir    string
	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage database migrations",
		Long:         "Runs the embedded goose migrations against PostgreSQL, SQLite or the ClickHouse journal.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if it exists
			_ = godotenv.Load()

			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.target, "target", "t", "",
		"database to migrate: postgres, sqlite3 or clickhouse (default: DB_DRIVER)")

	root.AddCommand(
		newRunCmd(opts, "up", "Apply all pending migrations", goose.UpContext),
		newRunCmd(opts, "down", "Roll back the latest migration", goose.DownContext),
		newRunCmd(opts, "status", "Show the status of every migration", goose.StatusContext),
		newVersionCmd(opts),
		newCreateCmd(opts),
	)
	return root
}

func newRunCmd(opts *options, use, short string, run func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dialect, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			opts.logger.Info("Running migrations", zap.String("command", use), zap.String("target", dialect))
			if err := run(cmd.Context(), db, dialect); err != nil {
				return fmt.Errorf("migrate %s: %w", use, err)
			}
			opts.logger.Info("Migrations completed successfully", zap.String("command", use))
			return nil
		},
	}
}

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dialect, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := goose.GetDBVersionContext(cmd.Context(), db)
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: version %d\n", dialect, version)
			return nil
		},
	}
}

func newCreateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new SQL migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dialect, err := opts.dialect()
			if err != nil {
				return err
			}
			// Files are written to disk, not to the embedded FS
			goose.SetBaseFS(nil)
			goose.SetSequential(true)
			dir := filepath.Join(opts.dir, dialect)
			if err := goose.Create(nil, dir, args[0], "sql"); err != nil {
				return fmt.Errorf("failed to create migration: %w", err)
			}
			opts.logger.Info("Created migration", zap.String("name", args[0]), zap.String("dir", dir))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.dir, "dir", "migrations", "root directory of the migration sources")
	return cmd
}

// dialect resolves --target, falling back to the configured driver
func (o *options) dialect() (string, error) {
	switch o.target {
	case targetPostgres, targetSQLite, targetClickHouse:
		return o.target, nil
	case "":
		return sqldb.DialectFor(envOr("DB_DRIVER", sqldb.DriverSQLite))
	default:
		return "", fmt.Errorf("unknown target %q: use postgres, sqlite3 or clickhouse", o.target)
	}
}

// open connects to the target database and prepares goose for it
func (o *options) open(ctx context.Context) (*sql.DB, string, error) {
	dialect, err := o.dialect()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load configuration: %w", err)
	}

	var db *sql.DB
	switch dialect {
	case targetClickHouse:
		if !cfg.JournalEnabled() {
			return nil, "", fmt.Errorf("CLICKHOUSE_HOST is required for the clickhouse target")
		}
		j, err := ch.NewClickHouseJournal(cfg.ClickHouseHost, cfg.ClickHousePort, cfg.ClickHouseDatabase,
			cfg.ClickHouseUser, cfg.ClickHousePassword, cfg.ClickHouseUseTLS)
		if err != nil {
			return nil, "", err
		}
		db = j.DB()
		j.Close()
	case targetSQLite:
		s, err := sqldb.NewSQLDB(ctx, sqldb.DriverSQLite, sqldb.SQLiteDSN(cfg.DBPath))
		if err != nil {
			return nil, "", err
		}
		db = s.DB()
	default:
		driver := cfg.DBDriver
		if driver == sqldb.DriverSQLite {
			driver = sqldb.DriverPGX
		}
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, "", fmt.Errorf("DATABASE_URL is required for the postgres target unless DB_DRIVER is postgres or pgx")
		}
		s, err := sqldb.NewSQLDB(ctx, driver, dsn)
		if err != nil {
			return nil, "", err
		}
		db = s.DB()
	}

	if err := migrations.Prepare(dialect, o.logger); err != nil {
		db.Close()
		return nil, "", err
	}
	return db, dialect, nil
}

// envOr retrieves environment variable or returns default value
func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
