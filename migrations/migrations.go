// Package migrations embeds the goose SQL migrations, one directory per
// goose dialect.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed postgres/*.sql sqlite3/*.sql clickhouse/*.sql
var FS embed.FS

// Prepare points goose at the embedded migrations of dialect. The dialect
// name is also the migration directory.
func Prepare(dialect string, logger *zap.Logger) error {
	goose.SetBaseFS(FS)
	goose.SetLogger(zap.NewStdLog(logger.Named("goose")))
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return nil
}

// Up applies every pending migration of dialect
func Up(ctx context.Context, db *sql.DB, dialect string, logger *zap.Logger) error {
	if err := Prepare(dialect, logger); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dialect); err != nil {
		return fmt.Errorf("failed to run %s migrations: %w", dialect, err)
	}
	return nil
}
