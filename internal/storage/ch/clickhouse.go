package ch

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"biblio/internal/models"
	"biblio/migrations"
)

// Dialect is the goose dialect and migration directory of the journal
const Dialect = "clickhouse"

// ClickHouseJournal stores loan events for analytics
type ClickHouseJournal struct {
	conn    clickhouse.Conn
	options *clickhouse.Options
}

// NewClickHouseJournal creates a new ClickHouse connection
func NewClickHouseJournal(host string, port int, database, user, password string, useTLS bool) (*ClickHouseJournal, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseJournal{conn: conn, options: options}, nil
}

// DB opens a database/sql handle on the same server, for goose
func (j *ClickHouseJournal) DB() *sql.DB {
	return clickhouse.OpenDB(j.options)
}

// Migrate applies the embedded ClickHouse migrations with goose
func (j *ClickHouseJournal) Migrate(ctx context.Context, logger *zap.Logger) error {
	db := j.DB()
	defer db.Close()

	return migrations.Up(ctx, db, Dialect, logger)
}

// Record appends a loan event
func (j *ClickHouseJournal) Record(ctx context.Context, event models.LoanEvent) error {
	id, err := uuid.Parse(event.EventID)
	if err != nil {
		return fmt.Errorf("invalid event id %q: %w", event.EventID, err)
	}

	err = j.conn.Exec(ctx, `INSERT INTO loan_events (event_id, kind, loan_id, book_id, member_id, book_title, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(event.Kind), event.LoanID, event.BookID, event.MemberID, event.BookTitle, event.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record loan event: %w", err)
	}
	return nil
}

// RecentEvents returns a page of events, newest first
func (j *ClickHouseJournal) RecentEvents(ctx context.Context, limit, offset int) ([]models.LoanEvent, error) {
	rows, err := j.conn.Query(ctx, `SELECT event_id, kind, loan_id, book_id, member_id, book_title, occurred_at
		FROM loan_events ORDER BY occurred_at DESC, event_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}
	defer rows.Close()

	var events []models.LoanEvent
	for rows.Next() {
		var (
			event models.LoanEvent
			id    uuid.UUID
			kind  string
		)
		if err := rows.Scan(&id, &kind, &event.LoanID, &event.BookID, &event.MemberID, &event.BookTitle, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.EventID = id.String()
		event.Kind = models.LoanEventKind(kind)
		events = append(events, event)
	}
	return events, rows.Err()
}

// TopBooks returns the most issued books within [startDate, endDate]
func (j *ClickHouseJournal) TopBooks(ctx context.Context, limit int, startDate, endDate time.Time) ([]models.BookStat, error) {
	rows, err := j.conn.Query(ctx, `
		SELECT book_id, argMax(book_title, occurred_at) AS title, count() AS loans
		FROM loan_events
		WHERE kind = ? AND occurred_at >= ? AND occurred_at <= ?
		GROUP BY book_id
		ORDER BY loans DESC, title ASC
		LIMIT ?`,
		string(models.EventIssued), startDate.UTC(), endDate.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top books: %w", err)
	}
	defer rows.Close()

	var stats []models.BookStat
	for rows.Next() {
		var (
			stat  models.BookStat
			count uint64
		)
		if err := rows.Scan(&stat.BookID, &stat.BookTitle, &count); err != nil {
			return nil, fmt.Errorf("failed to scan book stat: %w", err)
		}
		stat.LoanCount = int(count)
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// Close closes the database connection
func (j *ClickHouseJournal) Close() error {
	if j.conn != nil {
		return j.conn.Close()
	}
	return nil
}
