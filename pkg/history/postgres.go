package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore keeps history in a shared PostgreSQL table so multiple
// machines and users see one stream.
type PostgresStore struct {
	db *sql.DB
}

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS twx_command_history (
	id            BIGSERIAL PRIMARY KEY,
	connection    TEXT NOT NULL,
	command       TEXT NOT NULL,
	args          TEXT[],
	full_command  TEXT NOT NULL,
	query         TEXT,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	success       BOOLEAN NOT NULL DEFAULT TRUE,
	error_message TEXT,
	hostname      TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgresStore opens a history store on the given connection string
// and ensures the backing table exists. The pool is kept small; history
// writes are low-volume and batched.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	if connString == "" {
		return nil, fmt.Errorf("history database not configured")
	}

	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createHistoryTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AppendBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO twx_command_history
			(connection, command, args, full_command, query, duration_ms, success, error_message, hostname, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	if err != nil {
		return fmt.Errorf("preparing history insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := stmt.ExecContext(ctx,
			e.Connection,
			e.Command,
			pq.Array(e.Args),
			e.FullCommand,
			nullIfEmpty(e.Query),
			e.DurationMs,
			e.Success,
			nullIfEmpty(truncate(e.ErrorMessage, 500)),
			nullIfEmpty(e.Hostname),
			createdAt,
		)
		if err != nil {
			return fmt.Errorf("inserting history entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, connection string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection, command, args, full_command, query, duration_ms, success, error_message, hostname, created_at
		FROM twx_command_history
		WHERE ($1 = '' OR connection = $1)
		ORDER BY created_at DESC
		LIMIT $2`, connection, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var query, errorMsg, hostname sql.NullString
		err := rows.Scan(
			&e.ID,
			&e.Connection,
			&e.Command,
			pq.Array(&e.Args),
			&e.FullCommand,
			&query,
			&e.DurationMs,
			&e.Success,
			&errorMsg,
			&hostname,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Query = query.String
		e.ErrorMessage = errorMsg.String
		e.Hostname = hostname.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM twx_command_history`); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// nullIfEmpty returns nil if s is empty, otherwise returns s.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
