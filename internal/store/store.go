package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrConflict is returned when a write would move state backwards.
	ErrConflict = errors.New("conflict")
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type Store struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
}

// Open connects to the database and migrates it. For sqlite dsn is a file path.
func Open(driver, dsn string, timeout time.Duration) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)

	switch Dialect(driver) {
	case SQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err = sql.Open("sqlite", dsn+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
		if err == nil {
			// single writer; serializes transactions instead of failing with SQLITE_BUSY
			db.SetMaxOpenConns(1)
		}
	case Postgres:
		db, err = sql.Open("postgres", dsn)
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetConnMaxIdleTime(5 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Store{db: db, dialect: Dialect(driver), timeout: timeout}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "leadflow.db"
	}
	return filepath.Join(home, ".leadflow", "leadflow.db")
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	ts, boolean, real := "DATETIME", "INTEGER", "REAL"
	if s.dialect == Postgres {
		ts, boolean, real = "TIMESTAMPTZ", "BOOLEAN", "DOUBLE PRECISION"
	}
	r := strings.NewReplacer("$TS", ts, "$BOOL", boolean, "$REAL", real)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS leads (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			company TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			lead_score INTEGER NOT NULL DEFAULT 0,
			lead_priority TEXT NOT NULL,
			last_reply_score INTEGER,
			last_reply_intent TEXT,
			next_action_title TEXT,
			next_action_updated_at $TS,
			created_at $TS NOT NULL,
			last_emailed_at $TS,
			last_replied_at $TS
		)`,
		`CREATE TABLE IF NOT EXISTS outbound_emails (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL REFERENCES leads(id),
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			message_id TEXT NOT NULL UNIQUE,
			email_type TEXT NOT NULL,
			thread_root_message_id TEXT,
			delivery_status TEXT NOT NULL,
			sent_at $TS,
			is_replied $BOOL NOT NULL DEFAULT FALSE,
			reply_score INTEGER,
			intent TEXT,
			confidence $REAL,
			priority TEXT,
			created_at $TS NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_lead_id ON outbound_emails(lead_id)`,
		`CREATE TABLE IF NOT EXISTS inbound_replies (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL REFERENCES leads(id),
			outbound_email_id TEXT NOT NULL UNIQUE REFERENCES outbound_emails(id),
			from_email TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			body_preview TEXT NOT NULL DEFAULT '',
			body_text TEXT NOT NULL DEFAULT '',
			received_at $TS NOT NULL,
			classification_status TEXT NOT NULL,
			classification_error TEXT,
			reply_score INTEGER,
			priority TEXT,
			intent TEXT,
			confidence $REAL,
			reasons TEXT,
			next_action_title TEXT,
			next_action_steps TEXT,
			urgency TEXT,
			followup_days INTEGER,
			suggested_tone TEXT,
			next_action_generated_at $TS,
			draft_status TEXT NOT NULL,
			draft_tone TEXT,
			draft_subject TEXT,
			draft_body TEXT,
			draft_generated_at $TS,
			attachments TEXT NOT NULL DEFAULT '[]',
			created_at $TS NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_replies_lead_id ON inbound_replies(lead_id)`,
		`CREATE INDEX IF NOT EXISTS idx_replies_classification ON inbound_replies(classification_status)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			mailbox TEXT PRIMARY KEY,
			uid_validity BIGINT NOT NULL,
			last_uid BIGINT NOT NULL,
			synced_at $TS NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return nil
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}
	// sqlite without extended result codes
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeJSON leaves dst untouched for NULL or empty columns.
func decodeJSON(src sql.NullString, dst any) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}

func now() time.Time { return time.Now().UTC() }
