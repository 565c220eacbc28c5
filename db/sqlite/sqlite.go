// Package sqlite is the embedded backing store, used for single-node
// deployments and by the test suites.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"botstore/db"

	msqlite "modernc.org/sqlite" // pure Go driver, registers "sqlite"
)

// Primary result codes; extended codes carry them in the low byte.
const (
	codeBusy       = 5
	codeLocked     = 6
	codeConstraint = 19
)

type Store struct {
	db *sql.DB
}

var _ db.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; conditional updates stay atomic either way
	conn.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &Store{db: conn}
	if err := s.init(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			item_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			price REAL NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			image_ref TEXT NOT NULL DEFAULT '',
			file_ref TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			is_new INTEGER NOT NULL DEFAULT 0,
			is_archived INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS categories (
			name TEXT PRIMARY KEY
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS static_pages (
			slug TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			ref_code TEXT NOT NULL,
			amount REAL NOT NULL,
			status TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			downloaded INTEGER NOT NULL DEFAULT 0,
			receipt_ref TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(ref_code, item_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS custom_orders (
			id TEXT PRIMARY KEY,
			ref_code TEXT NOT NULL UNIQUE,
			tracking_number TEXT NOT NULL UNIQUE,
			client_email TEXT NOT NULL,
			bot_description TEXT NOT NULL,
			bot_features TEXT NOT NULL DEFAULT '',
			budget_amount REAL NOT NULL,
			payment_method TEXT NOT NULL,
			refund_method TEXT NOT NULL,
			refund_mpesa_number TEXT NOT NULL DEFAULT '',
			refund_mpesa_name TEXT NOT NULL DEFAULT '',
			refund_crypto_wallet TEXT NOT NULL DEFAULT '',
			refund_crypto_network TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			mpesa_code TEXT NOT NULL DEFAULT '',
			gateway_txn_id TEXT NOT NULL DEFAULT '',
			crypto_invoice_id TEXT NOT NULL DEFAULT '',
			refund_reason TEXT NOT NULL DEFAULT '',
			custom_refund_message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER,
			refunded_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_custom_orders_created ON custom_orders(created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS payment_evidence (
			ref_code TEXT NOT NULL,
			evidence_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (ref_code, evidence_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// classify maps driver errors onto the db sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return db.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return db.Transient(err)
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case codeConstraint:
			msg := se.Error()
			if strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "PRIMARY KEY") {
				return fmt.Errorf("%w: %v", db.ErrDuplicate, err)
			}
		case codeBusy, codeLocked:
			return db.Transient(err)
		}
	}
	return err
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// affected turns a RowsAffected count into the "did the condition match" flag.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
