package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"fusse/internal/model"
	"fusse/internal/store"
)

const overlapMessage = "reservation overlaps a confirmed reservation"

// Store keeps two pools on one database file: a single-connection writer
// whose transactions begin IMMEDIATE, and a reader pool for WAL snapshots.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	path   string
	logger *zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open initializes the database at path and creates tables if they don't exist.
func Open(path string, logger *zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", path+"?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	reader, err := sql.Open("sqlite3", path+"?_txlock=deferred&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to open reader: %w", err)
	}
	reader.SetMaxOpenConns(10)
	reader.SetMaxIdleConns(5)
	reader.SetConnMaxLifetime(time.Hour)

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	logger.Info().Str("path", path).Msg("Database initialized")

	return &Store{writer: writer, reader: reader, path: path, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			phone TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dining_tables (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			number INTEGER NOT NULL UNIQUE,
			capacity INTEGER NOT NULL CHECK (capacity >= 1),
			is_active BOOLEAN NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reference TEXT NOT NULL UNIQUE,
			customer_id INTEGER NOT NULL REFERENCES customers(id),
			table_id INTEGER NOT NULL REFERENCES dining_tables(id),
			starts_at INTEGER NOT NULL,
			ends_at INTEGER NOT NULL,
			party_size INTEGER NOT NULL CHECK (party_size >= 1),
			status TEXT NOT NULL DEFAULT 'confirmed' CHECK (status IN ('confirmed', 'cancelled', 'completed')),
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			CHECK (ends_at > starts_at)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tables_active ON dining_tables(is_active, capacity)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_table_time ON reservations(table_id, starts_at, ends_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status_time ON reservations(status, starts_at)`,

		`CREATE TRIGGER IF NOT EXISTS reservations_no_overlap_insert
		BEFORE INSERT ON reservations
		WHEN NEW.status = 'confirmed'
		BEGIN
			SELECT RAISE(ABORT, '` + overlapMessage + `')
			WHERE EXISTS (
				SELECT 1 FROM reservations r
				WHERE r.table_id = NEW.table_id
				  AND r.status = 'confirmed'
				  AND r.starts_at < NEW.ends_at
				  AND NEW.starts_at < r.ends_at
			);
		END`,
		`CREATE TRIGGER IF NOT EXISTS reservations_no_overlap_update
		BEFORE UPDATE OF status, table_id, starts_at, ends_at ON reservations
		WHEN NEW.status = 'confirmed'
		BEGIN
			SELECT RAISE(ABORT, '` + overlapMessage + `')
			WHERE EXISTS (
				SELECT 1 FROM reservations r
				WHERE r.table_id = NEW.table_id
				  AND r.id <> NEW.id
				  AND r.status = 'confirmed'
				  AND r.starts_at < NEW.ends_at
				  AND NEW.starts_at < r.ends_at
			);
		END`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// View runs fn in a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(store.Reader) error) error {
	tx, err := s.reader.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return classify(fmt.Errorf("begin read: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	return fn(&txn{tx: tx})
}

// Update runs fn in a write transaction. Concurrent writers queue on the single
// writer connection and on SQLite's reserved lock.
func (s *Store) Update(ctx context.Context, fn func(store.Writer) error) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin write: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&txn{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	committed = true
	return nil
}

// SyncTables applies the table inventory. Tables missing from the inventory
// are deactivated so their reservation history stays intact.
func (s *Store) SyncTables(ctx context.Context, tables []model.Table) error {
	return s.Update(ctx, func(w store.Writer) error {
		tx := w.(*txn).tx
		now := time.Now().Unix()
		seen := make(map[int]struct{}, len(tables))

		for _, t := range tables {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO dining_tables (number, capacity, is_active, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(number) DO UPDATE SET
					capacity = excluded.capacity,
					is_active = excluded.is_active,
					updated_at = excluded.updated_at`,
				t.Number, t.Capacity, t.IsActive, now,
			)
			if err != nil {
				return fmt.Errorf("sync table %d: %w", t.Number, classify(err))
			}
			seen[t.Number] = struct{}{}
		}

		rows, err := tx.QueryContext(ctx, `SELECT number FROM dining_tables WHERE is_active = 1`)
		if err != nil {
			return err
		}
		var missing []int
		for rows.Next() {
			var n int
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return err
			}
			if _, ok := seen[n]; !ok {
				missing = append(missing, n)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, n := range missing {
			if _, err := tx.ExecContext(ctx, `UPDATE dining_tables SET is_active = 0, updated_at = ? WHERE number = ?`, now, n); err != nil {
				return fmt.Errorf("deactivate table %d: %w", n, err)
			}
		}
		if len(missing) > 0 {
			s.logger.Info().Ints("tables", missing).Msg("tables deactivated")
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.writer.PingContext(ctx); err != nil {
		return err
	}
	return s.reader.PingContext(ctx)
}

// Backup writes a consistent copy of the database to dest.
func (s *Store) Backup(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	if _, err := s.writer.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return errors.Join(s.reader.Close(), s.writer.Close())
}

// classify maps driver errors onto store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.ExtendedCode == sqlite3.ErrConstraintTrigger || strings.Contains(se.Error(), overlapMessage):
			return fmt.Errorf("%w: %w", store.ErrOverlap, err)
		case se.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", store.ErrBusy, err)
		}
	}
	return err
}
