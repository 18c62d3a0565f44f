// Package gormstore is the Postgres backend of the booking store.
//
// Overlap protection comes from an exclusion constraint on
// (table_id, tstzrange(starts_at, ends_at)) restricted to confirmed rows, and
// write transactions lock the eligible table rows before reading availability.
// The same code runs on SQLite for tests, where a trigger stands in for the
// constraint.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fusse/internal/config"
	"fusse/internal/model"
	"fusse/internal/store"
)

const overlapConstraint = "reservations_no_overlap"

type Store struct {
	db       *gorm.DB
	postgres bool
	logger   *zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to Postgres using cfg.DSN and migrates the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zerolog.Logger) (*Store, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db.DB(): %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeM > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeM) * time.Minute)
	}

	return New(ctx, db, logger)
}

// New wraps an open gorm connection and migrates the schema.
func New(ctx context.Context, db *gorm.DB, logger *zerolog.Logger) (*Store, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &Store{db: db, postgres: db.Dialector.Name() == "postgres", logger: logger}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	logger.Info().Str("dialect", db.Dialector.Name()).Msg("Database initialized")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&customerRow{}, &tableRow{}, &reservationRow{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	var queries []string
	if s.postgres {
		queries = []string{
			`CREATE EXTENSION IF NOT EXISTS btree_gist`,
			`DO $$
			BEGIN
				IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '` + overlapConstraint + `') THEN
					ALTER TABLE reservations ADD CONSTRAINT ` + overlapConstraint + `
						EXCLUDE USING gist (table_id WITH =, tstzrange(starts_at, ends_at, '[)') WITH &&)
						WHERE (status = 'confirmed');
				END IF;
			END $$`,
		}
	} else {
		queries = []string{
			`CREATE TRIGGER IF NOT EXISTS ` + overlapConstraint + `_insert
			BEFORE INSERT ON reservations
			WHEN NEW.status = 'confirmed'
			BEGIN
				SELECT RAISE(ABORT, '` + overlapConstraint + `')
				WHERE EXISTS (
					SELECT 1 FROM reservations r
					WHERE r.table_id = NEW.table_id AND r.status = 'confirmed'
					  AND r.starts_at < NEW.ends_at AND NEW.starts_at < r.ends_at
				);
			END`,
			`CREATE TRIGGER IF NOT EXISTS ` + overlapConstraint + `_update
			BEFORE UPDATE ON reservations
			WHEN NEW.status = 'confirmed'
			BEGIN
				SELECT RAISE(ABORT, '` + overlapConstraint + `')
				WHERE EXISTS (
					SELECT 1 FROM reservations r
					WHERE r.table_id = NEW.table_id AND r.id <> NEW.id AND r.status = 'confirmed'
					  AND r.starts_at < NEW.ends_at AND NEW.starts_at < r.ends_at
				);
			END`,
		}
	}

	for _, q := range queries {
		if err := db.Exec(q).Error; err != nil {
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

// View runs fn in a read-only repeatable-read snapshot.
func (s *Store) View(ctx context.Context, fn func(store.Reader) error) error {
	opts := &sql.TxOptions{ReadOnly: true}
	if s.postgres {
		opts.Isolation = sql.LevelRepeatableRead
	}
	tx := s.db.WithContext(ctx).Begin(opts)
	if tx.Error != nil {
		return classify(fmt.Errorf("begin read: %w", tx.Error))
	}
	defer tx.Rollback()

	return fn(&txn{db: tx, postgres: s.postgres})
}

// Update runs fn in a read-committed write transaction.
func (s *Store) Update(ctx context.Context, fn func(store.Writer) error) error {
	var opts *sql.TxOptions
	if s.postgres {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	tx := s.db.WithContext(ctx).Begin(opts)
	if tx.Error != nil {
		return classify(fmt.Errorf("begin write: %w", tx.Error))
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := fn(&txn{db: tx, postgres: s.postgres}); err != nil {
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	committed = true
	return nil
}

func (s *Store) SyncTables(ctx context.Context, tables []model.Table) error {
	return s.Update(ctx, func(w store.Writer) error {
		return w.(*txn).syncTables(ctx, tables)
	})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// classify maps Postgres and SQLite errors onto store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01": // exclusion_violation
			return fmt.Errorf("%w: %w", store.ErrOverlap, err)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%w: %w", store.ErrBusy, err)
		}
		return err
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.ExtendedCode == sqlite3.ErrConstraintTrigger || strings.Contains(se.Error(), overlapConstraint):
			return fmt.Errorf("%w: %w", store.ErrOverlap, err)
		case se.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", store.ErrBusy, err)
		}
	}
	return err
}
