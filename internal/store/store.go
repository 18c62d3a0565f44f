// Package store defines the persistence boundary of the booking engine.
//
// Reads run inside View, a read-only snapshot. Mutations run inside Update, a
// serialised write transaction that is rolled back on any error or panic and
// committed only when the callback returns nil.
package store

import (
	"context"
	"errors"
	"time"

	"fusse/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrOverlap   = errors.New("reservation overlaps a confirmed reservation")
	ErrDuplicate = errors.New("duplicate key")
	// ErrBusy marks lock contention, serialization failures and similar retryable conditions.
	ErrBusy = errors.New("storage busy")
)

// Reader is the read side available in both snapshots and write transactions.
type Reader interface {
	// ActiveTables returns active tables seating at least minCapacity, ordered by id.
	ActiveTables(ctx context.Context, minCapacity int) ([]model.Table, error)
	// MaxActiveCapacity returns the largest capacity among active tables, 0 if none.
	MaxActiveCapacity(ctx context.Context) (int, error)
	// ConfirmedOverlapping returns confirmed reservations intersecting [from, to).
	ConfirmedOverlapping(ctx context.Context, from, to time.Time) ([]model.Reservation, error)
	// IdleSince returns, per table, the latest end of a confirmed or completed
	// reservation that ended at or before at.
	IdleSince(ctx context.Context, at time.Time) (map[int64]time.Time, error)
	Reservation(ctx context.Context, id int64) (*model.Reservation, error)
	ReservationByReference(ctx context.Context, ref string) (*model.Reservation, error)
	// ReservationsBetween returns reservations of any status starting in [from, to), by start.
	ReservationsBetween(ctx context.Context, from, to time.Time) ([]model.Reservation, error)
	CustomerByEmail(ctx context.Context, email string) (*model.Customer, error)
}

// Writer is the handle passed to Update callbacks.
type Writer interface {
	Reader
	CreateCustomer(ctx context.Context, c *model.Customer) error
	// LockTables takes row locks on active tables seating at least minCapacity,
	// in id order. Backends whose write transactions are already exclusive may no-op.
	LockTables(ctx context.Context, minCapacity int) error
	// InsertReservation stores r and sets r.ID. A confirmed overlap fails with ErrOverlap.
	InsertReservation(ctx context.Context, r *model.Reservation) error
	UpdateStatus(ctx context.Context, id int64, status model.Status, at time.Time) error
}

// Store is implemented by every persistence backend.
type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Writer) error) error
	// SyncTables upserts the inventory by table number and deactivates tables missing from it.
	SyncTables(ctx context.Context, tables []model.Table) error
	Ping(ctx context.Context) error
	Close() error
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, context.DeadlineExceeded)
}
