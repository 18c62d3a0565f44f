package gormstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fusse/internal/model"
	"fusse/internal/store"
)

var evening = time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "gorm.db")), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s, err := New(context.Background(), db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.SyncTables(context.Background(), []model.Table{
		{Number: 1, Capacity: 2, IsActive: true},
		{Number: 2, Capacity: 4, IsActive: true},
		{Number: 3, Capacity: 8, IsActive: false},
	}))
	return s
}

func book(ctx context.Context, w store.Writer, email string, tableNumber int, start time.Time) (*model.Reservation, error) {
	cust, err := w.CustomerByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		cust = &model.Customer{Name: "Guest", Email: email, CreatedAt: start}
		err = w.CreateCustomer(ctx, cust)
	}
	if err != nil {
		return nil, err
	}
	if err := w.LockTables(ctx, 1); err != nil {
		return nil, err
	}
	tables, err := w.ActiveTables(ctx, 1)
	if err != nil {
		return nil, err
	}
	r := &model.Reservation{
		Reference:  uuid.NewString(),
		CustomerID: cust.ID,
		StartsAt:   start,
		EndsAt:     start.Add(2 * time.Hour),
		PartySize:  2,
		Status:     model.StatusConfirmed,
		CreatedAt:  start,
		UpdatedAt:  start,
	}
	for _, tb := range tables {
		if tb.Number == tableNumber {
			r.TableID = tb.ID
			r.TableNumber = tb.Number
		}
	}
	return r, w.InsertReservation(ctx, r)
}

func TestStore_TablesAndCapacity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.View(ctx, func(r store.Reader) error {
		tables, err := r.ActiveTables(ctx, 3)
		require.NoError(t, err)
		require.Len(t, tables, 1)
		assert.Equal(t, 2, tables[0].Number)

		max, err := r.MaxActiveCapacity(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, max)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.SyncTables(ctx, []model.Table{{Number: 3, Capacity: 8, IsActive: true}}))

	err = s.View(ctx, func(r store.Reader) error {
		tables, err := r.ActiveTables(ctx, 1)
		require.NoError(t, err)
		require.Len(t, tables, 1)
		assert.Equal(t, 3, tables[0].Number)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_BookAndRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var created *model.Reservation
	err := s.Update(ctx, func(w store.Writer) error {
		var err error
		created, err = book(ctx, w, "jane@example.com", 2, evening)
		return err
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	err = s.View(ctx, func(r store.Reader) error {
		got, err := r.Reservation(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.TableNumber)
		assert.Equal(t, "jane@example.com", got.CustomerEmail)
		assert.True(t, evening.Equal(got.StartsAt))

		byRef, err := r.ReservationByReference(ctx, created.Reference)
		require.NoError(t, err)
		assert.Equal(t, created.ID, byRef.ID)

		overlapping, err := r.ConfirmedOverlapping(ctx, evening.Add(time.Hour), evening.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Len(t, overlapping, 1)

		touching, err := r.ConfirmedOverlapping(ctx, evening.Add(2*time.Hour), evening.Add(4*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, touching)

		between, err := r.ReservationsBetween(ctx, evening.Add(-time.Hour), evening.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, between, 1)

		idle, err := r.IdleSince(ctx, evening.Add(3*time.Hour))
		require.NoError(t, err)
		assert.True(t, evening.Add(2*time.Hour).Equal(idle[created.TableID]))

		_, err = r.Reservation(ctx, 999)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_OverlapRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Update(ctx, func(w store.Writer) error {
		_, err := book(ctx, w, "a@example.com", 1, evening)
		return err
	}))

	err := s.Update(ctx, func(w store.Writer) error {
		_, err := book(ctx, w, "b@example.com", 1, evening.Add(time.Hour))
		return err
	})
	assert.ErrorIs(t, err, store.ErrOverlap)

	// Half-open: a booking starting exactly at the previous end is fine.
	err = s.Update(ctx, func(w store.Writer) error {
		_, err := book(ctx, w, "b@example.com", 1, evening.Add(2*time.Hour))
		return err
	})
	assert.NoError(t, err)
}

func TestStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var r *model.Reservation
	require.NoError(t, s.Update(ctx, func(w store.Writer) error {
		var err error
		r, err = book(ctx, w, "a@example.com", 1, evening)
		return err
	}))

	require.NoError(t, s.Update(ctx, func(w store.Writer) error {
		return w.UpdateStatus(ctx, r.ID, model.StatusCancelled, evening)
	}))

	err := s.Update(ctx, func(w store.Writer) error {
		return w.UpdateStatus(ctx, 4242, model.StatusCancelled, evening)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The slot is free again once cancelled.
	err = s.Update(ctx, func(w store.Writer) error {
		_, err := book(ctx, w, "b@example.com", 1, evening)
		return err
	})
	assert.NoError(t, err)
}

func TestStore_DuplicateCustomer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Update(ctx, func(w store.Writer) error {
		return w.CreateCustomer(ctx, &model.Customer{Name: "A", Email: "a@example.com", CreatedAt: evening})
	}))
	err := s.Update(ctx, func(w store.Writer) error {
		return w.CreateCustomer(ctx, &model.Customer{Name: "A", Email: "a@example.com", CreatedAt: evening})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestClassify_Postgres(t *testing.T) {
	tests := []struct {
		code      string
		want      error
		transient bool
	}{
		{code: "23P01", want: store.ErrOverlap},
		{code: "23505", want: store.ErrDuplicate},
		{code: "40001", want: store.ErrBusy, transient: true},
		{code: "40P01", want: store.ErrBusy, transient: true},
		{code: "55P03", want: store.ErrBusy, transient: true},
		{code: "23503"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: tt.code, Message: "constraint failed"}
			err := classify(fmt.Errorf("insert reservation: %w", pgErr))

			require.Error(t, err)
			var got *pgconn.PgError
			require.True(t, errors.As(err, &got))
			assert.Equal(t, tt.code, got.Code)
			for _, sentinel := range []error{store.ErrOverlap, store.ErrDuplicate, store.ErrBusy} {
				assert.Equal(t, sentinel == tt.want, errors.Is(err, sentinel), "sentinel %v", sentinel)
			}
			assert.Equal(t, tt.transient, store.IsTransient(err))
		})
	}
}

func TestClassify_Passthrough(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(gorm.ErrRecordNotFound), store.ErrNotFound)

	plain := errors.New("boom")
	assert.Same(t, plain, classify(plain))
}
