// Package storetest provides SQLite-backed fixtures for package tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fusse/internal/model"
	"fusse/internal/store"
	"fusse/internal/store/sqlite"
)

// Tables numbers tables from 1 with the given capacities, all active.
func Tables(capacities ...int) []model.Table {
	out := make([]model.Table, len(capacities))
	for i, c := range capacities {
		out[i] = model.Table{Number: i + 1, Capacity: c, IsActive: true}
	}
	return out
}

// OpenSQLite opens a store in a temp dir and syncs the given tables into it.
func OpenSQLite(t testing.TB, tables ...model.Table) *sqlite.Store {
	t.Helper()

	logger := zerolog.Nop()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "fusse.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	if len(tables) > 0 {
		require.NoError(t, st.SyncTables(context.Background(), tables))
	}
	return st
}

// Reserve inserts a reservation on the table with the given number, bypassing the booking manager.
func Reserve(t testing.TB, st store.Store, tableNumber int, start time.Time, d time.Duration, status model.Status) *model.Reservation {
	t.Helper()
	ctx := context.Background()

	var out *model.Reservation
	err := st.Update(ctx, func(w store.Writer) error {
		email := fmt.Sprintf("guest%d@example.com", tableNumber)
		cust, err := w.CustomerByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			cust = &model.Customer{Name: "Guest", Email: email, CreatedAt: start}
			err = w.CreateCustomer(ctx, cust)
		}
		if err != nil {
			return err
		}

		tables, err := w.ActiveTables(ctx, 0)
		if err != nil {
			return err
		}
		for _, tb := range tables {
			if tb.Number != tableNumber {
				continue
			}
			r := &model.Reservation{
				Reference:   uuid.NewString(),
				CustomerID:  cust.ID,
				TableID:     tb.ID,
				TableNumber: tb.Number,
				StartsAt:    start.UTC(),
				EndsAt:      start.Add(d).UTC(),
				PartySize:   1,
				Status:      status,
				CreatedAt:   start,
				UpdatedAt:   start,
			}
			if err := w.InsertReservation(ctx, r); err != nil {
				return err
			}
			out = r
			return nil
		}
		return fmt.Errorf("table %d not found", tableNumber)
	})
	require.NoError(t, err)
	return out
}
