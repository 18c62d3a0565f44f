// Package availability computes which tables are free for a party at an instant.
package availability

import (
	"context"
	"fmt"
	"time"

	"fusse/internal/interval"
	"fusse/internal/model"
	"fusse/internal/store"
)

// Candidate is a table free for the requested window.
type Candidate struct {
	Table model.Table
	// IdleSince is the end of the table's latest reservation before the
	// window, zero when it has none.
	IdleSince time.Time
}

// Resolver answers availability questions against the store.
type Resolver struct {
	store        store.Store
	duration     time.Duration
	maxPartySize int
}

// NewResolver returns a resolver for bookings lasting duration. maxPartySize
// caps the party size below the largest table; 0 means no extra cap.
func NewResolver(st store.Store, duration time.Duration, maxPartySize int) *Resolver {
	return &Resolver{store: st, duration: duration, maxPartySize: maxPartySize}
}

func (r *Resolver) Duration() time.Duration { return r.duration }

// AvailableTables resolves availability in a read snapshot.
func (r *Resolver) AvailableTables(ctx context.Context, start time.Time, partySize int) ([]Candidate, error) {
	var out []Candidate
	err := r.store.View(ctx, func(rd store.Reader) error {
		var err error
		out, err = r.Resolve(ctx, rd, start, partySize)
		return err
	})
	return out, err
}

// Resolve returns active tables seating partySize with no confirmed
// reservation overlapping [start, start+duration). The result is ordered by
// table id and empty when nothing fits. partySize must be at least 1.
func (r *Resolver) Resolve(ctx context.Context, rd store.Reader, start time.Time, partySize int) ([]Candidate, error) {
	if partySize < 1 {
		panic(fmt.Sprintf("availability: party size %d", partySize))
	}

	tables, err := rd.ActiveTables(ctx, partySize)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, nil
	}

	window := interval.Of(start, r.duration)
	booked, err := rd.ConfirmedOverlapping(ctx, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}
	busy := make(map[int64]struct{}, len(booked))
	for i := range booked {
		if booked[i].Interval().Overlaps(window) {
			busy[booked[i].TableID] = struct{}{}
		}
	}

	idle, err := rd.IdleSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("load idle times: %w", err)
	}

	out := make([]Candidate, 0, len(tables))
	for _, t := range tables {
		if !t.Fits(partySize) {
			continue
		}
		if _, taken := busy[t.ID]; taken {
			continue
		}
		out = append(out, Candidate{Table: t, IdleSince: idle[t.ID]})
	}
	return out, nil
}

// MaxPartySize is the largest active capacity, further capped by configuration.
func (r *Resolver) MaxPartySize(ctx context.Context) (int, error) {
	var capacity int
	err := r.store.View(ctx, func(rd store.Reader) error {
		var err error
		capacity, err = rd.MaxActiveCapacity(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if r.maxPartySize > 0 && r.maxPartySize < capacity {
		capacity = r.maxPartySize
	}
	return capacity, nil
}

// CheckPartySize returns a validation error unless 1 <= partySize <= MaxPartySize.
func (r *Resolver) CheckPartySize(ctx context.Context, partySize int) error {
	if partySize < 1 {
		return &model.ValidationError{Field: "num_of_guests", Err: model.ErrInvalidPartySize}
	}
	limit, err := r.MaxPartySize(ctx)
	if err != nil {
		return err
	}
	if partySize > limit {
		return &model.ValidationError{
			Field: "num_of_guests",
			Err:   fmt.Errorf("%w: must be between 1 and %d", model.ErrInvalidPartySize, limit),
		}
	}
	return nil
}
