// Package slots lists the bookable start times of a service day.
package slots

import (
	"context"
	"iter"
	"time"

	"fusse/internal/availability"
	"fusse/internal/calendar"
	"fusse/internal/clock"
	"fusse/internal/model"
)

// Slot is a start time with at least one free table.
type Slot struct {
	StartsAt        time.Time `json:"starts_at"`
	AvailableTables int       `json:"available_table_count"`
}

type Enumerator struct {
	cal      *calendar.Calendar
	resolver *availability.Resolver
	clock    clock.Clock
	cache    *Cache
}

func NewEnumerator(cal *calendar.Calendar, resolver *availability.Resolver, clk clock.Clock) *Enumerator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Enumerator{cal: cal, resolver: resolver, clock: clk}
}

// WithCache serves and stores fully enumerated days through c.
func (e *Enumerator) WithCache(c *Cache) *Enumerator {
	e.cache = c
	return e
}

// Enumerate validates the request and returns the slots of date in start
// order. Candidates are open + k*granularity whose booking ends by close; a
// candidate is yielded only when a table is free. The sequence reads the store
// as it is consumed and may be iterated more than once. A closed day yields
// nothing.
func (e *Enumerator) Enumerate(ctx context.Context, date time.Time, partySize int) (iter.Seq2[Slot, error], error) {
	if date.IsZero() {
		return nil, &model.ValidationError{Field: "date", Err: model.ErrInvalidDate}
	}
	if err := e.resolver.CheckPartySize(ctx, partySize); err != nil {
		return nil, err
	}
	day := e.cal.Day(date)
	if day.Before(e.cal.Day(e.clock.Now())) {
		return nil, &model.ValidationError{Field: "date", Err: model.ErrPastDate}
	}

	window, open, err := e.cal.ServiceWindow(day)
	if err != nil {
		return nil, err
	}
	if !open {
		return func(func(Slot, error) bool) {}, nil
	}

	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, day, partySize); ok {
			return func(yield func(Slot, error) bool) {
				for _, s := range cached {
					if !yield(s, nil) {
						return
					}
				}
			}, nil
		}
	}

	candidates := e.cal.Candidates(window)
	return func(yield func(Slot, error) bool) {
		gen, cacheable := e.cache.Generation(ctx, day)
		var seen []Slot
		for _, t := range candidates {
			free, err := e.resolver.AvailableTables(ctx, t, partySize)
			if err != nil {
				yield(Slot{}, err)
				return
			}
			if len(free) == 0 {
				continue
			}
			s := Slot{StartsAt: t, AvailableTables: len(free)}
			seen = append(seen, s)
			if !yield(s, nil) {
				return
			}
		}
		if cacheable {
			e.cache.Set(ctx, day, partySize, gen, seen)
		}
	}, nil
}

// Collect drains seq, stopping at the first error.
func Collect(seq iter.Seq2[Slot, error]) ([]Slot, error) {
	var out []Slot
	for s, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
