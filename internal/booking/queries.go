package booking

import (
	"context"
	"errors"
	"iter"
	"time"

	"fusse/internal/availability"
	"fusse/internal/events"
	"fusse/internal/metrics"
	"fusse/internal/model"
	"fusse/internal/slots"
	"fusse/internal/store"
)

// AvailableTables lists the tables free for partySize at startsAt without
// taking any lock.
func (m *Manager) AvailableTables(ctx context.Context, startsAt time.Time, partySize int) ([]availability.Candidate, error) {
	if startsAt.IsZero() {
		return nil, &model.ValidationError{Field: "reservation_datetime", Err: model.ErrInvalidDate}
	}
	if err := m.resolver.CheckPartySize(ctx, partySize); err != nil {
		return nil, m.wrapRead(model.StepResolve, err)
	}
	out, err := m.resolver.AvailableTables(ctx, startsAt.Truncate(time.Second), partySize)
	if err != nil {
		return nil, m.wrapRead(model.StepResolve, err)
	}
	return out, nil
}

// Suggest returns the table the assignment policy would pick at startsAt and
// the number of free tables. ok is false when nothing is free.
func (m *Manager) Suggest(ctx context.Context, startsAt time.Time, partySize int) (table model.Table, free int, ok bool, err error) {
	candidates, err := m.AvailableTables(ctx, startsAt, partySize)
	if err != nil || len(candidates) == 0 {
		return model.Table{}, 0, false, err
	}
	return m.policy.Choose(candidates).Table, len(candidates), true, nil
}

// Enumerate lists the bookable slots of date for partySize.
func (m *Manager) Enumerate(ctx context.Context, date time.Time, partySize int) (iter.Seq2[slots.Slot, error], error) {
	seq, err := m.slots.Enumerate(ctx, date, partySize)
	if err != nil {
		return nil, m.wrapRead(model.StepResolve, err)
	}
	return seq, nil
}

// Get returns a reservation by id.
func (m *Manager) Get(ctx context.Context, id int64) (*model.Reservation, error) {
	var out *model.Reservation
	err := m.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.Reservation(ctx, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, &model.NotFoundError{ID: id}
	}
	return out, err
}

// GetByReference returns a reservation by its confirmation reference.
func (m *Manager) GetByReference(ctx context.Context, ref string) (*model.Reservation, error) {
	var out *model.Reservation
	err := m.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.ReservationByReference(ctx, ref)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, &model.NotFoundError{}
	}
	return out, err
}

// DayReservations returns every reservation starting on the service day of date.
func (m *Manager) DayReservations(ctx context.Context, date time.Time) ([]model.Reservation, error) {
	if date.IsZero() {
		return nil, &model.ValidationError{Field: "date", Err: model.ErrInvalidDate}
	}
	from := m.cal.Day(date)
	to := from.AddDate(0, 0, 1)

	var out []model.Reservation
	err := m.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.ReservationsBetween(ctx, from, to)
		return err
	})
	return out, err
}

// SetStatus moves a reservation along its lifecycle. Only confirmed
// reservations change state, so a second cancellation is rejected.
func (m *Manager) SetStatus(ctx context.Context, id int64, next model.Status) (*model.Reservation, error) {
	if !next.Valid() {
		return nil, &model.ValidationError{Field: "status", Err: model.ErrInvalidStatus}
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.TxTimeout)
	defer cancel()

	var (
		res  *model.Reservation
		prev model.Status
	)
	now := m.clock.Now().UTC().Truncate(time.Second)

	err := m.store.Update(ctx, func(w store.Writer) error {
		var err error
		res, err = w.Reservation(ctx, id)
		if err != nil {
			return err
		}
		prev = res.Status
		if !prev.CanTransition(next) {
			return &model.InvalidTransitionError{From: prev, To: next}
		}
		if err := w.UpdateStatus(ctx, id, next, now); err != nil {
			return err
		}
		res.Status = next
		res.UpdatedAt = now
		return nil
	})

	var invalid *model.InvalidTransitionError
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return nil, &model.NotFoundError{ID: id}
	case errors.As(err, &invalid):
		return nil, err
	default:
		return nil, classify(model.StepPersist, err)
	}

	metrics.IncStatusChange(string(next))
	m.logger.Info().
		Int64("reservation_id", id).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("reservation status changed")
	m.publish(events.TypeReservationStatusChanged, res, prev)
	return res, nil
}
