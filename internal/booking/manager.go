// Package booking commits reservations and drives their lifecycle.
//
// A booking runs as: validate, take the per-day booking lock, then in one
// write transaction resolve the customer, resolve free tables, choose one
// with the assignment policy and insert the reservation. Nothing is visible
// to other readers until the commit succeeds.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fusse/internal/assign"
	"fusse/internal/availability"
	"fusse/internal/calendar"
	"fusse/internal/clock"
	"fusse/internal/events"
	"fusse/internal/lock"
	"fusse/internal/metrics"
	"fusse/internal/model"
	"fusse/internal/slots"
	"fusse/internal/store"
)

// CustomerInfo identifies the guest making a booking.
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
}

// Deps are the collaborators of a Manager. Store, Calendar and Resolver are
// required; the rest fall back to defaults.
type Deps struct {
	Store    store.Store
	Calendar *calendar.Calendar
	Resolver *availability.Resolver
	Policy   assign.Policy
	Locker   lock.Locker
	Clock    clock.Clock
	Events   events.Publisher
	Logger   *zerolog.Logger
	// Slots defaults to an uncached enumerator over Calendar and Resolver.
	Slots *slots.Enumerator
}

type Options struct {
	// LockTimeout bounds the wait for the booking lock.
	LockTimeout time.Duration
	// TxTimeout bounds the whole booking, lock wait included.
	TxTimeout time.Duration
}

type Manager struct {
	store    store.Store
	cal      *calendar.Calendar
	resolver *availability.Resolver
	policy   assign.Policy
	locker   lock.Locker
	clock    clock.Clock
	events   events.Publisher
	logger   *zerolog.Logger
	slots    *slots.Enumerator
	opts     Options
}

func NewManager(d Deps, opts Options) *Manager {
	if d.Policy == nil {
		d.Policy = assign.NewRandom(nil)
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocal()
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Logger == nil {
		nop := zerolog.Nop()
		d.Logger = &nop
	}
	if d.Slots == nil {
		d.Slots = slots.NewEnumerator(d.Calendar, d.Resolver, d.Clock)
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 3 * time.Second
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 5 * time.Second
	}
	return &Manager{
		store:    d.Store,
		cal:      d.Calendar,
		resolver: d.Resolver,
		policy:   d.Policy,
		locker:   d.Locker,
		clock:    d.Clock,
		events:   d.Events,
		logger:   d.Logger,
		slots:    d.Slots,
		opts:     opts,
	}
}

func (m *Manager) Calendar() *calendar.Calendar     { return m.cal }
func (m *Manager) Resolver() *availability.Resolver { return m.resolver }
func (m *Manager) Clock() clock.Clock               { return m.clock }

// stepError tags a failure inside the write transaction with where it happened.
type stepError struct {
	step model.Step
	err  error
}

func (e *stepError) Error() string { return fmt.Sprintf("%s: %v", e.step, e.err) }
func (e *stepError) Unwrap() error { return e.err }

// Book reserves a table for partySize guests from startsAt for the booking
// duration. It returns *model.ValidationError, *model.NoAvailabilityError or
// *model.TransientError for the expected failure modes.
func (m *Manager) Book(ctx context.Context, info CustomerInfo, startsAt time.Time, partySize int) (res *model.Reservation, err error) {
	began := time.Now()
	defer func() {
		metrics.ObserveBookDuration(time.Since(began))
		metrics.IncBooking(outcome(err))
	}()

	info, err = normalize(info)
	if err != nil {
		return nil, err
	}

	startsAt = startsAt.Truncate(time.Second)
	if startsAt.IsZero() {
		return nil, &model.ValidationError{Field: "reservation_datetime", Err: model.ErrInvalidDate}
	}
	if !startsAt.After(m.clock.Now()) {
		return nil, &model.ValidationError{Field: "reservation_datetime", Err: model.ErrStartNotInFuture}
	}
	if err := m.cal.CheckStart(startsAt); err != nil {
		return nil, err
	}
	if err := m.resolver.CheckPartySize(ctx, partySize); err != nil {
		return nil, m.wrapRead(model.StepResolve, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.TxTimeout)
	defer cancel()

	unlock, err := m.lockDays(ctx, startsAt)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err = m.commit(ctx, info, startsAt, partySize)
	if err != nil {
		var none *model.NoAvailabilityError
		switch {
		case errors.As(err, &none):
			m.logger.Info().Time("starts_at", startsAt).Int("party_size", partySize).Msg("no table available")
		case isTransient(err):
			m.logger.Warn().Err(err).Time("starts_at", startsAt).Int("party_size", partySize).Msg("booking failed transiently")
		default:
			m.logger.Error().Err(err).Time("starts_at", startsAt).Int("party_size", partySize).Msg("booking failed")
		}
		return nil, err
	}
	// Subscribers may call back into the store or the locker.
	unlock()

	m.logger.Info().
		Int64("reservation_id", res.ID).
		Str("reference", res.Reference).
		Int("table_number", res.TableNumber).
		Time("starts_at", res.StartsAt).
		Int("party_size", res.PartySize).
		Msg("reservation confirmed")
	m.publish(events.TypeReservationConfirmed, res, "")
	return res, nil
}

func (m *Manager) commit(ctx context.Context, info CustomerInfo, startsAt time.Time, partySize int) (*model.Reservation, error) {
	var (
		res      *model.Reservation
		finished bool
		table    model.Table
		cust     *model.Customer
	)
	now := m.clock.Now().UTC().Truncate(time.Second)

	err := m.store.Update(ctx, func(w store.Writer) error {
		var err error
		cust, err = w.CustomerByEmail(ctx, info.Email)
		if errors.Is(err, store.ErrNotFound) {
			cust = &model.Customer{Name: info.Name, Email: info.Email, Phone: info.Phone, CreatedAt: now}
			err = w.CreateCustomer(ctx, cust)
		}
		if err != nil {
			return &stepError{step: model.StepCustomer, err: err}
		}

		if err := w.LockTables(ctx, partySize); err != nil {
			return &stepError{step: model.StepLock, err: err}
		}

		candidates, err := m.resolver.Resolve(ctx, w, startsAt, partySize)
		if err != nil {
			return &stepError{step: model.StepResolve, err: err}
		}
		metrics.ObserveAvailableTables(len(candidates))
		if len(candidates) == 0 {
			return &model.NoAvailabilityError{StartsAt: startsAt, PartySize: partySize}
		}
		table = m.policy.Choose(candidates).Table

		res = &model.Reservation{
			Reference:   uuid.NewString(),
			CustomerID:  cust.ID,
			TableID:     table.ID,
			TableNumber: table.Number,
			StartsAt:    startsAt.UTC(),
			EndsAt:      startsAt.Add(m.resolver.Duration()).UTC(),
			PartySize:   partySize,
			Status:      model.StatusConfirmed,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := w.InsertReservation(ctx, res); err != nil {
			return &stepError{step: model.StepPersist, err: err}
		}
		finished = true
		return nil
	})
	if err == nil {
		res.CustomerName = cust.Name
		res.CustomerEmail = cust.Email
		return res, nil
	}

	var se *stepError
	if errors.As(err, &se) {
		return nil, classify(se.step, se.err)
	}
	var none *model.NoAvailabilityError
	if errors.As(err, &none) {
		return nil, err
	}
	if finished {
		// The outcome of a failed commit is unknown.
		return nil, &model.TransientError{Step: model.StepCommit, Err: err}
	}
	return nil, classify(model.StepLock, err)
}

// classify turns contention into TransientError and wraps everything else.
func classify(step model.Step, err error) error {
	if store.IsTransient(err) || errors.Is(err, store.ErrOverlap) || errors.Is(err, store.ErrDuplicate) ||
		errors.Is(err, context.Canceled) {
		return &model.TransientError{Step: step, Err: err}
	}
	return fmt.Errorf("%s: %w", step, err)
}

func (m *Manager) wrapRead(step model.Step, err error) error {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return classify(step, err)
}

func isTransient(err error) bool {
	var te *model.TransientError
	return errors.As(err, &te)
}

// lockDays takes the booking lock of every service day a conflicting
// reservation could start on, in date order. The returned release is safe to
// call more than once.
func (m *Manager) lockDays(ctx context.Context, startsAt time.Time) (func(), error) {
	d := m.resolver.Duration()
	var keys []string
	last := m.cal.Day(startsAt.Add(d - time.Nanosecond))
	for day := m.cal.Day(startsAt.Add(-d + time.Nanosecond)); !day.After(last); day = m.cal.Day(day.AddDate(0, 0, 1)) {
		keys = append(keys, "book:"+day.Format("2006-01-02"))
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.opts.LockTimeout)
	defer cancel()

	var (
		unlocks []func()
		once    sync.Once
	)
	release := func() {
		once.Do(func() {
			for i := len(unlocks) - 1; i >= 0; i-- {
				unlocks[i]()
			}
		})
	}
	for _, key := range keys {
		unlock, err := m.locker.Lock(lockCtx, key)
		if err != nil {
			release()
			return nil, &model.TransientError{Step: model.StepLock, Err: err}
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func normalize(info CustomerInfo) (CustomerInfo, error) {
	info.Name = strings.TrimSpace(info.Name)
	info.Email = model.NormalizeEmail(info.Email)
	info.Phone = strings.TrimSpace(info.Phone)
	if info.Name == "" {
		return info, &model.ValidationError{Field: "customer_name", Err: model.ErrMissingField}
	}
	if info.Email == "" {
		return info, &model.ValidationError{Field: "email", Err: model.ErrMissingField}
	}
	return info, nil
}

func outcome(err error) string {
	var (
		ve   *model.ValidationError
		none *model.NoAvailabilityError
	)
	switch {
	case err == nil:
		return metrics.OutcomeBooked
	case errors.As(err, &ve):
		return metrics.OutcomeInvalid
	case errors.As(err, &none):
		return metrics.OutcomeNoAvailability
	case isTransient(err):
		return metrics.OutcomeTransient
	default:
		return metrics.OutcomeError
	}
}

func (m *Manager) publish(eventType string, r *model.Reservation, prev model.Status) {
	if m.events == nil {
		return
	}
	ev, err := events.NewReservationEvent(eventType, r, prev, m.clock.Now())
	if err != nil {
		m.logger.Error().Err(err).Str("event_type", eventType).Msg("build event")
		return
	}
	m.events.Publish(ev)
}
