package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidPartySize     = errors.New("invalid party size")
	ErrPastDate             = errors.New("date is in the past")
	ErrInvalidDate          = errors.New("invalid date")
	ErrStartNotInFuture     = errors.New("reservation must be in the future")
	ErrOutsideServiceWindow = errors.New("outside service hours")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrMissingField         = errors.New("missing required field")
)

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NoAvailabilityError means no eligible table is free for the requested window.
type NoAvailabilityError struct {
	StartsAt  time.Time
	PartySize int
}

func (e *NoAvailabilityError) Error() string {
	return fmt.Sprintf("no table for %d guests at %s", e.PartySize, e.StartsAt.Format(time.RFC3339))
}

// NotFoundError means the reservation does not exist.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("reservation %d not found", e.ID)
}

// InvalidTransitionError rejects a status change the lifecycle does not allow.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change reservation status from %s to %s", e.From, e.To)
}

// Step names where a booking transaction failed.
type Step string

const (
	StepLock     Step = "lock"
	StepCustomer Step = "customer"
	StepResolve  Step = "resolve"
	StepPersist  Step = "persist"
	StepCommit   Step = "commit"
)

// TransientError is a contention or infrastructure failure. The caller may retry
// when SafeToRetry is true; a commit failure leaves the outcome unknown.
type TransientError struct {
	Step Step
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure at %s: %v", e.Step, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// SafeToRetry reports whether nothing was committed.
func (e *TransientError) SafeToRetry() bool {
	return e.Step != StepCommit
}
