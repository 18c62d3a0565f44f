package model

import (
	"fmt"
	"strings"
	"time"

	"fusse/internal/interval"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Statuses lists every known status in display order.
var Statuses = []Status{StatusConfirmed, StatusCancelled, StatusCompleted}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// CanTransition reports whether a reservation in status s may move to next.
// Only confirmed reservations change state; cancelled and completed are terminal.
func (s Status) CanTransition(next Status) bool {
	return s == StatusConfirmed && (next == StatusCancelled || next == StatusCompleted)
}

// ParseStatus converts user input to a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Err: ErrInvalidStatus}
	}
	return s, nil
}

// Customer is a guest identified by e-mail.
type Customer struct {
	ID        int64     `json:"customer_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone_number,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeEmail is the canonical form used for customer lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Table is a bookable dining table.
type Table struct {
	ID       int64 `json:"table_id"`
	Number   int   `json:"table_number"`
	Capacity int   `json:"capacity"`
	IsActive bool  `json:"is_active"`
}

// Fits reports whether the table can seat the party.
func (t Table) Fits(partySize int) bool {
	return t.IsActive && t.Capacity >= partySize
}

// Reservation binds a customer to a table for [StartsAt, EndsAt).
type Reservation struct {
	ID          int64     `json:"reservation_id"`
	Reference   string    `json:"reference"`
	CustomerID  int64     `json:"customer_id"`
	TableID     int64     `json:"table_id"`
	TableNumber int       `json:"table_number"`
	StartsAt    time.Time `json:"reservation_datetime"`
	EndsAt      time.Time `json:"ends_at"`
	PartySize   int       `json:"num_of_guests"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Filled on reads that join the customer.
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

// Interval returns the occupancy window of the reservation.
func (r *Reservation) Interval() interval.Interval {
	return interval.Interval{Start: r.StartsAt, End: r.EndsAt}
}

func (r *Reservation) String() string {
	return fmt.Sprintf("reservation %d (table %d, %s, %s)", r.ID, r.TableNumber, r.Interval(), r.Status)
}
