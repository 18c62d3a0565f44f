package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fusse/internal/model"
)

// guestCount accepts a JSON number or a numeric string.
type guestCount struct {
	value int
	set   bool
}

func (g *guestCount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := strings.Trim(string(data), `"`)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("num_of_guests must be a valid integer")
	}
	g.value, g.set = n, true
	return nil
}

type createRequest struct {
	CustomerName        string     `json:"customer_name"`
	Email               string     `json:"email"`
	PhoneNumber         string     `json:"phone_number"`
	ReservationDatetime string     `json:"reservation_datetime"`
	NumOfGuests         guestCount `json:"num_of_guests"`
}

type checkRequest struct {
	ReservationDatetime string     `json:"reservation_datetime"`
	NumOfGuests         guestCount `json:"num_of_guests"`
}

type statusRequest struct {
	Status *string `json:"status"`
}

func decode(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return &model.ValidationError{Err: fmt.Errorf("request body must be JSON")}
	}
	if err := json.Unmarshal(body, v); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return &model.ValidationError{Field: te.Field, Err: fmt.Errorf("invalid value")}
		}
		return &model.ValidationError{Err: err}
	}
	return nil
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseDateTime reads an ISO-8601 timestamp. Values without an offset are
// wall-clock times in loc.
func parseDateTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &model.ValidationError{Field: "reservation_datetime", Err: model.ErrMissingField}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &model.ValidationError{
		Field: "reservation_datetime",
		Err:   fmt.Errorf("%w: use ISO format (YYYY-MM-DDTHH:MM:SS)", model.ErrInvalidDate),
	}
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, &model.ValidationError{Field: "date", Err: model.ErrMissingField}
	}
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, &model.ValidationError{
			Field: "date",
			Err:   fmt.Errorf("%w: use YYYY-MM-DD", model.ErrInvalidDate),
		}
	}
	return t, nil
}

func requireGuests(g guestCount) (int, error) {
	if !g.set {
		return 0, &model.ValidationError{Field: "num_of_guests", Err: model.ErrMissingField}
	}
	return g.value, nil
}

type reservationResponse struct {
	ReservationID       int64        `json:"reservation_id"`
	Reference           string       `json:"reference"`
	CustomerID          int64        `json:"customer_id"`
	TableID             int64        `json:"table_id"`
	TableNumber         int          `json:"table_number"`
	ReservationDatetime string       `json:"reservation_datetime"`
	EndsAt              string       `json:"ends_at"`
	NumOfGuests         int          `json:"num_of_guests"`
	Status              model.Status `json:"status"`
	CreatedAt           string       `json:"created_at"`
	UpdatedAt           string       `json:"updated_at"`
	CustomerName        string       `json:"customer_name,omitempty"`
	CustomerEmail       string       `json:"customer_email,omitempty"`
}

func toResponse(r *model.Reservation, loc *time.Location) reservationResponse {
	return reservationResponse{
		ReservationID:       r.ID,
		Reference:           r.Reference,
		CustomerID:          r.CustomerID,
		TableID:             r.TableID,
		TableNumber:         r.TableNumber,
		ReservationDatetime: r.StartsAt.In(loc).Format(time.RFC3339),
		EndsAt:              r.EndsAt.In(loc).Format(time.RFC3339),
		NumOfGuests:         r.PartySize,
		Status:              r.Status,
		CreatedAt:           r.CreatedAt.In(loc).Format(time.RFC3339),
		UpdatedAt:           r.UpdatedAt.In(loc).Format(time.RFC3339),
		CustomerName:        r.CustomerName,
		CustomerEmail:       r.CustomerEmail,
	}
}

type slotResponse struct {
	Time                string `json:"time"`
	Datetime            string `json:"datetime"`
	AvailableTableCount int    `json:"available_table_count"`
}

type slotsResponse struct {
	Date                string         `json:"date"`
	NumOfGuests         int            `json:"num_of_guests"`
	AvailableSlots      []slotResponse `json:"available_slots"`
	TotalAvailableSlots int            `json:"total_available_slots"`
}
