package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fusse/internal/assign"
	"fusse/internal/availability"
	"fusse/internal/booking"
	"fusse/internal/calendar"
	"fusse/internal/clock"
	"fusse/internal/manifest"
	"fusse/internal/store/storetest"
)

var monday = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts Options, capacities ...int) *Server {
	t.Helper()
	st := storetest.OpenSQLite(t, storetest.Tables(capacities...)...)
	cal := calendar.Default(time.UTC)
	logger := zerolog.New(io.Discard)
	mgr := booking.NewManager(booking.Deps{
		Store:    st,
		Calendar: cal,
		Resolver: availability.NewResolver(st, cal.BookingDuration(), 0),
		Policy:   assign.First{},
		Clock:    clock.NewManual(monday),
		Logger:   &logger,
	}, booking.Options{})
	return New(mgr, opts, &logger)
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const createBody = `{"customer_name":"Ada","email":"Ada@Example.com","reservation_datetime":"2024-01-15T19:00:00","num_of_guests":4}`

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, Options{}, 4)

	rec := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decodeBody(t, rec)["status"])

	rec = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	rec = do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	s := newTestServer(t, Options{Ready: map[string]Check{"database": ok}}, 4)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz", "").Code)

	s = newTestServer(t, Options{Ready: map[string]Check{"database": ok, "redis": down}}, 4)
	rec := do(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
}

func TestServer_CreateReservation(t *testing.T) {
	s := newTestServer(t, Options{}, 4)

	rec := do(t, s, http.MethodPost, "/api/reservations", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "Reservation created successfully", body["message"])
	assert.EqualValues(t, 1, body["table_number"])

	res := body["reservation"].(map[string]any)
	assert.Equal(t, "2024-01-15T19:00:00Z", res["reservation_datetime"])
	assert.Equal(t, "2024-01-15T21:00:00Z", res["ends_at"])
	assert.Equal(t, "confirmed", res["status"])
	assert.Equal(t, "ada@example.com", res["customer_email"])

	rec = do(t, s, http.MethodPost, "/api/reservations",
		`{"customer_name":"Bob","email":"bob@example.com","reservation_datetime":"2024-01-15T20:00:00Z","num_of_guests":"2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "No tables available for the selected time slot", decodeBody(t, rec)["error"])
}

func TestServer_CreateReservationValidation(t *testing.T) {
	s := newTestServer(t, Options{}, 4)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{
			name:    "empty body",
			body:    "",
			message: "request body must be JSON",
		},
		{
			name:    "missing email",
			body:    `{"customer_name":"Ada","reservation_datetime":"2024-01-15T19:00:00","num_of_guests":2}`,
			message: "Missing required field: email",
		},
		{
			name:    "missing guests",
			body:    `{"customer_name":"Ada","email":"a@b.c","reservation_datetime":"2024-01-15T19:00:00"}`,
			message: "Missing required field: num_of_guests",
		},
		{
			name: "bad datetime",
			body: `{"customer_name":"Ada","email":"a@b.c","reservation_datetime":"tomorrow","num_of_guests":2}`,
		},
		{
			name:    "guests not a number",
			body:    `{"customer_name":"Ada","email":"a@b.c","reservation_datetime":"2024-01-15T19:00:00","num_of_guests":"many"}`,
			message: "num_of_guests must be a valid integer",
		},
		{
			name:    "in the past",
			body:    `{"customer_name":"Ada","email":"a@b.c","reservation_datetime":"2024-01-15T11:00:00","num_of_guests":2}`,
			message: "Reservation must be in the future",
		},
		{
			name:    "outside hours",
			body:    `{"customer_name":"Ada","email":"a@b.c","reservation_datetime":"2024-01-15T22:00:00","num_of_guests":2}`,
			message: "Reservation must start and end within opening hours",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/reservations", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			if tt.message != "" {
				assert.Contains(t, decodeBody(t, rec)["error"], tt.message)
			}
		})
	}
}

func TestServer_CheckAvailability(t *testing.T) {
	s := newTestServer(t, Options{}, 2, 4)

	rec := do(t, s, http.MethodPost, "/api/reservations/check-availability",
		`{"reservation_datetime":"2024-01-15T19:00:00","num_of_guests":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["available"])
	assert.EqualValues(t, 2, body["table_number"])
	assert.EqualValues(t, 4, body["capacity"])
	assert.EqualValues(t, 1, body["available_table_count"])

	rec = do(t, s, http.MethodPost, "/api/reservations/check-availability",
		`{"reservation_datetime":"2024-01-15T19:00:00","num_of_guests":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Slots(t *testing.T) {
	s := newTestServer(t, Options{}, 2)

	rec := do(t, s, http.MethodGet, "/api/reservations/slots/available?date=2024-01-15&num_of_guests=2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp slotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 9, resp.TotalAvailableSlots)
	assert.Equal(t, "17:00", resp.AvailableSlots[0].Time)
	assert.Equal(t, "21:00", resp.AvailableSlots[8].Time)

	rec = do(t, s, http.MethodPost, "/api/reservations",
		`{"customer_name":"Ada","email":"ada@example.com","reservation_datetime":"2024-01-15T19:00:00","num_of_guests":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/reservations/slots/available?date=2024-01-15&num_of_guests=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = slotsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.TotalAvailableSlots)
	assert.Equal(t, "17:00", resp.AvailableSlots[0].Time)
	assert.Equal(t, "21:00", resp.AvailableSlots[1].Time)

	for _, target := range []string{
		"/api/reservations/slots/available?num_of_guests=2",
		"/api/reservations/slots/available?date=2024-01-15",
		"/api/reservations/slots/available?date=15/01/2024&num_of_guests=2",
		"/api/reservations/slots/available?date=2024-01-15&num_of_guests=x",
		"/api/reservations/slots/available?date=2024-01-14&num_of_guests=2",
	} {
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, target, "").Code, target)
	}
}

func TestServer_GetAndUpdateStatus(t *testing.T) {
	s := newTestServer(t, Options{}, 4)

	rec := do(t, s, http.MethodPost, "/api/reservations", createBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decodeBody(t, rec)["reservation"].(map[string]any)
	id := int(res["reservation_id"].(float64))
	ref := res["reference"].(string)
	path := "/api/reservations/" + strconv.Itoa(id)

	rec = do(t, s, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ref, decodeBody(t, rec)["reference"])

	rec = do(t, s, http.MethodGet, "/api/reservations/reference/"+ref, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, id, decodeBody(t, rec)["reservation_id"])

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/reservations/999", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/reservations/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/reservations/reference/NOPE", "").Code)

	rec = do(t, s, http.MethodPut, path, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required field: status", decodeBody(t, rec)["error"])

	rec = do(t, s, http.MethodPut, path, `{"status":"seated"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, path, `{"status":"cancelled"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "Reservation status updated successfully", body["message"])
	assert.Equal(t, "cancelled", body["reservation"].(map[string]any)["status"])

	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPut, path, `{"status":"completed"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPut, "/api/reservations/999", `{"status":"cancelled"}`).Code)

	// The cancelled booking frees the table.
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/reservations", createBody).Code)
}

func TestServer_Manifest(t *testing.T) {
	s := newTestServer(t, Options{}, 4)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/reservations", createBody).Code)

	rec := do(t, s, http.MethodGet, "/api/reservations/manifest?date=2024-01-15", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, manifest.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "manifest_20240115.xlsx")
	assert.NotZero(t, rec.Body.Len())

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/reservations/manifest", "").Code)
}

func TestServer_UnknownRouteIsJSON(t *testing.T) {
	s := newTestServer(t, Options{}, 4)
	rec := do(t, s, http.MethodGet, "/api/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "error")
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, Options{RateLimitEnabled: true, Rate: 0.001, Burst: 2}, 4)
	body := `{"reservation_datetime":"2024-01-15T19:00:00","num_of_guests":2}`

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/reservations/check-availability", body).Code)
	}
	rec := do(t, s, http.MethodPost, "/api/reservations/check-availability", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "").Code)
}

func TestClientLimiter_ForgetsIdleClients(t *testing.T) {
	l := newClientLimiter(0.001, 1, time.Minute)
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ok, err := l.Allow("10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l.Allow("10.0.0.1")
	assert.False(t, ok)
	ok, _ = l.Allow("10.0.0.2")
	assert.True(t, ok)
	assert.Len(t, l.clients, 2)

	now = now.Add(2 * time.Minute)
	ok, _ = l.Allow("10.0.0.1")
	assert.True(t, ok)
	assert.Len(t, l.clients, 1)
}
