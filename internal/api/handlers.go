package api

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"fusse/internal/booking"
	"fusse/internal/manifest"
	"fusse/internal/model"
)

func (s *Server) loc() *time.Location { return s.mgr.Calendar().Location() }

func readBody(c echo.Context, v any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return err
	}
	return decode(body, v)
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"message": "Café Fausse API is running!", "status": "success"})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "healthy", "service": "cafe-fausse-api"})
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleReadyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
	defer cancel()

	names := make([]string, 0, len(s.opts.Ready))
	for name := range s.opts.Ready {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.opts.Ready[name](ctx); err != nil {
			s.logger.Warn().Err(err).Str("dependency", name).Msg("readiness check failed")
			return c.String(http.StatusServiceUnavailable, name+" not ready")
		}
	}
	return c.String(http.StatusOK, "ready")
}

// POST /api/reservations
func (s *Server) handleCreate(c echo.Context) error {
	var req createRequest
	if err := readBody(c, &req); err != nil {
		return s.writeError(c, err)
	}
	startsAt, err := parseDateTime(req.ReservationDatetime, s.loc())
	if err != nil {
		return s.writeError(c, err)
	}
	guests, err := requireGuests(req.NumOfGuests)
	if err != nil {
		return s.writeError(c, err)
	}

	r, err := s.mgr.Book(c.Request().Context(), booking.CustomerInfo{
		Name:  req.CustomerName,
		Email: req.Email,
		Phone: req.PhoneNumber,
	}, startsAt, guests)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"message":      "Reservation created successfully",
		"reservation":  toResponse(r, s.loc()),
		"table_number": r.TableNumber,
	})
}

// POST /api/reservations/check-availability
func (s *Server) handleCheckAvailability(c echo.Context) error {
	var req checkRequest
	if err := readBody(c, &req); err != nil {
		return s.writeError(c, err)
	}
	startsAt, err := parseDateTime(req.ReservationDatetime, s.loc())
	if err != nil {
		return s.writeError(c, err)
	}
	guests, err := requireGuests(req.NumOfGuests)
	if err != nil {
		return s.writeError(c, err)
	}

	table, free, ok, err := s.mgr.Suggest(c.Request().Context(), startsAt, guests)
	if err != nil {
		return s.writeError(c, err)
	}
	if !ok {
		return c.JSON(http.StatusOK, echo.Map{"available": false, "available_table_count": 0})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"available":             true,
		"table_number":          table.Number,
		"capacity":              table.Capacity,
		"available_table_count": free,
	})
}

// GET /api/reservations/slots/available?date=YYYY-MM-DD&num_of_guests=N
func (s *Server) handleSlots(c echo.Context) error {
	date, err := parseDate(c.QueryParam("date"), s.loc())
	if err != nil {
		return s.writeError(c, err)
	}
	raw := c.QueryParam("num_of_guests")
	if raw == "" {
		return s.writeError(c, &model.ValidationError{Field: "num_of_guests", Err: model.ErrMissingField})
	}
	guests, err := strconv.Atoi(raw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "num_of_guests must be a valid integer"})
	}

	seq, err := s.mgr.Enumerate(c.Request().Context(), date, guests)
	if err != nil {
		return s.writeError(c, err)
	}

	resp := slotsResponse{
		Date:           date.Format("2006-01-02"),
		NumOfGuests:    guests,
		AvailableSlots: []slotResponse{},
	}
	for slot, err := range seq {
		if err != nil {
			return s.writeError(c, err)
		}
		local := slot.StartsAt.In(s.loc())
		resp.AvailableSlots = append(resp.AvailableSlots, slotResponse{
			Time:                local.Format("15:04"),
			Datetime:            local.Format(time.RFC3339),
			AvailableTableCount: slot.AvailableTables,
		})
	}
	resp.TotalAvailableSlots = len(resp.AvailableSlots)
	return c.JSON(http.StatusOK, resp)
}

// GET /api/reservations/manifest?date=YYYY-MM-DD
func (s *Server) handleManifest(c echo.Context) error {
	date, err := parseDate(c.QueryParam("date"), s.loc())
	if err != nil {
		return s.writeError(c, err)
	}
	reservations, err := s.mgr.DayReservations(c.Request().Context(), date)
	if err != nil {
		return s.writeError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+manifest.FileName(date)+`"`)
	c.Response().Header().Set(echo.HeaderContentType, manifest.ContentType)
	c.Response().WriteHeader(http.StatusOK)
	return manifest.Write(c.Response(), date, reservations, s.loc())
}

// GET /api/reservations/:id
func (s *Server) handleGet(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "Reservation not found"})
	}
	r, err := s.mgr.Get(c.Request().Context(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(r, s.loc()))
}

// GET /api/reservations/reference/:reference
func (s *Server) handleGetByReference(c echo.Context) error {
	r, err := s.mgr.GetByReference(c.Request().Context(), c.Param("reference"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(r, s.loc()))
}

// PUT /api/reservations/:id {"status": "cancelled"}
func (s *Server) handleUpdateStatus(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "Reservation not found"})
	}

	var req statusRequest
	if err := readBody(c, &req); err != nil {
		return s.writeError(c, err)
	}
	if req.Status == nil {
		return s.writeError(c, &model.ValidationError{Field: "status", Err: model.ErrMissingField})
	}
	status, err := model.ParseStatus(*req.Status)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid status. Must be one of: confirmed, cancelled, completed",
		})
	}

	r, err := s.mgr.SetStatus(c.Request().Context(), id, status)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":     "Reservation status updated successfully",
		"reservation": toResponse(r, s.loc()),
	})
}
