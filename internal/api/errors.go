package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"fusse/internal/model"
)

// writeError maps domain errors onto HTTP responses.
func (s *Server) writeError(c echo.Context, err error) error {
	var (
		ve   *model.ValidationError
		none *model.NoAvailabilityError
		nf   *model.NotFoundError
		it   *model.InvalidTransitionError
		te   *model.TransientError
	)
	switch {
	case errors.As(err, &ve):
		body := echo.Map{"error": validationMessage(ve)}
		if ve.Field != "" {
			body["field"] = ve.Field
		}
		return c.JSON(http.StatusBadRequest, body)
	case errors.As(err, &none):
		return c.JSON(http.StatusConflict, echo.Map{"error": "No tables available for the selected time slot"})
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "Reservation not found"})
	case errors.As(err, &it):
		return c.JSON(http.StatusConflict, echo.Map{"error": it.Error()})
	case errors.As(err, &te):
		if te.SafeToRetry() {
			c.Response().Header().Set("Retry-After", "1")
		}
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"error":      "Reservation service is busy, please try again",
			"retry_safe": te.SafeToRetry(),
		})
	default:
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Internal server error"})
	}
}

func validationMessage(ve *model.ValidationError) string {
	switch {
	case errors.Is(ve, model.ErrStartNotInFuture):
		return "Reservation must be in the future"
	case errors.Is(ve, model.ErrPastDate):
		return "Date cannot be in the past"
	case errors.Is(ve, model.ErrOutsideServiceWindow):
		return "Reservation must start and end within opening hours"
	case errors.Is(ve, model.ErrMissingField):
		return "Missing required field: " + ve.Field
	}
	return ve.Error()
}
