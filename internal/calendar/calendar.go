// Package calendar answers when the restaurant accepts bookings.
//
// A Calendar holds weekly opening hours, per-date overrides (holidays and
// special hours), the slot granularity and the fixed booking duration. All
// dates are interpreted in the restaurant time zone.
package calendar

import (
	"fmt"
	"time"

	"fusse/internal/config"
	"fusse/internal/model"
)

const (
	DefaultGranularity     = 30 * time.Minute
	DefaultBookingDuration = 2 * time.Hour
)

// Hours are opening and closing offsets from local midnight.
type Hours struct {
	Open  time.Duration
	Close time.Duration
}

// Window is a concrete service window on one date.
type Window struct {
	Open  time.Time
	Close time.Time
}

// Fits reports whether a booking of length d starting at start lies inside the window.
func (w Window) Fits(start time.Time, d time.Duration) bool {
	return !start.Before(w.Open) && !start.Add(d).After(w.Close)
}

type override struct {
	closed bool
	hours  Hours
	name   string
}

type Calendar struct {
	loc         *time.Location
	weekly      [7]*Hours // nil means closed
	overrides   map[string]override
	granularity time.Duration
	duration    time.Duration
}

// Default returns the standard schedule: Monday to Saturday 17:00-23:00,
// Sunday 17:00-21:00, 30-minute slots, 2-hour bookings.
func Default(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	c := &Calendar{
		loc:         loc,
		overrides:   make(map[string]override),
		granularity: DefaultGranularity,
		duration:    DefaultBookingDuration,
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		c.weekly[d] = &Hours{Open: 17 * time.Hour, Close: 23 * time.Hour}
	}
	c.weekly[time.Sunday] = &Hours{Open: 17 * time.Hour, Close: 21 * time.Hour}
	return c
}

// FromConfig builds a calendar from the defaults overlaid with configured hours.
func FromConfig(cfg *config.Config) (*Calendar, error) {
	c := Default(cfg.Location())
	c.granularity = cfg.SlotGranularity()
	c.duration = cfg.BookingDuration()

	for name, h := range cfg.Calendar.WeeklyHours {
		day, ok := config.Weekday(name)
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		hours, err := parseHours(h)
		if err != nil {
			return nil, fmt.Errorf("weekly hours %s: %w", name, err)
		}
		c.weekly[day] = hours
	}

	for _, o := range cfg.Calendar.Overrides {
		date, err := time.ParseInLocation("2006-01-02", o.Date, c.loc)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", o.Date, err)
		}
		hours, err := parseHours(o.HoursConfig)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", o.Date, err)
		}
		if hours == nil {
			c.Close(date, o.Name)
		} else {
			c.SetHours(date, *hours)
		}
	}

	return c, nil
}

func parseHours(h config.HoursConfig) (*Hours, error) {
	if h.Closed {
		return nil, nil
	}
	open, err := config.ParseClock(h.Open)
	if err != nil {
		return nil, err
	}
	closing, err := config.ParseClock(h.Close)
	if err != nil {
		return nil, err
	}
	if closing <= open {
		return nil, fmt.Errorf("close %s is not after open %s", h.Close, h.Open)
	}
	return &Hours{Open: open, Close: closing}, nil
}

// SetWeekly replaces the hours of a weekday. nil closes the day.
func (c *Calendar) SetWeekly(day time.Weekday, h *Hours) {
	c.weekly[day] = h
}

// SetHours overrides the hours of a single date.
func (c *Calendar) SetHours(date time.Time, h Hours) {
	c.overrides[c.key(date)] = override{hours: h}
}

// Close marks a single date as closed.
func (c *Calendar) Close(date time.Time, reason string) {
	c.overrides[c.key(date)] = override{closed: true, name: reason}
}

func (c *Calendar) Location() *time.Location       { return c.loc }
func (c *Calendar) Granularity() time.Duration     { return c.granularity }
func (c *Calendar) BookingDuration() time.Duration { return c.duration }

// Day returns local midnight of the date t falls on.
func (c *Calendar) Day(t time.Time) time.Time {
	l := t.In(c.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.loc)
}

func (c *Calendar) key(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// ServiceWindow returns the window for the date t falls on. ok is false when
// the restaurant is closed that day.
func (c *Calendar) ServiceWindow(t time.Time) (w Window, ok bool, err error) {
	if t.IsZero() {
		return Window{}, false, &model.ValidationError{Field: "date", Err: model.ErrInvalidDate}
	}

	day := c.Day(t)
	hours := c.weekly[day.Weekday()]
	if o, found := c.overrides[c.key(day)]; found {
		if o.closed {
			return Window{}, false, nil
		}
		hours = &o.hours
	}
	if hours == nil {
		return Window{}, false, nil
	}

	// time.Date normalizes hour overflow, so DST days keep wall-clock hours.
	open := time.Date(day.Year(), day.Month(), day.Day(), 0, int(hours.Open/time.Minute), 0, 0, c.loc)
	closing := time.Date(day.Year(), day.Month(), day.Day(), 0, int(hours.Close/time.Minute), 0, 0, c.loc)
	return Window{Open: open, Close: closing}, true, nil
}

// CheckStart verifies that a booking starting at start fits in its day's window.
func (c *Calendar) CheckStart(start time.Time) error {
	w, ok, err := c.ServiceWindow(start)
	if err != nil {
		return err
	}
	if !ok || !w.Fits(start, c.duration) {
		return &model.ValidationError{Field: "reservation_datetime", Err: model.ErrOutsideServiceWindow}
	}
	return nil
}

// Candidates returns every granularity-aligned start whose booking fits the window.
func (c *Calendar) Candidates(w Window) []time.Time {
	var out []time.Time
	for t := w.Open; !t.Add(c.duration).After(w.Close); t = t.Add(c.granularity) {
		out = append(out, t)
	}
	return out
}
