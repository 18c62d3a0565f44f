// Package manifest renders a day's reservations as an xlsx seating sheet for
// front of house.
package manifest

import (
	"fmt"
	"io"
	"sort"
	"time"

	"fusse/internal/model"
)

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var columns = []string{"Time", "Ends", "Table", "Guests", "Name", "Email", "Status", "Reference"}

// SheetName is the name of the reservations sheet for date.
func SheetName(date time.Time) string {
	return date.Format("2006-01-02")
}

// FileName is the suggested download name for date.
func FileName(date time.Time) string {
	return fmt.Sprintf("manifest_%s.xlsx", date.Format("20060102"))
}

// Write renders reservations ordered by start then table, followed by a
// summary sheet with counts per status and confirmed covers. Times are shown
// in loc.
func Write(out io.Writer, date time.Time, reservations []model.Reservation, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	rows := append([]model.Reservation(nil), reservations...)
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].StartsAt.Equal(rows[j].StartsAt) {
			return rows[i].StartsAt.Before(rows[j].StartsAt)
		}
		return rows[i].TableNumber < rows[j].TableNumber
	})

	w := newSheetWriter()
	defer w.close()

	if err := w.addSheet(SheetName(date)); err != nil {
		return err
	}
	if err := w.writeHeader(columns); err != nil {
		return err
	}

	counts := make(map[model.Status]int)
	covers := 0
	for _, r := range rows {
		counts[r.Status]++
		if r.Status == model.StatusConfirmed {
			covers += r.PartySize
		}
		err := w.writeRow([]any{
			r.StartsAt.In(loc).Format("15:04"),
			r.EndsAt.In(loc).Format("15:04"),
			r.TableNumber,
			r.PartySize,
			r.CustomerName,
			r.CustomerEmail,
			string(r.Status),
			r.Reference,
		})
		if err != nil {
			return fmt.Errorf("write reservation %d: %w", r.ID, err)
		}
	}

	if err := w.addSheet("Summary"); err != nil {
		return err
	}
	if err := w.writeHeader([]string{"Status", "Reservations"}); err != nil {
		return err
	}
	for _, s := range model.Statuses {
		if err := w.writeRow([]any{string(s), counts[s]}); err != nil {
			return err
		}
	}
	if err := w.writeRow([]any{"covers", covers}); err != nil {
		return err
	}

	return w.save(out)
}
