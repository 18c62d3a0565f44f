// Package interval implements half-open time intervals used for table occupancy.
package interval

import (
	"fmt"
	"time"
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Of returns the interval starting at start and lasting d. d must be positive.
func Of(start time.Time, d time.Duration) Interval {
	if d <= 0 {
		panic(fmt.Sprintf("interval: non-positive duration %s", d))
	}
	return Interval{Start: start, End: start.Add(d)}
}

// Overlaps reports whether the two intervals share any instant.
// Intervals that only touch at a boundary do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}

// Overlaps reports whether [aStart, aStart+aDur) and [bStart, bStart+bDur) overlap.
func Overlaps(aStart time.Time, aDur time.Duration, bStart time.Time, bDur time.Duration) bool {
	return Of(aStart, aDur).Overlaps(Of(bStart, bDur))
}
