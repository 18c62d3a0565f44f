package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Booking outcomes.
const (
	OutcomeBooked         = "booked"
	OutcomeNoAvailability = "no_availability"
	OutcomeInvalid        = "invalid"
	OutcomeTransient      = "transient"
	OutcomeError          = "error"
)

var (
	once sync.Once

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusse",
			Name:      "bookings_total",
			Help:      "Count of booking attempts by outcome.",
		},
		[]string{"outcome"},
	)

	statusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusse",
			Name:      "status_changes_total",
			Help:      "Count of reservation status changes by new status.",
		},
		[]string{"status"},
	)

	bookDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fusse",
			Name:      "book_duration_seconds",
			Help:      "Time spent in Book, including lock wait.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	availableTables = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fusse",
			Name:      "available_tables",
			Help:      "Number of free tables seen when booking.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookings, statusChanges, bookDuration, availableTables)
	})
}

func IncBooking(outcome string) {
	bookings.WithLabelValues(outcome).Inc()
}

func IncStatusChange(status string) {
	statusChanges.WithLabelValues(status).Inc()
}

func ObserveBookDuration(d time.Duration) {
	bookDuration.Observe(d.Seconds())
}

func ObserveAvailableTables(n int) {
	availableTables.Observe(float64(n))
}
