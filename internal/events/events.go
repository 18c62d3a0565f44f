package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fusse/internal/model"
)

const (
	TypeReservationConfirmed     = "reservation.confirmed"
	TypeReservationStatusChanged = "reservation.status_changed"
)

// Event represents a lightweight domain event.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// ReservationPayload is the body of reservation events.
type ReservationPayload struct {
	ReservationID  int64        `json:"reservation_id"`
	Reference      string       `json:"reference"`
	TableNumber    int          `json:"table_number"`
	StartsAt       time.Time    `json:"starts_at"`
	EndsAt         time.Time    `json:"ends_at"`
	PartySize      int          `json:"num_of_guests"`
	Status         model.Status `json:"status"`
	PreviousStatus model.Status `json:"previous_status,omitempty"`
	CustomerEmail  string       `json:"customer_email,omitempty"`
}

// NewReservationEvent builds an event of the given type for r. prev is empty
// for confirmations.
func NewReservationEvent(eventType string, r *model.Reservation, prev model.Status, at time.Time) (Event, error) {
	body, err := json.Marshal(ReservationPayload{
		ReservationID:  r.ID,
		Reference:      r.Reference,
		TableNumber:    r.TableNumber,
		StartsAt:       r.StartsAt,
		EndsAt:         r.EndsAt,
		PartySize:      r.PartySize,
		Status:         r.Status,
		PreviousStatus: prev,
		CustomerEmail:  r.CustomerEmail,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{ID: uuid.NewString(), Type: eventType, Payload: body, CreatedAt: at}, nil
}

// Reservation decodes the payload of a reservation event.
func (e Event) Reservation() (ReservationPayload, error) {
	var p ReservationPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// Publisher is what the booking manager needs from the bus.
type Publisher interface {
	Publish(event Event)
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	all         []EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Publish notifies subscribers of the event type. Handler errors are logged
// and do not stop the remaining handlers.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	// Handlers run synchronously; caller decides concurrency model.
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event_type", event.Type).Str("event_id", event.ID).Msg("event handler failed")
		}
	}
}
