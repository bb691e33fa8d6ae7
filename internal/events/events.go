package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/observability"
)

type Type string

const (
	InventoryChanged   Type = "inventory.changed"
	BookingUpdated     Type = "booking.updated"
	TransactionCreated Type = "transaction.created"
	StationSnapshot    Type = "station.snapshot"
)

// Event is the envelope written to the broker. Key is the station id so all
// events of a station land on one partition in commit order.
type Event struct {
	ID      string          `json:"id"`
	Type    Type            `json:"type"`
	Key     string          `json:"key"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// StationPayload carries inventory changes and the station views after them.
type StationPayload struct {
	Stations []models.StationRecord `json:"stations"`
	Changes  []inventory.Change     `json:"changes,omitempty"`
}

func New(t Type, key string, at time.Time, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: uuid.NewString(), Type: t, Key: key, At: at, Payload: b}, nil
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
}

// Nop drops every event; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }

// Outbox decouples committers from the broker. Enqueue never blocks; when
// the buffer is full the event is dropped and counted.
type Outbox struct {
	ch     chan Event
	logger *slog.Logger
}

func NewOutbox(size int, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{ch: make(chan Event, size), logger: logger}
}

func (o *Outbox) Enqueue(e Event) {
	select {
	case o.ch <- e:
	default:
		observability.EventsPublishedTotal.WithLabelValues(string(e.Type), "dropped").Inc()
		o.logger.Warn("event outbox full, dropping", "type", e.Type, "key", e.Key)
	}
}

// Publish lets the outbox stand in for a Publisher.
func (o *Outbox) Publish(_ context.Context, evs ...Event) error {
	for _, e := range evs {
		o.Enqueue(e)
	}
	return nil
}

// InventoryListener turns committed inventory changes into events.
func (o *Outbox) InventoryListener() inventory.Listener {
	return func(c inventory.Commit) {
		for _, rec := range c.Stations {
			var changes []inventory.Change
			for _, ch := range c.Changes {
				if ch.StationID == rec.ID {
					changes = append(changes, ch)
				}
			}
			e, err := New(InventoryChanged, rec.ID, rec.UpdatedAt, StationPayload{Stations: []models.StationRecord{rec}, Changes: changes})
			if err != nil {
				o.logger.Error("encode inventory event", "station", rec.ID, "err", err)
				continue
			}
			o.Enqueue(e)
		}
	}
}

// Run drains the outbox into pub until ctx is done, then flushes what is
// left with a short deadline.
func (o *Outbox) Run(ctx context.Context, pub Publisher) {
	for {
		select {
		case e := <-o.ch:
			o.deliver(ctx, pub, e)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for {
				select {
				case e := <-o.ch:
					o.deliver(flushCtx, pub, e)
				default:
					return
				}
			}
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, pub Publisher, e Event) {
	if err := pub.Publish(ctx, e); err != nil {
		observability.EventsPublishedTotal.WithLabelValues(string(e.Type), "error").Inc()
		o.logger.Error("publish event", "type", e.Type, "key", e.Key, "error", err)
		return
	}
	observability.EventsPublishedTotal.WithLabelValues(string(e.Type), "ok").Inc()
}
