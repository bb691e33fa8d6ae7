package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/battery-swap/internal/events"
	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/lease"
	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/observability"
	"github.com/example/battery-swap/internal/storage"
)

var tracer = otel.Tracer("github.com/example/battery-swap/internal/swap")

// Notifier pushes booking updates to connected clients.
type Notifier interface {
	NotifyBooking(b models.Booking, tx *models.Transaction)
}

// Service owns the booking lifecycle. It is the only writer of battery
// status and slot occupancy during a swap; every transition runs under the
// station lock and commits the booking together with the inventory change.
type Service struct {
	Inventory *inventory.Store
	Bookings  storage.BookingStore
	Events    events.Publisher // optional
	Notify    Notifier         // optional
	Fee       decimal.Decimal
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string

	once   sync.Once
	intake *lease.Set
}

func (s *Service) init() {
	s.once.Do(func() {
		s.intake = lease.NewSet()
		if s.Logger == nil {
			s.Logger = slog.Default()
		}
		if s.Now == nil {
			s.Now = time.Now
		}
		if s.NewID == nil {
			s.NewID = uuid.NewString
		}
		if s.Events == nil {
			s.Events = events.Nop{}
		}
	})
}

// Request is a driver's swap request as received from the booking
// collaborator. Station and battery may arrive as ids or inline objects.
type Request struct {
	UserID      string                     `json:"user_id"`
	Station     models.Ref[models.Station] `json:"station"`
	Battery     models.Ref[models.Battery] `json:"battery"`
	ScheduledAt time.Time                  `json:"scheduled_at"`
}

// Return is what staff record when the driver's battery is handed in.
type Return struct {
	// SOH is the measured state of health of the returned battery, if taken.
	SOH *float64 `json:"soh,omitempty"`
}

// Create registers a pending booking. Only one open booking may exist per
// returned battery.
func (s *Service) Create(ctx context.Context, req Request) (models.Booking, error) {
	s.init()
	stationID, batteryID := req.Station.ID(), req.Battery.ID()
	if req.UserID == "" || stationID == "" || batteryID == "" {
		return models.Booking{}, fmt.Errorf("user, station and battery are required: %w", ErrInvalidRequest)
	}
	if _, err := s.Inventory.Station(stationID); err != nil {
		return models.Booking{}, err
	}
	bat, err := s.Inventory.Get(batteryID)
	if err != nil {
		return models.Booking{}, err
	}
	if bat.Retired {
		return models.Booking{}, fmt.Errorf("battery %s is retired: %w", batteryID, ErrInvalidRequest)
	}

	release, err := s.intake.Acquire(ctx, lease.Key("booking", batteryID))
	if err != nil {
		return models.Booking{}, err
	}
	defer release()

	for _, st := range []models.BookingStatus{models.BookingPending, models.BookingConfirmed} {
		open, err := s.Bookings.ListBookings(ctx, "", st)
		if err != nil {
			return models.Booking{}, err
		}
		for _, b := range open {
			if b.BatteryID == batteryID {
				return models.Booking{}, fmt.Errorf("battery %s already has %s booking %s: %w", batteryID, b.Status, b.ID, ErrInvalidState)
			}
		}
	}

	now := s.Now()
	b := models.Booking{
		ID:          s.NewID(),
		UserID:      req.UserID,
		StationID:   stationID,
		BatteryID:   batteryID,
		ScheduledAt: req.ScheduledAt,
		Status:      models.BookingPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if b.ScheduledAt.IsZero() {
		b.ScheduledAt = now
	}
	if err := s.Bookings.CreateBooking(ctx, b); err != nil {
		return models.Booking{}, err
	}
	s.Logger.Info("booking created", "booking", b.ID, "station", b.StationID, "battery", b.BatteryID, "user", b.UserID)
	s.after(ctx, b, nil)
	return b, nil
}

// Confirm is the staff action that reserves a replacement battery for a
// pending booking. Selection and every reservation commit together or not
// at all.
func (s *Service) Confirm(ctx context.Context, bookingID, staffID string) (models.Booking, error) {
	b, _, err := s.transition(ctx, "Confirm", bookingID, models.BookingPending, models.BookingConfirmed,
		func(tx *inventory.Tx, b models.Booking) (models.Booking, *models.Transaction, error) {
			if sl, docked := tx.SlotOf(b.BatteryID); docked {
				return b, nil, fmt.Errorf("returned battery %s sits in slot %s: %w", b.BatteryID, sl.ID, inventory.ErrInvalidTransition)
			}
			if _, err := tx.Battery(b.BatteryID); err != nil {
				return b, nil, err
			}
			pick, ok, err := pickReplacement(tx, b.StationID, b.BatteryID)
			if err != nil {
				return b, nil, err
			}
			if !ok {
				return b, nil, fmt.Errorf("station %s: %w", b.StationID, ErrNoAvailableBattery)
			}
			if _, err := tx.Reserve(pick.slot.ID); err != nil {
				return b, nil, err
			}
			if _, err := tx.SetStatus(pick.battery.ID, models.BatteryBooked); err != nil {
				return b, nil, err
			}
			if _, err := tx.SetStatus(b.BatteryID, models.BatteryInUse); err != nil {
				return b, nil, err
			}
			now := tx.Now()
			b.Status = models.BookingConfirmed
			b.ReplacementID = pick.battery.ID
			b.ReplacementSlotID = pick.slot.ID
			b.ConfirmedBy = staffID
			b.ConfirmedAt = &now
			b.UpdatedAt = now
			return b, nil, nil
		})
	return b, err
}

// Complete records the physical hand-over: the reserved battery leaves with
// the driver, the returned battery takes its slot and starts charging, and
// the Transaction is written in the same commit.
func (s *Service) Complete(ctx context.Context, bookingID string, ret Return) (models.Booking, models.Transaction, error) {
	b, rec, err := s.transition(ctx, "Complete", bookingID, models.BookingConfirmed, models.BookingCompleted,
		func(tx *inventory.Tx, b models.Booking) (models.Booking, *models.Transaction, error) {
			slot, err := tx.Slot(b.ReplacementSlotID)
			if err != nil {
				return b, nil, err
			}
			if slot.BatteryID != b.ReplacementID {
				return b, nil, fmt.Errorf("slot %s no longer holds battery %s: %w", slot.ID, b.ReplacementID, ErrInvalidState)
			}
			returned, err := tx.Battery(b.BatteryID)
			if err != nil {
				return b, nil, err
			}
			if _, err := tx.Release(slot.ID); err != nil {
				return b, nil, err
			}
			if _, _, err := tx.RemoveBattery(slot.ID); err != nil {
				return b, nil, err
			}
			given, err := tx.SetStatus(b.ReplacementID, models.BatteryInUse)
			if err != nil {
				return b, nil, err
			}
			if _, err := tx.MoveBattery(returned.ID, b.StationID); err != nil {
				return b, nil, err
			}
			if ret.SOH != nil {
				if _, err := tx.SetHealth(returned.ID, *ret.SOH); err != nil {
					return b, nil, err
				}
			}
			if _, err := tx.SetStatus(returned.ID, models.BatteryCharging); err != nil {
				return b, nil, err
			}
			if _, err := tx.Assign(slot.ID, returned.ID); err != nil {
				return b, nil, err
			}

			now := tx.Now()
			started := b.CreatedAt
			if b.ConfirmedAt != nil {
				started = *b.ConfirmedAt
			}
			b.Status = models.BookingCompleted
			b.CompletedAt = &now
			b.UpdatedAt = now
			rec := &models.Transaction{
				ID:              s.NewID(),
				BookingID:       b.ID,
				StationID:       b.StationID,
				DriverID:        b.UserID,
				BatteryReturned: models.BatterySnapshot{ID: returned.ID, Model: returned.Model, SOH: returned.SOH},
				BatteryGiven:    models.BatterySnapshot{ID: given.ID, Model: given.Model, SOH: given.SOH},
				Cost:            s.Fee,
				Status:          models.BookingCompleted,
				StartedAt:       started,
				CompletedAt:     now,
			}
			return b, rec, nil
		})
	if err != nil {
		return b, models.Transaction{}, err
	}
	observability.TransactionsTotal.Inc()
	return b, *rec, nil
}

// Cancel withdraws a pending booking. Nothing was reserved yet so inventory
// is untouched.
func (s *Service) Cancel(ctx context.Context, bookingID, reason string) (models.Booking, error) {
	b, _, err := s.transition(ctx, "Cancel", bookingID, models.BookingPending, models.BookingCancelled,
		func(tx *inventory.Tx, b models.Booking) (models.Booking, *models.Transaction, error) {
			now := tx.Now()
			b.Status = models.BookingCancelled
			b.CancelReason = reason
			b.CancelledAt = &now
			b.UpdatedAt = now
			return b, nil, nil
		})
	return b, err
}

// Dispute flags a confirmed booking for review. It is terminal and leaves
// the reservation in place.
func (s *Service) Dispute(ctx context.Context, bookingID, reason string) (models.Booking, error) {
	b, _, err := s.transition(ctx, "Dispute", bookingID, models.BookingConfirmed, models.BookingDisputed,
		func(tx *inventory.Tx, b models.Booking) (models.Booking, *models.Transaction, error) {
			now := tx.Now()
			b.Status = models.BookingDisputed
			b.DisputeReason = reason
			b.DisputedAt = &now
			b.UpdatedAt = now
			return b, nil, nil
		})
	return b, err
}

func (s *Service) Get(ctx context.Context, bookingID string) (models.Booking, error) {
	s.init()
	return s.load(ctx, bookingID)
}

func (s *Service) List(ctx context.Context, stationID string, status models.BookingStatus) ([]models.Booking, error) {
	return s.Bookings.ListBookings(ctx, stationID, status)
}

// Transactions returns the station's swap audit trail in completion order.
func (s *Service) Transactions(ctx context.Context, stationID string) ([]models.Transaction, error) {
	if _, err := s.Inventory.Station(stationID); err != nil {
		return nil, err
	}
	return s.Bookings.ListTransactions(ctx, stationID)
}

type step func(tx *inventory.Tx, b models.Booking) (models.Booking, *models.Transaction, error)

func (s *Service) transition(ctx context.Context, op, bookingID string, from, to models.BookingStatus, fn step) (models.Booking, *models.Transaction, error) {
	s.init()
	ctx, span := tracer.Start(ctx, "swap."+op, trace.WithAttributes(
		attribute.String("booking.id", bookingID),
		attribute.String("booking.to", string(to)),
	))
	defer span.End()
	start := time.Now()

	next, rec, err := s.commit(ctx, bookingID, from, fn)

	observability.SwapLatency.WithLabelValues(string(to)).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.SwapTransitionsTotal.WithLabelValues(string(to), resultLabel(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.Logger.Warn("booking transition rejected", "op", op, "booking", bookingID, "to", to, "err", err)
		return models.Booking{}, nil, err
	}
	observability.SwapTransitionsTotal.WithLabelValues(string(to), "ok").Inc()
	span.SetAttributes(attribute.String("station.id", next.StationID))
	s.Logger.Info("booking transition", "op", op, "booking", next.ID, "station", next.StationID,
		"from", from, "to", to, "replacement", next.ReplacementID)
	s.after(ctx, next, rec)
	return next, rec, nil
}

// commit runs fn under the locks of the booking's station and of the
// station currently holding the returned battery. The booking is re-read
// under the lock so a concurrent transition is seen before anything changes.
func (s *Service) commit(ctx context.Context, bookingID string, from models.BookingStatus, fn step) (models.Booking, *models.Transaction, error) {
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return models.Booking{}, nil, err
	}
	if b.Status != from {
		return models.Booking{}, nil, invalidState(b, from)
	}
	var (
		next models.Booking
		rec  *models.Transaction
	)
	for attempt := 0; attempt < 3; attempt++ {
		stations := []string{b.StationID}
		if owner, ok := s.Inventory.StationOf(b.BatteryID); ok {
			stations = append(stations, owner)
		}
		err = s.Inventory.Update(ctx, stations, func(tx *inventory.Tx) error {
			cur, err := s.load(tx.Context(), bookingID)
			if err != nil {
				return err
			}
			if cur.Status != from {
				return invalidState(cur, from)
			}
			next, rec, err = fn(tx, cur)
			if err != nil {
				return err
			}
			tx.OnPersist(func(ctx context.Context, cs inventory.Changeset) error {
				err := s.Bookings.CommitSwap(ctx, &storage.SwapCommit{
					Booking:      next,
					ExpectStatus: from,
					Inventory:    cs,
					Transaction:  rec,
				})
				if errors.Is(err, storage.ErrConflict) {
					return fmt.Errorf("booking %s: %w", bookingID, ErrInvalidState)
				}
				return err
			})
			return nil
		})
		// the returned battery moved between the lookup and the lock
		if errors.Is(err, inventory.ErrNotLocked) {
			continue
		}
		break
	}
	if err != nil {
		return models.Booking{}, nil, err
	}
	return next, rec, nil
}

func (s *Service) load(ctx context.Context, id string) (models.Booking, error) {
	b, err := s.Bookings.GetBooking(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Booking{}, fmt.Errorf("booking %s: %w", id, ErrBookingNotFound)
	}
	return b, err
}

func (s *Service) after(ctx context.Context, b models.Booking, rec *models.Transaction) {
	evs := make([]events.Event, 0, 2)
	if e, err := events.New(events.BookingUpdated, b.StationID, b.UpdatedAt, b); err == nil {
		evs = append(evs, e)
	}
	if rec != nil {
		if e, err := events.New(events.TransactionCreated, rec.StationID, rec.CompletedAt, rec); err == nil {
			evs = append(evs, e)
		}
	}
	if err := s.Events.Publish(ctx, evs...); err != nil {
		s.Logger.Error("publish booking events", "booking", b.ID, "err", err)
	}
	if s.Notify != nil {
		s.Notify.NotifyBooking(b, rec)
	}
}

func invalidState(b models.Booking, want models.BookingStatus) error {
	return fmt.Errorf("booking %s is %s, not %s: %w", b.ID, b.Status, want, ErrInvalidState)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNoAvailableBattery):
		return "no_battery"
	case errors.Is(err, ErrBookingNotFound):
		return "not_found"
	default:
		return "error"
	}
}
