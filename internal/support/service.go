package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/observability"
	"github.com/example/battery-swap/internal/storage"
)

type Service struct {
	Tickets  storage.TicketStore
	Bookings storage.BookingStore // optional; checks the referenced booking
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

type OpenRequest struct {
	BookingID string `json:"booking_id"`
	UserID    string `json:"user_id"`
	Subject   string `json:"subject"`
}

// Open files a ticket against a booking in status in-progress.
func (s *Service) Open(ctx context.Context, req OpenRequest) (models.SupportRequest, error) {
	if strings.TrimSpace(req.BookingID) == "" {
		return models.SupportRequest{}, ErrBookingRequired
	}
	if s.Bookings != nil {
		if _, err := s.Bookings.GetBooking(ctx, req.BookingID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return models.SupportRequest{}, fmt.Errorf("booking %s: %w", req.BookingID, ErrBookingRequired)
			}
			return models.SupportRequest{}, err
		}
	}
	id := uuid.NewString()
	if s.NewID != nil {
		id = s.NewID()
	}
	now := s.now()
	t := models.SupportRequest{
		ID:        id,
		BookingID: req.BookingID,
		UserID:    req.UserID,
		Subject:   strings.TrimSpace(req.Subject),
		Status:    models.SupportInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Tickets.CreateTicket(ctx, t); err != nil {
		return models.SupportRequest{}, err
	}
	observability.SupportTransitionsTotal.WithLabelValues(string(t.Status)).Inc()
	s.logger().Info("support ticket opened", "ticket", t.ID, "booking", t.BookingID)
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (models.SupportRequest, error) {
	t, err := s.Tickets.GetTicket(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.SupportRequest{}, fmt.Errorf("ticket %s: %w", id, ErrTicketNotFound)
	}
	return t, err
}

func (s *Service) Resolve(ctx context.Context, id string) (models.SupportRequest, error) {
	return s.move(ctx, id, models.SupportResolved, nil)
}

func (s *Service) Complete(ctx context.Context, id string) (models.SupportRequest, error) {
	return s.move(ctx, id, models.SupportCompleted, nil)
}

// Reopen sends a resolved ticket back to in-progress.
func (s *Service) Reopen(ctx context.Context, id string) (models.SupportRequest, error) {
	return s.move(ctx, id, models.SupportInProgress, nil)
}

// Close is only valid from completed and needs a non-blank note.
func (s *Service) Close(ctx context.Context, id, note string) (models.SupportRequest, error) {
	note = strings.TrimSpace(note)
	return s.move(ctx, id, models.SupportClosed, func(t *models.SupportRequest) error {
		if note == "" {
			return ErrNoteRequired
		}
		now := s.now()
		t.CloseNote = note
		t.ClosedAt = &now
		return nil
	})
}

func (s *Service) move(ctx context.Context, id string, to models.SupportStatus, apply func(t *models.SupportRequest) error) (models.SupportRequest, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return models.SupportRequest{}, err
	}
	if !ValidTransition(t.Status, to) {
		return models.SupportRequest{}, fmt.Errorf("ticket %s %s -> %s: %w", id, t.Status, to, ErrInvalidState)
	}
	from := t.Status
	if apply != nil {
		if err := apply(&t); err != nil {
			return models.SupportRequest{}, err
		}
	}
	t.Status = to
	t.UpdatedAt = s.now()
	if err := s.Tickets.UpdateTicket(ctx, t, from); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return models.SupportRequest{}, fmt.Errorf("ticket %s changed concurrently: %w", id, ErrInvalidState)
		}
		return models.SupportRequest{}, err
	}
	observability.SupportTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logger().Info("support ticket transition", "ticket", id, "from", from, "to", to)
	return t, nil
}
