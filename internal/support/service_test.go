package support

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/storage"
)

func newService(t *testing.T) (*Service, models.SupportRequest) {
	t.Helper()
	db := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, db.CreateBooking(ctx, models.Booking{ID: "bk-1", StationID: "st-1", Status: models.BookingCompleted}))
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	s := &Service{Tickets: db, Bookings: db, Now: func() time.Time { return now }}
	tk, err := s.Open(ctx, OpenRequest{BookingID: "bk-1", UserID: "driver-1", Subject: " battery hot "})
	require.NoError(t, err)
	require.Equal(t, models.SupportInProgress, tk.Status)
	require.Equal(t, "battery hot", tk.Subject)
	return s, tk
}

func TestCloseRequiresCompleted(t *testing.T) {
	s, tk := newService(t)
	_, err := s.Close(context.Background(), tk.ID, "all good")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = s.Resolve(context.Background(), tk.ID)
	require.NoError(t, err)
	_, err = s.Close(context.Background(), tk.ID, "all good")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCloseRequiresNote(t *testing.T) {
	s, tk := newService(t)
	ctx := context.Background()
	_, err := s.Complete(ctx, tk.ID)
	require.NoError(t, err)

	_, err = s.Close(ctx, tk.ID, "   ")
	require.ErrorIs(t, err, ErrNoteRequired)
	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, models.SupportCompleted, got.Status)

	closed, err := s.Close(ctx, tk.ID, "refund issued")
	require.NoError(t, err)
	require.Equal(t, models.SupportClosed, closed.Status)
	require.Equal(t, "refund issued", closed.CloseNote)
	require.NotNil(t, closed.ClosedAt)
}

func TestClosedIsTerminal(t *testing.T) {
	s, tk := newService(t)
	ctx := context.Background()
	_, err := s.Complete(ctx, tk.ID)
	require.NoError(t, err)
	_, err = s.Close(ctx, tk.ID, "done")
	require.NoError(t, err)

	for _, op := range []func(context.Context, string) (models.SupportRequest, error){s.Resolve, s.Complete, s.Reopen} {
		_, err := op(ctx, tk.ID)
		require.ErrorIs(t, err, ErrInvalidState)
	}
	_, err = s.Close(ctx, tk.ID, "again")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReopenResolved(t *testing.T) {
	s, tk := newService(t)
	ctx := context.Background()
	_, err := s.Resolve(ctx, tk.ID)
	require.NoError(t, err)
	got, err := s.Reopen(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, models.SupportInProgress, got.Status)
}

func TestUnknownTicketAndBooking(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	_, err := s.Close(ctx, "missing", "x")
	require.ErrorIs(t, err, ErrTicketNotFound)
	_, err = s.Open(ctx, OpenRequest{BookingID: "nope"})
	require.ErrorIs(t, err, ErrBookingRequired)
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to models.SupportStatus
		ok       bool
	}{
		{models.SupportInProgress, models.SupportResolved, true},
		{models.SupportInProgress, models.SupportCompleted, true},
		{models.SupportResolved, models.SupportCompleted, true},
		{models.SupportCompleted, models.SupportClosed, true},
		{models.SupportInProgress, models.SupportClosed, false},
		{models.SupportClosed, models.SupportInProgress, false},
		{models.SupportCompleted, models.SupportInProgress, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}
