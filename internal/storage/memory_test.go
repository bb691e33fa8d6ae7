package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
)

func TestMemoryCommitSwapChecksStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	b := models.Booking{ID: "bk-1", StationID: "st-1", BatteryID: "bat-x", Status: models.BookingPending, CreatedAt: now}
	require.NoError(t, m.CreateBooking(ctx, b))
	require.Error(t, m.CreateBooking(ctx, b))

	confirmed := b
	confirmed.Status = models.BookingConfirmed
	require.NoError(t, m.CommitSwap(ctx, &SwapCommit{
		Booking:      confirmed,
		ExpectStatus: models.BookingPending,
		Inventory:    inventory.Changeset{Batteries: []models.Battery{{ID: "bat-1", StationID: "st-1", Status: models.BatteryBooked}}},
	}))

	// a second confirm against the stale status must not land
	err := m.CommitSwap(ctx, &SwapCommit{Booking: confirmed, ExpectStatus: models.BookingPending})
	require.True(t, errors.Is(err, ErrConflict), "got %v", err)

	got, err := m.GetBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.Equal(t, models.BookingConfirmed, got.Status)

	snap, err := m.LoadInventory(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Batteries, 1)
	require.Equal(t, models.BatteryBooked, snap.Batteries[0].Status)
}

func TestMemoryTransactionsKeepCompletionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for _, id := range []string{"bk-a", "bk-b", "bk-c"} {
		require.NoError(t, m.CreateBooking(ctx, models.Booking{ID: id, StationID: "st-1", Status: models.BookingConfirmed}))
	}
	for _, id := range []string{"bk-c", "bk-a", "bk-b"} {
		done := models.Booking{ID: id, StationID: "st-1", Status: models.BookingCompleted}
		tx := &models.Transaction{ID: "tx-" + id, BookingID: id, StationID: "st-1", Cost: decimal.RequireFromString("4.50")}
		require.NoError(t, m.CommitSwap(ctx, &SwapCommit{Booking: done, ExpectStatus: models.BookingConfirmed, Transaction: tx}))
	}
	txs, err := m.ListTransactions(ctx, "st-1")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for i, want := range []string{"bk-c", "bk-a", "bk-b"} {
		require.Equal(t, want, txs[i].BookingID)
		require.Equal(t, int64(i+1), txs[i].Seq)
	}
}

func TestMemoryTicketConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	tk := models.SupportRequest{ID: "sr-1", BookingID: "bk-1", Status: models.SupportInProgress}
	require.NoError(t, m.CreateTicket(ctx, tk))

	tk.Status = models.SupportCompleted
	require.NoError(t, m.UpdateTicket(ctx, tk, models.SupportInProgress))
	require.ErrorIs(t, m.UpdateTicket(ctx, tk, models.SupportInProgress), ErrConflict)

	_, err := m.GetTicket(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	body := `{
		"stations": [{"id": "st-1", "name": "Depot", "capacity": 4}],
		"pillars": [{"id": "p-1", "station_id": "st-1", "pillar_number": 1}],
		"batteries": [{"id": "b-1", "serial": "SN1", "status": "full", "soh": 97, "station_id": "st-1"}],
		"slots": [{"id": "s-1", "pillar_id": "p-1", "slot_number": 1, "status": "occupied", "battery": "b-1"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	snap, err := LoadSeedFile(path)
	require.NoError(t, err)

	inv := inventory.NewStore()
	require.NoError(t, inv.Load(context.Background(), snap))
	rec, err := inv.StationRecord("st-1")
	require.NoError(t, err)
	require.Equal(t, 1, rec.BatteryCounts.Available)
	require.Equal(t, 1, rec.Provisioned)
}
