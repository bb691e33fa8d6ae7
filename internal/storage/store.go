package storage

import (
	"context"
	"errors"

	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write finds the record in
	// a different state than the caller expected.
	ErrConflict = errors.New("record changed concurrently")
)

// SwapCommit is everything a booking transition writes. It is applied in one
// storage transaction: the booking update only lands if the stored status
// still equals ExpectStatus.
type SwapCommit struct {
	Booking      models.Booking
	ExpectStatus models.BookingStatus
	Inventory    inventory.Changeset
	// Transaction is set on completion. Seq is assigned by the store.
	Transaction *models.Transaction
}

// BookingStore persists bookings and the transaction audit trail.
type BookingStore interface {
	CreateBooking(ctx context.Context, b models.Booking) error
	GetBooking(ctx context.Context, id string) (models.Booking, error)
	ListBookings(ctx context.Context, stationID string, status models.BookingStatus) ([]models.Booking, error)
	CommitSwap(ctx context.Context, c *SwapCommit) error
	ListTransactions(ctx context.Context, stationID string) ([]models.Transaction, error)
}

// TicketStore persists support requests.
type TicketStore interface {
	CreateTicket(ctx context.Context, t models.SupportRequest) error
	GetTicket(ctx context.Context, id string) (models.SupportRequest, error)
	UpdateTicket(ctx context.Context, t models.SupportRequest, expect models.SupportStatus) error
}

// InventoryStore is the system of record for battery and slot state.
type InventoryStore interface {
	inventory.Persister
	LoadInventory(ctx context.Context) (inventory.Snapshot, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	BookingStore
	TicketStore
	InventoryStore
	Close() error
}
