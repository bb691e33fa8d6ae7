package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
)

// MemoryStore keeps every record in process memory.
type MemoryStore struct {
	mu           sync.RWMutex
	bookings     map[string]models.Booking
	transactions map[string][]models.Transaction // by station, in seq order
	tickets      map[string]models.SupportRequest

	stations  map[string]models.Station
	pillars   map[string]models.Pillar
	slots     map[string]models.Slot
	batteries map[string]models.Battery
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:     make(map[string]models.Booking),
		transactions: make(map[string][]models.Transaction),
		tickets:      make(map[string]models.SupportRequest),
		stations:     make(map[string]models.Station),
		pillars:      make(map[string]models.Pillar),
		slots:        make(map[string]models.Slot),
		batteries:    make(map[string]models.Battery),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateBooking(_ context.Context, b models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s: %w", b.ID, ErrConflict)
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBooking(_ context.Context, id string) (models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.Booking{}, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func (m *MemoryStore) ListBookings(_ context.Context, stationID string, status models.BookingStatus) ([]models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if stationID != "" && b.StationID != stationID {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CommitSwap(_ context.Context, c *SwapCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.bookings[c.Booking.ID]
	if !ok {
		return fmt.Errorf("booking %s: %w", c.Booking.ID, ErrNotFound)
	}
	if cur.Status != c.ExpectStatus {
		return fmt.Errorf("booking %s is %s, expected %s: %w", cur.ID, cur.Status, c.ExpectStatus, ErrConflict)
	}
	m.applyInventory(c.Inventory)
	m.bookings[c.Booking.ID] = c.Booking
	if c.Transaction != nil {
		txs := m.transactions[c.Transaction.StationID]
		c.Transaction.Seq = int64(len(txs)) + 1
		m.transactions[c.Transaction.StationID] = append(txs, *c.Transaction)
	}
	return nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, stationID string) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Transaction(nil), m.transactions[stationID]...), nil
}

func (m *MemoryStore) CreateTicket(_ context.Context, t models.SupportRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[t.ID]; ok {
		return fmt.Errorf("ticket %s: %w", t.ID, ErrConflict)
	}
	m.tickets[t.ID] = t
	return nil
}

func (m *MemoryStore) GetTicket(_ context.Context, id string) (models.SupportRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return models.SupportRequest{}, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (m *MemoryStore) UpdateTicket(_ context.Context, t models.SupportRequest, expect models.SupportStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tickets[t.ID]
	if !ok {
		return fmt.Errorf("ticket %s: %w", t.ID, ErrNotFound)
	}
	if cur.Status != expect {
		return fmt.Errorf("ticket %s is %s, expected %s: %w", t.ID, cur.Status, expect, ErrConflict)
	}
	m.tickets[t.ID] = t
	return nil
}

func (m *MemoryStore) PersistInventory(_ context.Context, cs inventory.Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyInventory(cs)
	return nil
}

func (m *MemoryStore) applyInventory(cs inventory.Changeset) {
	for _, st := range cs.Stations {
		m.stations[st.ID] = st
	}
	for _, p := range cs.Pillars {
		m.pillars[p.ID] = p
	}
	for _, sl := range cs.Slots {
		m.slots[sl.ID] = sl
	}
	for _, b := range cs.Batteries {
		m.batteries[b.ID] = b
	}
}

// LoadInventory returns the persisted records in the order Store.Load
// expects them, sorted by id for determinism.
func (m *MemoryStore) LoadInventory(_ context.Context) (inventory.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var snap inventory.Snapshot
	for _, st := range m.stations {
		snap.Stations = append(snap.Stations, st)
	}
	for _, p := range m.pillars {
		snap.Pillars = append(snap.Pillars, p)
	}
	for _, sl := range m.slots {
		snap.Slots = append(snap.Slots, sl)
	}
	for _, b := range m.batteries {
		snap.Batteries = append(snap.Batteries, b)
	}
	sort.Slice(snap.Stations, func(i, j int) bool { return snap.Stations[i].ID < snap.Stations[j].ID })
	sort.Slice(snap.Pillars, func(i, j int) bool { return snap.Pillars[i].ID < snap.Pillars[j].ID })
	sort.Slice(snap.Slots, func(i, j int) bool { return snap.Slots[i].ID < snap.Slots[j].ID })
	sort.Slice(snap.Batteries, func(i, j int) bool { return snap.Batteries[i].ID < snap.Batteries[j].ID })
	return snap, nil
}
