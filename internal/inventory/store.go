package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/battery-swap/internal/models"
)

// Listener receives every committed change set. Listeners run on the
// committing goroutine while the station locks are still held, so commits of
// one station reach them in commit order. They must not block or call back
// into Update.
type Listener func(c Commit)

// Commit describes one successful Update.
type Commit struct {
	Changes  []Change
	Stations []models.StationRecord
}

// Store is the in-memory system of record for batteries, slots and pillars.
// Every mutation of a station's pool runs under that station's lock; readers
// use the snapshot published by the last commit and never take the lock.
type Store struct {
	mu          sync.RWMutex
	pools       map[string]*pool
	batteryHome map[string]string
	serialHome  map[string]string // serial -> battery id
	slotHome    map[string]string
	pillarHome  map[string]string

	listeners []Listener
	persister Persister
	now       func() time.Time
}

type pool struct {
	mu        sync.Mutex
	station   models.Station
	batteries map[string]*models.Battery
	pillars   map[string]*models.Pillar
	slots     map[string]*models.Slot
	slotOf    map[string]string // battery id -> slot id

	version uint64
	snap    atomic.Pointer[snapshot]
}

func NewStore() *Store {
	return &Store{
		pools:       make(map[string]*pool),
		batteryHome: make(map[string]string),
		serialHome:  make(map[string]string),
		slotHome:    make(map[string]string),
		pillarHome:  make(map[string]string),
		now:         time.Now,
	}
}

// WithClock overrides the time source; used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// SetPersister installs durable storage. Call it after Load so seeding does
// not write the loaded records back.
func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = p
}

// Subscribe registers a listener for committed changes.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) AddStation(st models.Station) error {
	if st.ID == "" {
		return fmt.Errorf("station id required: %w", ErrInvalidRange)
	}
	if st.Capacity < 0 {
		return fmt.Errorf("station %s capacity %d: %w", st.ID, st.Capacity, ErrInvalidRange)
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = s.now()
	}
	s.mu.RLock()
	_, exists := s.pools[st.ID]
	persister := s.persister
	s.mu.RUnlock()
	if exists {
		return fmt.Errorf("station %s: %w", st.ID, ErrAlreadyExists)
	}
	if persister != nil {
		if err := persister.PersistInventory(context.Background(), Changeset{Stations: []models.Station{st}}); err != nil {
			return fmt.Errorf("persist station: %w", err)
		}
	}
	p := &pool{
		station:   st,
		batteries: make(map[string]*models.Battery),
		pillars:   make(map[string]*models.Pillar),
		slots:     make(map[string]*models.Slot),
		slotOf:    make(map[string]string),
	}
	p.publish(s.now())
	p.mu.Lock()
	defer p.mu.Unlock()

	s.mu.Lock()
	if _, ok := s.pools[st.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("station %s: %w", st.ID, ErrAlreadyExists)
	}
	s.pools[st.ID] = p
	s.mu.Unlock()

	s.notify(Commit{
		Changes:  []Change{{Kind: ChangeStationAdded, StationID: st.ID, At: st.CreatedAt}},
		Stations: []models.StationRecord{p.snap.Load().record},
	})
	return nil
}

// Load seeds the store from persisted state. Slots reference batteries by id;
// batteries must belong to the slot's station.
func (s *Store) Load(ctx context.Context, inv Snapshot) error {
	for _, st := range inv.Stations {
		if err := s.AddStation(st); err != nil {
			return err
		}
	}
	for _, b := range inv.Batteries {
		if err := s.Register(ctx, b); err != nil {
			return err
		}
	}
	for _, p := range inv.Pillars {
		if err := s.AddPillar(p); err != nil {
			return err
		}
	}
	for _, sl := range inv.Slots {
		if err := s.AddSlot(sl); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is the full persisted inventory.
type Snapshot struct {
	Stations  []models.Station `json:"stations"`
	Pillars   []models.Pillar  `json:"pillars"`
	Slots     []models.Slot    `json:"slots"`
	Batteries []models.Battery `json:"batteries"`
}

func (s *Store) AddPillar(p models.Pillar) error {
	if p.ID == "" {
		return fmt.Errorf("pillar id required: %w", ErrInvalidRange)
	}
	return s.Update(context.Background(), []string{p.StationID}, func(tx *Tx) error {
		pl, err := tx.pool(p.StationID)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.pillarHome[p.ID]; ok {
			return fmt.Errorf("pillar %s: %w", p.ID, ErrAlreadyExists)
		}
		if p.Status == "" {
			p.Status = "active"
		}
		cp := p
		pl.pillars[p.ID] = &cp
		s.pillarHome[p.ID] = p.StationID
		tx.pillars[p.ID] = struct{}{}
		tx.undo = append(tx.undo, func() {
			delete(pl.pillars, p.ID)
			s.mu.Lock()
			delete(s.pillarHome, p.ID)
			s.mu.Unlock()
		})
		tx.record(Change{Kind: ChangePillarAdded, StationID: p.StationID, PillarID: p.ID})
		return nil
	})
}

// AddSlot provisions a slot on an existing pillar. A slot carrying a battery
// id is placed occupied (or keeps a blocked status such as maintenance).
func (s *Store) AddSlot(sl models.Slot) error {
	if sl.ID == "" {
		return fmt.Errorf("slot id required: %w", ErrInvalidRange)
	}
	s.mu.RLock()
	stationID, ok := s.pillarHome[sl.PillarID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("pillar %s: %w", sl.PillarID, ErrNotFound)
	}
	return s.Update(context.Background(), []string{stationID}, func(tx *Tx) error {
		pl, err := tx.pool(stationID)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if _, ok := s.slotHome[sl.ID]; ok {
			s.mu.Unlock()
			return fmt.Errorf("slot %s: %w", sl.ID, ErrAlreadyExists)
		}
		s.slotHome[sl.ID] = stationID
		s.mu.Unlock()
		tx.undo = append(tx.undo, func() {
			s.mu.Lock()
			delete(s.slotHome, sl.ID)
			s.mu.Unlock()
		})

		batteryID := sl.BatteryID
		want, held := sl.Status, sl.HeldStatus
		cp := sl
		cp.BatteryID = ""
		cp.HeldStatus = ""
		cp.UpdatedAt = tx.now
		if !blocked(cp.Status) {
			cp.Status = models.SlotEmpty
		}
		if want == models.SlotReserved {
			// reloading a slot held by a confirmed booking
			defer func() {
				cur := pl.slots[sl.ID]
				if held == "" {
					held = cur.Status
				}
				cur.HeldStatus = held
				cur.Status = models.SlotReserved
			}()
		}
		pl.slots[sl.ID] = &cp
		tx.touchSlot(sl.ID)
		tx.undo = append(tx.undo, func() { delete(pl.slots, sl.ID) })
		tx.record(Change{Kind: ChangeSlotAdded, StationID: stationID, PillarID: sl.PillarID, SlotID: sl.ID})
		if batteryID == "" {
			return nil
		}
		status := cp.Status
		if blocked(status) {
			// place the battery without losing the blocked status
			cp.Status = models.SlotEmpty
		}
		if _, err := tx.place(sl.ID, batteryID, want == models.SlotReserved); err != nil {
			return err
		}
		if blocked(status) {
			pl.slots[sl.ID].Status = status
		}
		return nil
	})
}

// Register adds a newly manufactured battery to a station's pool.
func (s *Store) Register(ctx context.Context, b models.Battery) error {
	if b.ID == "" {
		return fmt.Errorf("battery id required: %w", ErrInvalidRange)
	}
	if b.SOH < 0 || b.SOH > 100 {
		return fmt.Errorf("battery %s soh %.1f: %w", b.ID, b.SOH, ErrInvalidRange)
	}
	if b.Status == "" {
		b.Status = models.BatteryIdle
	}
	if !validBatteryStatus(b.Status) {
		return fmt.Errorf("battery %s status %q: %w", b.ID, b.Status, ErrInvalidTransition)
	}
	return s.Update(ctx, []string{b.StationID}, func(tx *Tx) error {
		pl, err := tx.pool(b.StationID)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if _, ok := s.batteryHome[b.ID]; ok {
			s.mu.Unlock()
			return fmt.Errorf("battery %s: %w", b.ID, ErrAlreadyExists)
		}
		if other, ok := s.serialHome[b.Serial]; ok && b.Serial != "" {
			s.mu.Unlock()
			return fmt.Errorf("battery serial %s already used by %s: %w", b.Serial, other, ErrAlreadyExists)
		}
		s.batteryHome[b.ID] = b.StationID
		if b.Serial != "" {
			s.serialHome[b.Serial] = b.ID
		}
		s.mu.Unlock()

		cp := b
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = tx.now
		}
		if cp.UpdatedAt.IsZero() {
			cp.UpdatedAt = tx.now
		}
		pl.batteries[b.ID] = &cp
		tx.undo = append(tx.undo, func() {
			delete(pl.batteries, b.ID)
			s.mu.Lock()
			delete(s.batteryHome, b.ID)
			if b.Serial != "" {
				delete(s.serialHome, b.Serial)
			}
			s.mu.Unlock()
		})
		tx.touchBattery(b.ID)
		tx.record(Change{Kind: ChangeBatteryRegistered, StationID: b.StationID, BatteryID: b.ID, To: string(cp.Status)})
		return nil
	})
}

// Update runs fn with exclusive ownership of the named stations' pools. The
// locks are taken in sorted order so concurrent multi-station updates cannot
// deadlock. If fn fails every mutation it made is undone before the locks are
// released; on success aggregates are recomputed before any reader can see
// the new state.
func (s *Store) Update(ctx context.Context, stationIDs []string, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ids := dedupe(stationIDs)
	s.mu.RLock()
	pools := make([]*pool, 0, len(ids))
	for _, id := range ids {
		p, ok := s.pools[id]
		if !ok {
			s.mu.RUnlock()
			return fmt.Errorf("station %s: %w", id, ErrNotFound)
		}
		pools = append(pools, p)
	}
	s.mu.RUnlock()

	for _, p := range pools {
		p.mu.Lock()
	}
	tx := &Tx{
		ctx:       ctx,
		store:     s,
		pools:     make(map[string]*pool, len(pools)),
		now:       s.now(),
		batteries: make(map[string]struct{}),
		slots:     make(map[string]struct{}),
		pillars:   make(map[string]struct{}),
	}
	for i, id := range ids {
		tx.pools[id] = pools[i]
	}

	err := fn(tx)
	if err == nil && (len(tx.changes) > 0 || tx.persist != nil) {
		err = s.persist(ctx, tx)
	}
	if err != nil {
		tx.rollback()
		for _, p := range pools {
			p.mu.Unlock()
		}
		return err
	}

	commit := Commit{Changes: tx.changes}
	for _, p := range pools {
		if tx.dirty(p.station.ID) {
			p.version++
			p.publish(tx.now)
		}
		commit.Stations = append(commit.Stations, p.snap.Load().record)
	}
	if len(commit.Changes) > 0 {
		s.notify(commit)
	}
	for _, p := range pools {
		p.mu.Unlock()
	}
	return nil
}

func (s *Store) notify(c Commit) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(c)
	}
}

func (s *Store) persist(ctx context.Context, tx *Tx) error {
	cs := tx.changeset()
	if tx.persist != nil {
		return tx.persist(ctx, cs)
	}
	s.mu.RLock()
	p := s.persister
	s.mu.RUnlock()
	if p == nil || cs.Empty() {
		return nil
	}
	if err := p.PersistInventory(ctx, cs); err != nil {
		return fmt.Errorf("persist inventory: %w", err)
	}
	return nil
}

// UpdateBattery runs fn under the lock of the station currently holding the
// battery. The owner is re-checked after locking since a concurrent swap may
// have moved the battery in between.
func (s *Store) UpdateBattery(ctx context.Context, batteryID string, fn func(tx *Tx) error) error {
	for attempt := 0; attempt < 3; attempt++ {
		stationID, ok := s.StationOf(batteryID)
		if !ok {
			return fmt.Errorf("battery %s: %w", batteryID, ErrNotFound)
		}
		moved := false
		err := s.Update(ctx, []string{stationID}, func(tx *Tx) error {
			if _, ok := tx.pools[stationID].batteries[batteryID]; !ok {
				moved = true
				return nil
			}
			return fn(tx)
		})
		if err != nil || !moved {
			return err
		}
	}
	return fmt.Errorf("battery %s kept moving between stations: %w", batteryID, ErrNotFound)
}

// UpdateSlot is UpdateBattery for slots; slots never change station.
func (s *Store) UpdateSlot(ctx context.Context, slotID string, fn func(tx *Tx) error) error {
	s.mu.RLock()
	stationID, ok := s.slotHome[slotID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("slot %s: %w", slotID, ErrNotFound)
	}
	return s.Update(ctx, []string{stationID}, fn)
}

// StationOf returns the station currently owning the battery.
func (s *Store) StationOf(batteryID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.batteryHome[batteryID]
	return id, ok
}

func (s *Store) StationIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.pools))
	for id := range s.pools {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) loadPool(stationID string) (*pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[stationID]
	if !ok {
		return nil, fmt.Errorf("station %s: %w", stationID, ErrNotFound)
	}
	return p, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
