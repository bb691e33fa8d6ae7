package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/battery-swap/internal/models"
)

type ChangeKind string

const (
	ChangeBatteryRegistered ChangeKind = "battery.registered"
	ChangeBatteryStatus     ChangeKind = "battery.status"
	ChangeBatteryHealth     ChangeKind = "battery.health"
	ChangeBatteryRetired    ChangeKind = "battery.retired"
	ChangeBatteryMoved      ChangeKind = "battery.moved"
	ChangeSlot              ChangeKind = "slot.status"
	ChangeSlotAdded         ChangeKind = "slot.added"
	ChangePillarAdded       ChangeKind = "pillar.added"
	ChangeStationAdded      ChangeKind = "station.added"
)

// Change is emitted for every mutation that commits.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	StationID string     `json:"station_id"`
	PillarID  string     `json:"pillar_id,omitempty"`
	SlotID    string     `json:"slot_id,omitempty"`
	BatteryID string     `json:"battery_id,omitempty"`
	From      string     `json:"from,omitempty"`
	To        string     `json:"to,omitempty"`
	At        time.Time  `json:"at"`
}

// Tx is the handle passed to Store.Update. It is only valid inside the
// callback and only for the stations named in the Update call.
type Tx struct {
	ctx     context.Context
	store   *Store
	pools   map[string]*pool
	now     time.Time
	undo    []func()
	changes []Change

	batteries map[string]struct{}
	slots     map[string]struct{}
	pillars   map[string]struct{}

	persist func(ctx context.Context, cs Changeset) error
}

// Changeset is the set of records a transaction wrote, in their final state.
type Changeset struct {
	Stations  []models.Station
	Pillars   []models.Pillar
	Slots     []models.Slot
	Batteries []models.Battery
}

func (c Changeset) Empty() bool {
	return len(c.Stations) == 0 && len(c.Pillars) == 0 && len(c.Slots) == 0 && len(c.Batteries) == 0
}

// Persister writes committed inventory records to durable storage. A failed
// write rolls the in-memory transaction back.
type Persister interface {
	PersistInventory(ctx context.Context, cs Changeset) error
}

// OnPersist replaces the store's persister for this transaction, letting the
// caller write the inventory records together with its own records in one
// storage transaction. It runs even when the transaction changed no
// inventory records.
func (tx *Tx) OnPersist(fn func(ctx context.Context, cs Changeset) error) {
	tx.persist = fn
}

func (tx *Tx) Context() context.Context { return tx.ctx }

func (tx *Tx) Now() time.Time { return tx.now }

func (tx *Tx) pool(stationID string) (*pool, error) {
	p, ok := tx.pools[stationID]
	if !ok {
		return nil, fmt.Errorf("station %s: %w", stationID, ErrNotLocked)
	}
	return p, nil
}

func (tx *Tx) record(c Change) {
	c.At = tx.now
	tx.changes = append(tx.changes, c)
}

func (tx *Tx) dirty(stationID string) bool {
	for _, c := range tx.changes {
		if c.StationID == stationID {
			return true
		}
	}
	return false
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.changes = nil
}

func (tx *Tx) touchBattery(id string) { tx.batteries[id] = struct{}{} }
func (tx *Tx) touchSlot(id string)    { tx.slots[id] = struct{}{} }

func (tx *Tx) battery(id string) (*pool, *models.Battery, error) {
	for _, p := range tx.pools {
		if b, ok := p.batteries[id]; ok {
			return p, b, nil
		}
	}
	if _, ok := tx.store.StationOf(id); ok {
		return nil, nil, fmt.Errorf("battery %s: %w", id, ErrNotLocked)
	}
	return nil, nil, fmt.Errorf("battery %s: %w", id, ErrNotFound)
}

func (tx *Tx) slot(id string) (*pool, *models.Slot, error) {
	for _, p := range tx.pools {
		if sl, ok := p.slots[id]; ok {
			return p, sl, nil
		}
	}
	return nil, nil, fmt.Errorf("slot %s: %w", id, ErrNotFound)
}

// saveBattery snapshots the battery so rollback can restore it.
func (tx *Tx) saveBattery(b *models.Battery) {
	prev := *b
	tx.undo = append(tx.undo, func() { *b = prev })
	tx.touchBattery(b.ID)
}

func (tx *Tx) saveSlot(p *pool, sl *models.Slot) {
	prev := *sl
	prevBattery := sl.BatteryID
	tx.undo = append(tx.undo, func() {
		*sl = prev
		if prevBattery != "" {
			p.slotOf[prevBattery] = sl.ID
		}
	})
	tx.touchSlot(sl.ID)
}

// Battery returns the current in-transaction state of a battery.
func (tx *Tx) Battery(id string) (models.Battery, error) {
	_, b, err := tx.battery(id)
	if err != nil {
		return models.Battery{}, err
	}
	return *b, nil
}

// StationBatteries lists the batteries currently owned by a locked station.
func (tx *Tx) StationBatteries(stationID string) ([]models.Battery, error) {
	p, err := tx.pool(stationID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Battery, 0, len(p.batteries))
	for _, b := range p.batteries {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SlotOf returns the slot holding the battery, if any.
func (tx *Tx) SlotOf(batteryID string) (models.Slot, bool) {
	for _, p := range tx.pools {
		if id, ok := p.slotOf[batteryID]; ok {
			return *p.slots[id], true
		}
	}
	return models.Slot{}, false
}

func (tx *Tx) Slot(id string) (models.Slot, error) {
	_, sl, err := tx.slot(id)
	if err != nil {
		return models.Slot{}, err
	}
	return *sl, nil
}

// SetStatus moves a battery along the transition table.
func (tx *Tx) SetStatus(id string, to models.BatteryStatus) (models.Battery, error) {
	p, b, err := tx.battery(id)
	if err != nil {
		return models.Battery{}, err
	}
	if b.Retired || !ValidTransition(b.Status, to) {
		return models.Battery{}, fmt.Errorf("battery %s %s -> %s: %w", id, b.Status, to, ErrInvalidTransition)
	}
	if b.Status == to {
		return *b, nil
	}
	if slotID, ok := p.slotOf[id]; ok && !to.Docked() && p.slots[slotID].Status == models.SlotOccupied {
		return models.Battery{}, fmt.Errorf("battery %s sits in occupied slot %s, cannot become %s: %w", id, slotID, to, ErrInvalidTransition)
	}
	tx.saveBattery(b)
	from := b.Status
	b.Status = to
	b.UpdatedAt = tx.now
	if from == models.BatteryInUse && to.Docked() {
		b.CycleCount++
	}
	tx.record(Change{Kind: ChangeBatteryStatus, StationID: p.station.ID, BatteryID: id, From: string(from), To: string(to)})
	return *b, nil
}

// SetHealth records a new SOH reading. SOH only decreases outside of
// ResetHealth.
func (tx *Tx) SetHealth(id string, soh float64) (models.Battery, error) {
	return tx.setHealth(id, soh, false)
}

// ResetHealth is the maintenance/replacement path that may raise SOH.
func (tx *Tx) ResetHealth(id string, soh float64) (models.Battery, error) {
	return tx.setHealth(id, soh, true)
}

func (tx *Tx) setHealth(id string, soh float64, reset bool) (models.Battery, error) {
	if soh < 0 || soh > 100 {
		return models.Battery{}, fmt.Errorf("battery %s soh %.2f: %w", id, soh, ErrInvalidRange)
	}
	p, b, err := tx.battery(id)
	if err != nil {
		return models.Battery{}, err
	}
	if b.Retired {
		return models.Battery{}, fmt.Errorf("battery %s is retired: %w", id, ErrInvalidTransition)
	}
	if !reset && soh > b.SOH {
		return models.Battery{}, fmt.Errorf("battery %s soh %.2f above current %.2f: %w", id, soh, b.SOH, ErrInvalidRange)
	}
	if soh == b.SOH {
		return *b, nil
	}
	tx.saveBattery(b)
	from := b.SOH
	b.SOH = soh
	b.UpdatedAt = tx.now
	tx.record(Change{Kind: ChangeBatteryHealth, StationID: p.station.ID, BatteryID: id,
		From: fmt.Sprintf("%.2f", from), To: fmt.Sprintf("%.2f", soh)})
	return *b, nil
}

// MarkFaulty is the maintenance action; it is valid from any status.
func (tx *Tx) MarkFaulty(id string) (models.Battery, error) {
	p, b, err := tx.battery(id)
	if err != nil {
		return models.Battery{}, err
	}
	if b.Retired {
		return models.Battery{}, fmt.Errorf("battery %s is retired: %w", id, ErrInvalidTransition)
	}
	if b.Status == models.BatteryFaulty {
		return *b, nil
	}
	tx.saveBattery(b)
	from := b.Status
	b.Status = models.BatteryFaulty
	b.UpdatedAt = tx.now
	tx.record(Change{Kind: ChangeBatteryStatus, StationID: p.station.ID, BatteryID: id, From: string(from), To: string(models.BatteryFaulty)})
	if slotID, ok := p.slotOf[id]; ok {
		if sl := p.slots[slotID]; sl.Status == models.SlotOccupied {
			// a faulty battery no longer satisfies occupied
			tx.saveSlot(p, sl)
			sl.Status = models.SlotMaintenance
			sl.UpdatedAt = tx.now
			tx.record(Change{Kind: ChangeSlot, StationID: p.station.ID, SlotID: sl.ID, BatteryID: id,
				From: string(models.SlotOccupied), To: string(models.SlotMaintenance)})
		}
	}
	return *b, nil
}

// Repair is the only way out of faulty.
func (tx *Tx) Repair(id string) (models.Battery, error) {
	p, b, err := tx.battery(id)
	if err != nil {
		return models.Battery{}, err
	}
	if b.Retired || b.Status != models.BatteryFaulty {
		return models.Battery{}, fmt.Errorf("battery %s repair from %s: %w", id, b.Status, ErrInvalidTransition)
	}
	tx.saveBattery(b)
	b.Status = models.BatteryIdle
	b.UpdatedAt = tx.now
	tx.record(Change{Kind: ChangeBatteryStatus, StationID: p.station.ID, BatteryID: id,
		From: string(models.BatteryFaulty), To: string(models.BatteryIdle)})
	return *b, nil
}

// Retire freezes a battery. It keeps its slot, if any, until removed.
func (tx *Tx) Retire(id string) (models.Battery, error) {
	p, b, err := tx.battery(id)
	if err != nil {
		return models.Battery{}, err
	}
	if b.Retired {
		return *b, nil
	}
	if b.Status == models.BatteryBooked || b.Status == models.BatteryInUse {
		return models.Battery{}, fmt.Errorf("battery %s is %s: %w", id, b.Status, ErrInvalidTransition)
	}
	tx.saveBattery(b)
	b.Retired = true
	b.UpdatedAt = tx.now
	tx.record(Change{Kind: ChangeBatteryRetired, StationID: p.station.ID, BatteryID: id, From: string(b.Status)})
	return *b, nil
}

// MoveBattery transfers ownership of a battery to another locked station.
// The battery must not sit in a slot.
func (tx *Tx) MoveBattery(id, toStation string) (models.Battery, error) {
	from, b, err := tx.battery(id)
	if err != nil {
		return models.Battery{}, err
	}
	to, err := tx.pool(toStation)
	if err != nil {
		return models.Battery{}, err
	}
	if from == to {
		return *b, nil
	}
	if _, ok := from.slotOf[id]; ok {
		return models.Battery{}, fmt.Errorf("battery %s still docked: %w", id, ErrSlotOccupied)
	}
	tx.saveBattery(b)
	delete(from.batteries, id)
	to.batteries[id] = b
	b.StationID = toStation
	b.UpdatedAt = tx.now
	s := tx.store
	s.mu.Lock()
	s.batteryHome[id] = toStation
	s.mu.Unlock()
	fromID := from.station.ID
	tx.undo = append(tx.undo, func() {
		delete(to.batteries, id)
		from.batteries[id] = b
		s.mu.Lock()
		s.batteryHome[id] = fromID
		s.mu.Unlock()
	})
	tx.record(Change{Kind: ChangeBatteryMoved, StationID: fromID, BatteryID: id, From: fromID, To: toStation})
	tx.record(Change{Kind: ChangeBatteryMoved, StationID: toStation, BatteryID: id, From: fromID, To: toStation})
	return *b, nil
}

// Assign places a battery in an empty slot of the same station. The battery's
// usage status is left untouched; a faulty battery puts the slot under
// maintenance and booked or in-use batteries cannot be docked.
func (tx *Tx) Assign(slotID, batteryID string) (models.Slot, error) {
	return tx.place(slotID, batteryID, false)
}

// place docks a battery. restore skips the usage check so a reserved slot
// holding a booked battery can be reloaded.
func (tx *Tx) place(slotID, batteryID string, restore bool) (models.Slot, error) {
	p, sl, err := tx.slot(slotID)
	if err != nil {
		return models.Slot{}, err
	}
	if sl.Status != models.SlotEmpty {
		return models.Slot{}, fmt.Errorf("slot %s is %s: %w", slotID, sl.Status, ErrSlotOccupied)
	}
	b, ok := p.batteries[batteryID]
	if !ok {
		if _, err := tx.Battery(batteryID); err != nil {
			return models.Slot{}, err
		}
		return models.Slot{}, fmt.Errorf("battery %s belongs to another station: %w", batteryID, ErrInvalidTransition)
	}
	if b.Retired {
		return models.Slot{}, fmt.Errorf("battery %s is retired: %w", batteryID, ErrInvalidTransition)
	}
	if !restore && (b.Status == models.BatteryBooked || b.Status == models.BatteryInUse) {
		return models.Slot{}, fmt.Errorf("battery %s is %s: %w", batteryID, b.Status, ErrInvalidTransition)
	}
	if other, ok := p.slotOf[batteryID]; ok {
		return models.Slot{}, fmt.Errorf("battery %s already in slot %s: %w", batteryID, other, ErrSlotOccupied)
	}
	to := models.SlotOccupied
	if b.Status == models.BatteryFaulty {
		to = models.SlotMaintenance
	}
	tx.saveSlot(p, sl)
	sl.Status = to
	sl.BatteryID = batteryID
	sl.HeldStatus = ""
	sl.UpdatedAt = tx.now
	p.slotOf[batteryID] = slotID
	tx.undo = append(tx.undo, func() { delete(p.slotOf, batteryID) })
	tx.record(Change{Kind: ChangeSlot, StationID: p.station.ID, SlotID: slotID, BatteryID: batteryID,
		From: string(models.SlotEmpty), To: string(to)})
	return *sl, nil
}

// Reserve holds a slot for an in-flight booking.
func (tx *Tx) Reserve(slotID string) (models.Slot, error) {
	p, sl, err := tx.slot(slotID)
	if err != nil {
		return models.Slot{}, err
	}
	if blocked(sl.Status) || sl.Status == models.SlotReserved {
		return models.Slot{}, fmt.Errorf("slot %s is %s: %w", slotID, sl.Status, ErrSlotNotReservable)
	}
	tx.saveSlot(p, sl)
	from := sl.Status
	sl.HeldStatus = from
	sl.Status = models.SlotReserved
	sl.UpdatedAt = tx.now
	tx.record(Change{Kind: ChangeSlot, StationID: p.station.ID, SlotID: slotID, BatteryID: sl.BatteryID,
		From: string(from), To: string(models.SlotReserved)})
	return *sl, nil
}

// Release returns a reserved slot to the status it had before Reserve.
func (tx *Tx) Release(slotID string) (models.Slot, error) {
	p, sl, err := tx.slot(slotID)
	if err != nil {
		return models.Slot{}, err
	}
	if sl.Status != models.SlotReserved {
		return models.Slot{}, fmt.Errorf("slot %s is %s: %w", slotID, sl.Status, ErrInvalidTransition)
	}
	tx.saveSlot(p, sl)
	to := sl.HeldStatus
	if to == "" {
		to = models.SlotEmpty
		if sl.BatteryID != "" {
			to = models.SlotOccupied
		}
	}
	sl.Status = to
	sl.HeldStatus = ""
	sl.UpdatedAt = tx.now
	tx.record(Change{Kind: ChangeSlot, StationID: p.station.ID, SlotID: slotID, BatteryID: sl.BatteryID,
		From: string(models.SlotReserved), To: string(to)})
	return *sl, nil
}

// RemoveBattery vacates a slot. A blocked slot keeps its blocked status.
func (tx *Tx) RemoveBattery(slotID string) (models.Slot, models.Battery, error) {
	p, sl, err := tx.slot(slotID)
	if err != nil {
		return models.Slot{}, models.Battery{}, err
	}
	if sl.BatteryID == "" {
		return models.Slot{}, models.Battery{}, fmt.Errorf("slot %s: %w", slotID, ErrSlotEmpty)
	}
	if sl.Status == models.SlotReserved {
		return models.Slot{}, models.Battery{}, fmt.Errorf("slot %s is reserved: %w", slotID, ErrInvalidTransition)
	}
	tx.saveSlot(p, sl)
	batteryID := sl.BatteryID
	from := sl.Status
	if !blocked(sl.Status) {
		sl.Status = models.SlotEmpty
	}
	sl.BatteryID = ""
	sl.UpdatedAt = tx.now
	delete(p.slotOf, batteryID)
	tx.record(Change{Kind: ChangeSlot, StationID: p.station.ID, SlotID: slotID, BatteryID: batteryID,
		From: string(from), To: string(sl.Status)})
	var removed models.Battery
	if b, ok := p.batteries[batteryID]; ok {
		removed = *b
	}
	return *sl, removed, nil
}

// Block takes a slot out of service (locked, maintenance or error).
func (tx *Tx) Block(slotID string, status models.SlotStatus) (models.Slot, error) {
	if !blocked(status) {
		return models.Slot{}, fmt.Errorf("slot status %q: %w", status, ErrInvalidTransition)
	}
	p, sl, err := tx.slot(slotID)
	if err != nil {
		return models.Slot{}, err
	}
	if sl.Status == models.SlotReserved {
		return models.Slot{}, fmt.Errorf("slot %s is reserved: %w", slotID, ErrInvalidTransition)
	}
	if sl.Status == status {
		return *sl, nil
	}
	tx.saveSlot(p, sl)
	from := sl.Status
	sl.Status = status
	sl.UpdatedAt = tx.now
	tx.record(Change{Kind: ChangeSlot, StationID: p.station.ID, SlotID: slotID, BatteryID: sl.BatteryID,
		From: string(from), To: string(status)})
	return *sl, nil
}

// Unblock puts a blocked slot back in service.
func (tx *Tx) Unblock(slotID string) (models.Slot, error) {
	p, sl, err := tx.slot(slotID)
	if err != nil {
		return models.Slot{}, err
	}
	if !blocked(sl.Status) {
		return models.Slot{}, fmt.Errorf("slot %s is %s: %w", slotID, sl.Status, ErrInvalidTransition)
	}
	if b, ok := p.batteries[sl.BatteryID]; ok && !b.Status.Docked() {
		return models.Slot{}, fmt.Errorf("slot %s holds %s battery %s: %w", slotID, b.Status, b.ID, ErrInvalidTransition)
	}
	tx.saveSlot(p, sl)
	from := sl.Status
	sl.Status = models.SlotEmpty
	if sl.BatteryID != "" {
		sl.Status = models.SlotOccupied
	}
	sl.UpdatedAt = tx.now
	tx.record(Change{Kind: ChangeSlot, StationID: p.station.ID, SlotID: slotID, BatteryID: sl.BatteryID,
		From: string(from), To: string(sl.Status)})
	return *sl, nil
}

func (tx *Tx) changeset() Changeset {
	bats, slots := tx.touched()
	var pillars []models.Pillar
	for id := range tx.pillars {
		for _, p := range tx.pools {
			if pl, ok := p.pillars[id]; ok {
				pillars = append(pillars, *pl)
			}
		}
	}
	sort.Slice(pillars, func(i, j int) bool { return pillars[i].ID < pillars[j].ID })
	return Changeset{Pillars: pillars, Slots: slots, Batteries: bats}
}

func (tx *Tx) touched() ([]models.Battery, []models.Slot) {
	bats := make([]models.Battery, 0, len(tx.batteries))
	for id := range tx.batteries {
		if _, b, err := tx.battery(id); err == nil {
			bats = append(bats, *b)
		}
	}
	slots := make([]models.Slot, 0, len(tx.slots))
	for id := range tx.slots {
		if _, sl, err := tx.slot(id); err == nil {
			slots = append(slots, *sl)
		}
	}
	sort.Slice(bats, func(i, j int) bool { return bats[i].ID < bats[j].ID })
	sort.Slice(slots, func(i, j int) bool { return slots[i].ID < slots[j].ID })
	return bats, slots
}
