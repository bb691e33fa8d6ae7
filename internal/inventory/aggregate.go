package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/example/battery-swap/internal/models"
)

// snapshot is the immutable read model of one station, rebuilt from the
// battery and slot records inside the critical section of every mutation.
type snapshot struct {
	version   uint64
	record    models.StationRecord
	pillars   []models.PillarView
	batteries []models.Battery
}

// CountBatteries derives station counts from battery statuses. Reserved
// (is-booking) batteries count as in use so the partition stays total;
// retired batteries are not counted at all.
func CountBatteries(batteries []models.Battery) (models.BatteryCounts, float64) {
	var c models.BatteryCounts
	var sohSum float64
	for _, b := range batteries {
		if b.Retired {
			continue
		}
		c.Total++
		sohSum += b.SOH
		switch b.Status {
		case models.BatteryIdle, models.BatteryFull:
			c.Available++
		case models.BatteryCharging:
			c.Charging++
		case models.BatteryInUse, models.BatteryBooked:
			c.InUse++
		case models.BatteryFaulty:
			c.Faulty++
		}
	}
	if c.Total == 0 {
		return c, 0
	}
	return c, sohSum / float64(c.Total)
}

// CountSlots partitions slots by status. Locked, maintenance and error slots
// only contribute to Total.
func CountSlots(slots []models.Slot) models.SlotStats {
	var st models.SlotStats
	for _, sl := range slots {
		st.Total++
		switch sl.Status {
		case models.SlotEmpty:
			st.Empty++
		case models.SlotOccupied:
			st.Occupied++
		case models.SlotReserved:
			st.Reserved++
		}
	}
	return st
}

func (p *pool) publish(now time.Time) {
	batteries := make([]models.Battery, 0, len(p.batteries))
	for _, b := range p.batteries {
		batteries = append(batteries, *b)
	}
	sort.Slice(batteries, func(i, j int) bool { return batteries[i].ID < batteries[j].ID })

	byPillar := make(map[string][]models.Slot, len(p.pillars))
	for _, sl := range p.slots {
		byPillar[sl.PillarID] = append(byPillar[sl.PillarID], *sl)
	}
	pillars := make([]models.PillarView, 0, len(p.pillars))
	provisioned := 0
	for _, pl := range p.pillars {
		slots := byPillar[pl.ID]
		sort.Slice(slots, func(i, j int) bool { return slots[i].Number < slots[j].Number })
		stats := CountSlots(slots)
		provisioned += stats.Total
		pillars = append(pillars, models.PillarView{
			ID:         pl.ID,
			StationID:  pl.StationID,
			PillarName: pl.Name,
			Number:     pl.Number,
			Status:     pl.Status,
			TotalSlots: stats.Total,
			SlotStats:  stats,
			Slots:      slots,
		})
	}
	sort.Slice(pillars, func(i, j int) bool { return pillars[i].Number < pillars[j].Number })

	counts, sohAvg := CountBatteries(batteries)
	rec := models.StationRecord{
		ID:                 p.station.ID,
		Name:               p.station.Name,
		Address:            p.station.Address,
		Loc:                p.station.Loc,
		Capacity:           p.station.Capacity,
		SOHAvg:             sohAvg,
		AvailableBatteries: counts.Available,
		BatteryCounts:      &counts,
		Provisioned:        provisioned,
		Version:            p.version,
		UpdatedAt:          now,
	}
	p.snap.Store(&snapshot{version: p.version, record: rec, pillars: pillars, batteries: batteries})
}

// StationRecord returns the latest committed inventory view of a station.
func (s *Store) StationRecord(stationID string) (models.StationRecord, error) {
	p, err := s.loadPool(stationID)
	if err != nil {
		return models.StationRecord{}, err
	}
	rec := p.snap.Load().record
	counts := *rec.BatteryCounts
	rec.BatteryCounts = &counts
	return rec, nil
}

func (s *Store) StationRecords() []models.StationRecord {
	ids := s.StationIDs()
	out := make([]models.StationRecord, 0, len(ids))
	for _, id := range ids {
		if rec, err := s.StationRecord(id); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Store) Station(stationID string) (models.Station, error) {
	p, err := s.loadPool(stationID)
	if err != nil {
		return models.Station{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.station, nil
}

// Pillars returns the pillar/slot view of a station.
func (s *Store) Pillars(stationID string) ([]models.PillarView, error) {
	p, err := s.loadPool(stationID)
	if err != nil {
		return nil, err
	}
	snap := p.snap.Load()
	out := make([]models.PillarView, len(snap.pillars))
	for i, pv := range snap.pillars {
		pv.Slots = append([]models.Slot(nil), pv.Slots...)
		out[i] = pv
	}
	return out, nil
}

func (s *Store) Batteries(stationID string) ([]models.Battery, error) {
	p, err := s.loadPool(stationID)
	if err != nil {
		return nil, err
	}
	return append([]models.Battery(nil), p.snap.Load().batteries...), nil
}

// Get returns the committed state of a battery.
func (s *Store) Get(batteryID string) (models.Battery, error) {
	stationID, ok := s.StationOf(batteryID)
	if !ok {
		return models.Battery{}, fmt.Errorf("battery %s: %w", batteryID, ErrNotFound)
	}
	p, err := s.loadPool(stationID)
	if err != nil {
		return models.Battery{}, err
	}
	if b, ok := findBattery(p.snap.Load().batteries, batteryID); ok {
		return b, nil
	}
	// the index moves before the new owner's snapshot is published
	for _, id := range s.StationIDs() {
		if id == stationID {
			continue
		}
		if p, err := s.loadPool(id); err == nil {
			if b, ok := findBattery(p.snap.Load().batteries, batteryID); ok {
				return b, nil
			}
		}
	}
	return models.Battery{}, fmt.Errorf("battery %s: %w", batteryID, ErrNotFound)
}

func findBattery(bats []models.Battery, id string) (models.Battery, bool) {
	i := sort.Search(len(bats), func(i int) bool { return bats[i].ID >= id })
	if i < len(bats) && bats[i].ID == id {
		return bats[i], true
	}
	return models.Battery{}, false
}

// Version is bumped on every committed mutation of the station.
func (s *Store) Version(stationID string) (uint64, error) {
	p, err := s.loadPool(stationID)
	if err != nil {
		return 0, err
	}
	return p.snap.Load().version, nil
}

// Slot returns the committed state of a slot.
func (s *Store) Slot(slotID string) (models.Slot, error) {
	s.mu.RLock()
	stationID, ok := s.slotHome[slotID]
	s.mu.RUnlock()
	if !ok {
		return models.Slot{}, fmt.Errorf("slot %s: %w", slotID, ErrNotFound)
	}
	p, err := s.loadPool(stationID)
	if err != nil {
		return models.Slot{}, err
	}
	for _, pv := range p.snap.Load().pillars {
		for _, sl := range pv.Slots {
			if sl.ID == slotID {
				return sl, nil
			}
		}
	}
	return models.Slot{}, fmt.Errorf("slot %s: %w", slotID, ErrNotFound)
}
