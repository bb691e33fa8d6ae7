package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type BatteryStatus string

const (
	BatteryIdle     BatteryStatus = "idle"
	BatteryCharging BatteryStatus = "charging"
	BatteryFull     BatteryStatus = "full"
	BatteryFaulty   BatteryStatus = "faulty"
	BatteryInUse    BatteryStatus = "in-use"
	BatteryBooked   BatteryStatus = "is-booking"
)

// Stocked reports whether a battery in this status can be handed to a driver.
func (s BatteryStatus) Stocked() bool {
	return s == BatteryIdle || s == BatteryFull
}

// Docked reports whether the status belongs to a battery sitting in an occupied slot.
func (s BatteryStatus) Docked() bool {
	return s == BatteryIdle || s == BatteryFull || s == BatteryCharging
}

type Battery struct {
	ID          string        `json:"id"`
	Serial      string        `json:"serial"`
	Model       string        `json:"model"`
	CapacityKWh float64       `json:"capacity_kwh"`
	Voltage     float64       `json:"voltage"`
	Status      BatteryStatus `json:"status"`
	SOH         float64       `json:"soh"` // 0..100
	CycleCount  int           `json:"cycle_count"`
	StationID   string        `json:"station_id,omitempty"`
	Retired     bool          `json:"retired"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (b Battery) RefID() string { return b.ID }

type SlotStatus string

const (
	SlotEmpty       SlotStatus = "empty"
	SlotOccupied    SlotStatus = "occupied"
	SlotReserved    SlotStatus = "reserved"
	SlotLocked      SlotStatus = "locked"
	SlotMaintenance SlotStatus = "maintenance"
	SlotError       SlotStatus = "error"
)

type Slot struct {
	ID        string     `json:"id"`
	PillarID  string     `json:"pillar_id"`
	Number    int        `json:"slot_number"`
	Code      string     `json:"code"`
	Status    SlotStatus `json:"status"`
	BatteryID string     `json:"battery,omitempty"`
	// status to restore when a reservation is released
	HeldStatus SlotStatus `json:"-"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type Pillar struct {
	ID        string `json:"id"`
	StationID string `json:"station_id"`
	Name      string `json:"pillar_name"`
	Number    int    `json:"pillar_number"`
	Code      string `json:"code"`
	Status    string `json:"status"`
}

type SlotStats struct {
	Total    int `json:"total"`
	Empty    int `json:"empty"`
	Occupied int `json:"occupied"`
	Reserved int `json:"reserved"`
}

// PillarView is the pillar/slot query shape consumed by staff dashboards.
type PillarView struct {
	ID         string    `json:"id"`
	StationID  string    `json:"station_id"`
	PillarName string    `json:"pillarName"`
	Number     int       `json:"pillarNumber"`
	Status     string    `json:"status"`
	TotalSlots int       `json:"totalSlots"`
	SlotStats  SlotStats `json:"slotStats"`
	Slots      []Slot    `json:"slots"`
}

type Station struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Loc       Coord     `json:"loc"`
	Capacity  int       `json:"capacity"`
	CreatedAt time.Time `json:"created_at"`
}

func (s Station) RefID() string { return s.ID }

type BatteryCounts struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Charging  int `json:"charging"`
	InUse     int `json:"inUse"`
	Faulty    int `json:"faulty"`
}

// StationRecord is the station inventory shape exchanged with collaborators.
// BatteryCounts is nil when the producer did not populate it.
type StationRecord struct {
	ID                 string         `json:"_id"`
	Name               string         `json:"name,omitempty"`
	Address            string         `json:"address,omitempty"`
	Loc                Coord          `json:"loc"`
	Capacity           int            `json:"capacity"`
	SOHAvg             float64        `json:"sohAvg"`
	AvailableBatteries int            `json:"availableBatteries"`
	BatteryCounts      *BatteryCounts `json:"batteryCounts,omitempty"`
	Provisioned        int            `json:"provisionedSlots"`
	// bumped on every commit that touches the station
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Available prefers the derived counts; the flat field is only a fallback.
func (r StationRecord) Available() int {
	if r.BatteryCounts != nil {
		return r.BatteryCounts.Available
	}
	return r.AvailableBatteries
}

func (r StationRecord) RefID() string { return r.ID }
