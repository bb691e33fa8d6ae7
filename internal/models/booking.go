package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingDisputed  BookingStatus = "disputed"
)

type Booking struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	StationID         string        `json:"station_id"`
	BatteryID         string        `json:"battery_id"` // battery the driver returns
	ReplacementID     string        `json:"replacement_battery_id,omitempty"`
	ReplacementSlotID string        `json:"replacement_slot_id,omitempty"`
	ScheduledAt       time.Time     `json:"scheduled_at"`
	Status            BookingStatus `json:"status"`
	CancelReason      string        `json:"cancel_reason,omitempty"`
	DisputeReason     string        `json:"dispute_reason,omitempty"`
	ConfirmedBy       string        `json:"confirmed_by,omitempty"`
	ConfirmedAt       *time.Time    `json:"confirmed_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	CancelledAt       *time.Time    `json:"cancelled_at,omitempty"`
	DisputedAt        *time.Time    `json:"disputed_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

type BatterySnapshot struct {
	ID    string  `json:"id"`
	Model string  `json:"model"`
	SOH   float64 `json:"soh"`
}

// Transaction is the append-only record of a completed swap.
type Transaction struct {
	ID              string          `json:"id"`
	BookingID       string          `json:"booking_id"`
	StationID       string          `json:"station_id"`
	DriverID        string          `json:"driver_id"`
	Seq             int64           `json:"seq"` // completion order within the station
	BatteryReturned BatterySnapshot `json:"batteryReturned"`
	BatteryGiven    BatterySnapshot `json:"batteryGiven"`
	Cost            decimal.Decimal `json:"cost"`
	Status          BookingStatus   `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at"`
}

type SupportStatus string

const (
	SupportInProgress SupportStatus = "in-progress"
	SupportResolved   SupportStatus = "resolved"
	SupportCompleted  SupportStatus = "completed"
	SupportClosed     SupportStatus = "closed"
)

type SupportRequest struct {
	ID        string        `json:"id"`
	BookingID string        `json:"booking_id"`
	UserID    string        `json:"user_id"`
	Subject   string        `json:"subject"`
	Status    SupportStatus `json:"status"`
	CloseNote string        `json:"close_note,omitempty"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
