package swap

import "errors"

var (
	ErrBookingNotFound    = errors.New("booking not found")
	ErrInvalidState       = errors.New("invalid booking state")
	ErrNoAvailableBattery = errors.New("no available battery")
)

// ErrInvalidRequest is returned by Create for an incomplete booking request.
var ErrInvalidRequest = errors.New("invalid booking request")
