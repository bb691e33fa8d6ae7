package inventory

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidRange      = errors.New("value out of range")
	ErrSlotOccupied      = errors.New("slot occupied")
	ErrSlotEmpty         = errors.New("slot empty")
	ErrSlotNotReservable = errors.New("slot not reservable")
	ErrNotLocked         = errors.New("station not locked by transaction")
)
