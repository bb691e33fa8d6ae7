package support

import "errors"

var (
	ErrTicketNotFound  = errors.New("support ticket not found")
	ErrInvalidState    = errors.New("invalid ticket state")
	ErrNoteRequired    = errors.New("close note required")
	ErrBookingRequired = errors.New("ticket must reference a booking")
)
