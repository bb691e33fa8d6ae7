package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/example/battery-swap/internal/favorites"
	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/lease"
	"github.com/example/battery-swap/internal/logging"
	"github.com/example/battery-swap/internal/storage"
	"github.com/example/battery-swap/internal/support"
	"github.com/example/battery-swap/internal/swap"
)

var validate = validator.New()

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorKind struct {
	err    error
	status int
	kind   string
}

// first match wins, so the more specific sentinels come first
var errorKinds = []errorKind{
	{swap.ErrBookingNotFound, http.StatusNotFound, "NotFound"},
	{support.ErrTicketNotFound, http.StatusNotFound, "NotFound"},
	{inventory.ErrNotFound, http.StatusNotFound, "NotFound"},
	{storage.ErrNotFound, http.StatusNotFound, "NotFound"},
	{swap.ErrInvalidState, http.StatusConflict, "InvalidState"},
	{support.ErrInvalidState, http.StatusConflict, "InvalidState"},
	{storage.ErrConflict, http.StatusConflict, "InvalidState"},
	{inventory.ErrInvalidTransition, http.StatusConflict, "InvalidTransition"},
	{inventory.ErrSlotOccupied, http.StatusConflict, "SlotOccupied"},
	{inventory.ErrSlotEmpty, http.StatusConflict, "SlotEmpty"},
	{inventory.ErrSlotNotReservable, http.StatusConflict, "SlotNotReservable"},
	{inventory.ErrAlreadyExists, http.StatusConflict, "AlreadyExists"},
	{swap.ErrNoAvailableBattery, http.StatusConflict, "NoAvailableBattery"},
	{lease.ErrOperationInProgress, http.StatusTooManyRequests, "OperationInProgress"},
	{inventory.ErrInvalidRange, http.StatusUnprocessableEntity, "InvalidRange"},
	{support.ErrNoteRequired, http.StatusUnprocessableEntity, "NoteRequired"},
	{support.ErrBookingRequired, http.StatusUnprocessableEntity, "InvalidRequest"},
	{swap.ErrInvalidRequest, http.StatusUnprocessableEntity, "InvalidRequest"},
	{favorites.ErrInvalidArgument, http.StatusUnprocessableEntity, "InvalidRequest"},
}

func (s *Server) log(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), s.logger)
}

// writeError maps a domain error to its status and kind. Unknown errors
// are logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			writeErrorKind(w, k.status, k.kind, err.Error())
			return
		}
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeErrorKind(w, http.StatusBadRequest, "ValidationError", verrs.Error())
		return
	}
	s.log(r).Error("request failed", "error", err)
	writeErrorKind(w, http.StatusInternalServerError, "Internal", "internal error")
}

func writeErrorKind(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads an optional JSON body into dst and validates it. An empty
// body leaves dst at its zero value.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &payloadError{err}
	}
	return validate.Struct(dst)
}

type payloadError struct{ err error }

func (p *payloadError) Error() string { return "invalid payload: " + p.err.Error() }
func (p *payloadError) Unwrap() error { return p.err }

// bind decodes the body and writes the error response itself; callers
// return when it reports false.
func (s *Server) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decode(r, dst)
	if err == nil {
		return true
	}
	var perr *payloadError
	if errors.As(err, &perr) {
		writeErrorKind(w, http.StatusBadRequest, "InvalidPayload", perr.Error())
		return false
	}
	s.writeError(w, r, err)
	return false
}
