package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/swap"
)

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req swap.Request
	if !s.bind(w, r, &req) {
		return
	}
	b, err := s.Swaps.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.Swaps.List(r.Context(), q.Get("station_id"), models.BookingStatus(q.Get("status")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []models.Booking{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.Swaps.Get(r.Context(), mux.Vars(r)["booking_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// bookingID prefers the path variable and falls back to the body's requestId.
func bookingID(r *http.Request, body string) string {
	if id := mux.Vars(r)["booking_id"]; id != "" {
		return id
	}
	return body
}

type confirmRequest struct {
	RequestID string `json:"requestId"`
	StaffID   string `json:"staffId"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !s.bind(w, r, &req) {
		return
	}
	id := bookingID(r, req.RequestID)
	if id == "" {
		writeErrorKind(w, http.StatusBadRequest, "ValidationError", "requestId is required")
		return
	}
	b, err := s.Swaps.Confirm(r.Context(), id, req.StaffID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type completeRequest struct {
	RequestID string   `json:"requestId"`
	SOH       *float64 `json:"soh"`
}

type completeResponse struct {
	Booking     models.Booking     `json:"booking"`
	Transaction models.Transaction `json:"transaction"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !s.bind(w, r, &req) {
		return
	}
	id := bookingID(r, req.RequestID)
	if id == "" {
		writeErrorKind(w, http.StatusBadRequest, "ValidationError", "requestId is required")
		return
	}
	b, tx, err := s.Swaps.Complete(r.Context(), id, swap.Return{SOH: req.SOH})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{Booking: b, Transaction: tx})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !s.bind(w, r, &req) {
		return
	}
	b, err := s.Swaps.Cancel(r.Context(), mux.Vars(r)["booking_id"], req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type disputeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if !s.bind(w, r, &req) {
		return
	}
	b, err := s.Swaps.Dispute(r.Context(), mux.Vars(r)["booking_id"], req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	out, err := s.Swaps.Transactions(r.Context(), mux.Vars(r)["station_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, out)
}
