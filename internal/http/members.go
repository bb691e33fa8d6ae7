package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/support"
)

type toggleFavoriteRequest struct {
	UserID    string `json:"userId" validate:"required"`
	StationID string `json:"stationId" validate:"required"`
}

type toggleFavoriteResponse struct {
	StationID string `json:"stationId"`
	Favorite  bool   `json:"favorite"`
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	var req toggleFavoriteRequest
	if !s.bind(w, r, &req) {
		return
	}
	on, err := s.Favorites.Toggle(r.Context(), req.UserID, req.StationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleFavoriteResponse{StationID: req.StationID, Favorite: on})
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Favorites.List(r.Context(), mux.Vars(r)["user_id"])
	s.writeIDs(w, r, ids, err)
}

func (s *Server) handleClearFavorites(w http.ResponseWriter, r *http.Request) {
	if err := s.Favorites.ClearAll(r.Context(), mux.Vars(r)["user_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRecents(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Favorites.Recent(r.Context(), mux.Vars(r)["user_id"])
	s.writeIDs(w, r, ids, err)
}

func (s *Server) handleClearRecents(w http.ResponseWriter, r *http.Request) {
	if err := s.Favorites.ClearRecent(r.Context(), mux.Vars(r)["user_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeIDs(w http.ResponseWriter, r *http.Request, ids []string, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"stations": ids})
}

func (s *Server) handleOpenTicket(w http.ResponseWriter, r *http.Request) {
	var req support.OpenRequest
	if !s.bind(w, r, &req) {
		return
	}
	t, err := s.Support.Open(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.Support.Get(r.Context(), mux.Vars(r)["request_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) ticketAction(op func(ctx context.Context, id string) (models.SupportRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := op(r.Context(), mux.Vars(r)["request_id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

type closeTicketRequest struct {
	RequestID string `json:"requestId"`
	CloseNote string `json:"closeNote"`
}

// handleCloseTicket leaves note validation to the service so a ticket in
// the wrong state reports InvalidState before NoteRequired.
func (s *Server) handleCloseTicket(w http.ResponseWriter, r *http.Request) {
	var req closeTicketRequest
	if !s.bind(w, r, &req) {
		return
	}
	id := mux.Vars(r)["request_id"]
	if id == "" {
		id = req.RequestID
	}
	if id == "" {
		writeErrorKind(w, http.StatusBadRequest, "ValidationError", "requestId is required")
		return
	}
	t, err := s.Support.Close(r.Context(), id, req.CloseNote)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
