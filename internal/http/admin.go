package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/battery-swap/internal/models"
)

type addStationRequest struct {
	ID       string  `json:"id" validate:"required"`
	Name     string  `json:"name" validate:"required"`
	Address  string  `json:"address"`
	Lat      float64 `json:"lat" validate:"latitude"`
	Lon      float64 `json:"lon" validate:"longitude"`
	Capacity int     `json:"capacity"`
}

func (s *Server) handleAddStation(w http.ResponseWriter, r *http.Request) {
	var req addStationRequest
	if !s.bind(w, r, &req) {
		return
	}
	st := models.Station{
		ID:       req.ID,
		Name:     req.Name,
		Address:  req.Address,
		Loc:      models.Coord{Lat: req.Lat, Lon: req.Lon},
		Capacity: req.Capacity,
	}
	if err := s.Inventory.AddStation(st); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.Inventory.StationRecord(st.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type addPillarRequest struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"pillarName"`
	Number int    `json:"pillarNumber" validate:"gte=0"`
	Code   string `json:"code"`
}

func (s *Server) handleAddPillar(w http.ResponseWriter, r *http.Request) {
	var req addPillarRequest
	if !s.bind(w, r, &req) {
		return
	}
	stationID := mux.Vars(r)["station_id"]
	p := models.Pillar{ID: req.ID, StationID: stationID, Name: req.Name, Number: req.Number, Code: req.Code}
	if err := s.Inventory.AddPillar(p); err != nil {
		s.writeError(w, r, err)
		return
	}
	pv, err := s.Inventory.Pillars(stationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pv)
}

type addSlotRequest struct {
	ID        string `json:"id" validate:"required"`
	Number    int    `json:"slotNumber" validate:"gte=0"`
	Code      string `json:"code"`
	BatteryID string `json:"battery_id"`
}

func (s *Server) handleAddSlot(w http.ResponseWriter, r *http.Request) {
	var req addSlotRequest
	if !s.bind(w, r, &req) {
		return
	}
	sl := models.Slot{
		ID:        req.ID,
		PillarID:  mux.Vars(r)["pillar_id"],
		Number:    req.Number,
		Code:      req.Code,
		Status:    models.SlotEmpty,
		BatteryID: req.BatteryID,
	}
	if err := s.Inventory.AddSlot(sl); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.Inventory.Slot(sl.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type registerBatteryRequest struct {
	ID          string               `json:"id" validate:"required"`
	Serial      string               `json:"serial"`
	Model       string               `json:"model" validate:"required"`
	CapacityKWh float64              `json:"capacity_kwh" validate:"gte=0"`
	Voltage     float64              `json:"voltage" validate:"gte=0"`
	Status      models.BatteryStatus `json:"status"`
	SOH         float64              `json:"soh"`
	StationID   string               `json:"station_id" validate:"required"`
}

func (s *Server) handleRegisterBattery(w http.ResponseWriter, r *http.Request) {
	var req registerBatteryRequest
	if !s.bind(w, r, &req) {
		return
	}
	b := models.Battery{
		ID:          req.ID,
		Serial:      req.Serial,
		Model:       req.Model,
		CapacityKWh: req.CapacityKWh,
		Voltage:     req.Voltage,
		Status:      req.Status,
		SOH:         req.SOH,
		StationID:   req.StationID,
	}
	if err := s.Inventory.Register(r.Context(), b); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.Inventory.Get(b.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetBattery(w http.ResponseWriter, r *http.Request) {
	b, err := s.Inventory.Get(mux.Vars(r)["battery_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type batteryStatusRequest struct {
	Status models.BatteryStatus `json:"status" validate:"required"`
}

func (s *Server) handleBatteryStatus(w http.ResponseWriter, r *http.Request) {
	var req batteryStatusRequest
	if !s.bind(w, r, &req) {
		return
	}
	b, err := s.Inventory.SetStatus(r.Context(), mux.Vars(r)["battery_id"], req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type batteryHealthRequest struct {
	SOH *float64 `json:"soh" validate:"required"`
	// Reset allows a rising reading, e.g. after a cell replacement.
	Reset bool `json:"reset"`
}

func (s *Server) handleBatteryHealth(w http.ResponseWriter, r *http.Request) {
	var req batteryHealthRequest
	if !s.bind(w, r, &req) {
		return
	}
	id := mux.Vars(r)["battery_id"]
	set := s.Inventory.SetHealth
	if req.Reset {
		set = s.Inventory.ResetHealth
	}
	b, err := set(r.Context(), id, *req.SOH)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) batteryAction(op func(ctx context.Context, id string) (models.Battery, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := op(r.Context(), mux.Vars(r)["battery_id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

type assignSlotRequest struct {
	BatteryID string `json:"battery_id" validate:"required"`
}

func (s *Server) handleAssignSlot(w http.ResponseWriter, r *http.Request) {
	var req assignSlotRequest
	if !s.bind(w, r, &req) {
		return
	}
	sl, err := s.Inventory.Assign(r.Context(), mux.Vars(r)["slot_id"], req.BatteryID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sl)
}

type blockSlotRequest struct {
	Status models.SlotStatus `json:"status" validate:"required"`
}

func (s *Server) handleBlockSlot(w http.ResponseWriter, r *http.Request) {
	var req blockSlotRequest
	if !s.bind(w, r, &req) {
		return
	}
	sl, err := s.Inventory.Block(r.Context(), mux.Vars(r)["slot_id"], req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sl)
}

func (s *Server) slotAction(op func(ctx context.Context, id string) (models.Slot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sl, err := op(r.Context(), mux.Vars(r)["slot_id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sl)
	}
}
