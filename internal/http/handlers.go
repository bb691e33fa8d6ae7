package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/example/battery-swap/internal/cache"
	"github.com/example/battery-swap/internal/dispatch"
	"github.com/example/battery-swap/internal/favorites"
	"github.com/example/battery-swap/internal/geo"
	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/support"
	"github.com/example/battery-swap/internal/swap"
)

// Deps are the collaborators behind the REST surface. Stations and Geo
// are optional; without them station reads go straight to Inventory and
// nearby lookups are unavailable.
type Deps struct {
	Inventory     *inventory.Store
	Stations      *cache.StationCache
	Geo           geo.Locator
	Swaps         *swap.Service
	Favorites     *favorites.Service
	Support       *support.Service
	WSReg         *dispatch.WSRegistry
	Logger        *slog.Logger
	NearbyRadiusM float64
	CORSOrigins   []string
}

type Server struct {
	Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.NearbyRadiusM <= 0 {
		d.NearbyRadiusM = 10000
	}
	s := &Server{Deps: d, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)

	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/stations", s.handleListStations).Methods("GET")
	api.HandleFunc("/stations", s.handleAddStation).Methods("POST")
	api.HandleFunc("/stations/nearby", s.handleNearby).Methods("GET")
	api.HandleFunc("/stations/{station_id}", s.handleGetStation).Methods("GET")
	api.HandleFunc("/stations/{station_id}/pillars", s.handlePillars).Methods("GET")
	api.HandleFunc("/stations/{station_id}/pillars", s.handleAddPillar).Methods("POST")
	api.HandleFunc("/stations/{station_id}/batteries", s.handleStationBatteries).Methods("GET")
	api.HandleFunc("/stations/{station_id}/transactions", s.handleTransactions).Methods("GET")
	api.HandleFunc("/pillars/{pillar_id}/slots", s.handleAddSlot).Methods("POST")

	api.HandleFunc("/batteries", s.handleRegisterBattery).Methods("POST")
	api.HandleFunc("/batteries/{battery_id}", s.handleGetBattery).Methods("GET")
	api.HandleFunc("/batteries/{battery_id}/status", s.handleBatteryStatus).Methods("POST")
	api.HandleFunc("/batteries/{battery_id}/health", s.handleBatteryHealth).Methods("POST")
	api.HandleFunc("/batteries/{battery_id}/faulty", s.batteryAction(s.Inventory.MarkFaulty)).Methods("POST")
	api.HandleFunc("/batteries/{battery_id}/repair", s.batteryAction(s.Inventory.Repair)).Methods("POST")
	api.HandleFunc("/batteries/{battery_id}/retire", s.batteryAction(s.Inventory.Retire)).Methods("POST")

	api.HandleFunc("/slots/{slot_id}/assign", s.handleAssignSlot).Methods("POST")
	api.HandleFunc("/slots/{slot_id}/remove", s.slotAction(s.Inventory.RemoveBattery)).Methods("POST")
	api.HandleFunc("/slots/{slot_id}/block", s.handleBlockSlot).Methods("POST")
	api.HandleFunc("/slots/{slot_id}/unblock", s.slotAction(s.Inventory.Unblock)).Methods("POST")

	api.HandleFunc("/bookings", s.handleCreateBooking).Methods("POST")
	api.HandleFunc("/bookings", s.handleListBookings).Methods("GET")
	// staff UI actions post {requestId} in the body; the path form is equivalent
	api.HandleFunc("/bookings/confirm", s.handleConfirm).Methods("POST")
	api.HandleFunc("/bookings/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/bookings/{booking_id}", s.handleGetBooking).Methods("GET")
	api.HandleFunc("/bookings/{booking_id}/confirm", s.handleConfirm).Methods("POST")
	api.HandleFunc("/bookings/{booking_id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/bookings/{booking_id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/bookings/{booking_id}/dispute", s.handleDispute).Methods("POST")

	api.HandleFunc("/favorites/toggle", s.handleToggleFavorite).Methods("POST")
	api.HandleFunc("/users/{user_id}/favorites", s.handleListFavorites).Methods("GET")
	api.HandleFunc("/users/{user_id}/favorites", s.handleClearFavorites).Methods("DELETE")
	api.HandleFunc("/users/{user_id}/recents", s.handleListRecents).Methods("GET")
	api.HandleFunc("/users/{user_id}/recents", s.handleClearRecents).Methods("DELETE")

	api.HandleFunc("/support", s.handleOpenTicket).Methods("POST")
	api.HandleFunc("/support/close", s.handleCloseTicket).Methods("POST")
	api.HandleFunc("/support/{request_id}", s.handleGetTicket).Methods("GET")
	api.HandleFunc("/support/{request_id}/resolve", s.ticketAction(s.Support.Resolve)).Methods("POST")
	api.HandleFunc("/support/{request_id}/complete", s.ticketAction(s.Support.Complete)).Methods("POST")
	api.HandleFunc("/support/{request_id}/reopen", s.ticketAction(s.Support.Reopen)).Methods("POST")
	api.HandleFunc("/support/{request_id}/close", s.handleCloseTicket).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Handler wraps the router with CORS and tracing for the listening server.
func (s *Server) Handler() http.Handler {
	origins := s.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	co := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	})
	return otelhttp.NewHandler(co.Handler(s.mux), "battery-swap-api")
}

func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Inventory.StationRecords())
}

// handleGetStation serves the cached inventory view. A user_id query
// parameter records the view in the user's recent list.
func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["station_id"]
	rec, err := s.stationRecord(r, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if user := r.URL.Query().Get("user_id"); user != "" && s.Favorites != nil {
		if err := s.Favorites.Viewed(r.Context(), user, id); err != nil {
			s.log(r).Warn("record recent view failed", "user", user, "station", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) stationRecord(r *http.Request, id string) (models.StationRecord, error) {
	if s.Stations != nil {
		return s.Stations.Fetch(r.Context(), id)
	}
	return s.Inventory.StationRecord(id)
}

type nearbyStation struct {
	Station   models.StationRecord `json:"station"`
	DistanceM float64              `json:"distance_m"`
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	if s.Geo == nil {
		writeErrorKind(w, http.StatusServiceUnavailable, "Unavailable", "station locator not configured")
		return
	}
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if err := errors.Join(errLat, errLon); err != nil {
		writeErrorKind(w, http.StatusBadRequest, "InvalidPayload", "lat and lon must be numbers")
		return
	}
	radius := s.NearbyRadiusM
	if v := q.Get("radius_m"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeErrorKind(w, http.StatusBadRequest, "InvalidPayload", "radius_m must be a positive number")
			return
		}
		radius = f
	}
	limit := 10
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErrorKind(w, http.StatusBadRequest, "InvalidPayload", "limit must be a positive integer")
			return
		}
		limit = n
	}

	hits, err := s.Geo.Nearby(r.Context(), models.Coord{Lat: lat, Lon: lon}, radius, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]nearbyStation, 0, len(hits))
	for _, h := range hits {
		rec, err := s.stationRecord(r, h.StationID)
		if errors.Is(err, inventory.ErrNotFound) {
			continue
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, nearbyStation{Station: rec, DistanceM: h.DistanceM})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePillars(w http.ResponseWriter, r *http.Request) {
	pv, err := s.Inventory.Pillars(mux.Vars(r)["station_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

func (s *Server) handleStationBatteries(w http.ResponseWriter, r *http.Request) {
	bats, err := s.Inventory.Batteries(mux.Vars(r)["station_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bats)
}

var upgrader = websocket.Upgrader{}

// handleWS attaches a driver session; booking updates for the user are
// pushed until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	remove := s.WSReg.Add(id, conn)
	go func() {
		defer conn.Close()
		defer remove()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
