package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/battery-swap/internal/cache"
	"github.com/example/battery-swap/internal/dispatch"
	"github.com/example/battery-swap/internal/favorites"
	"github.com/example/battery-swap/internal/geo"
	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/storage"
	"github.com/example/battery-swap/internal/support"
	"github.com/example/battery-swap/internal/swap"
)

type testAPI struct {
	t   *testing.T
	srv *Server
	inv *inventory.Store
	geo *geo.Index
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	inv := inventory.NewStore()
	db := storage.NewMemoryStore()
	inv.SetPersister(db)
	stations := cache.NewStationCache(time.Minute, func(_ context.Context, id string) (models.StationRecord, error) {
		return inv.StationRecord(id)
	})
	inv.Subscribe(stations.InventoryListener())
	idx := geo.NewIndex()
	srv := NewServer(Deps{
		Inventory: inv,
		Stations:  stations,
		Geo:       idx,
		Swaps:     &swap.Service{Inventory: inv, Bookings: db},
		Favorites: &favorites.Service{Favorites: favorites.NewMemorySet(), Recents: favorites.NewMemoryRecent(), Stations: inv},
		Support:   &support.Service{Tickets: db, Bookings: db},
		WSReg:     dispatch.NewWSRegistry(nil),
	})
	return &testAPI{t: t, srv: srv, inv: inv, geo: idx}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(a.t, err)
		r = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	a.srv.ServeHTTP(w, req)
	return w
}

func (a *testAPI) decode(w *httptest.ResponseRecorder, dst any) {
	a.t.Helper()
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func (a *testAPI) requireError(w *httptest.ResponseRecorder, status int, kind string) {
	a.t.Helper()
	require.Equal(a.t, status, w.Code, w.Body.String())
	var body errorBody
	a.decode(w, &body)
	require.Equal(a.t, kind, body.Error)
	require.NotEmpty(a.t, body.Message)
}

// provision builds station st-1 with two slots, one holding a full battery,
// plus the driver's battery drv-1 out on the road.
func (a *testAPI) provision() {
	a.t.Helper()
	w := a.do("POST", "/api/v1/stations", map[string]any{"id": "st-1", "name": "Depot", "lat": 10.77, "lon": 106.70, "capacity": 2})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	w = a.do("POST", "/api/v1/stations/st-1/pillars", map[string]any{"id": "p1", "pillarName": "A", "pillarNumber": 1})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	for _, b := range []map[string]any{
		{"id": "b-1", "model": "LFP-48", "soh": 97, "status": "full", "station_id": "st-1"},
		{"id": "drv-1", "model": "LFP-48", "soh": 84, "status": "in-use", "station_id": "st-1"},
	} {
		w = a.do("POST", "/api/v1/batteries", b)
		require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	}
	w = a.do("POST", "/api/v1/pillars/p1/slots", map[string]any{"id": "s1", "slotNumber": 1, "battery_id": "b-1"})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	var sl models.Slot
	a.decode(w, &sl)
	require.Equal(a.t, models.SlotOccupied, sl.Status)
	w = a.do("POST", "/api/v1/pillars/p1/slots", map[string]any{"id": "s2", "slotNumber": 2})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	require.NoError(a.t, a.geo.Upsert(context.Background(), "st-1", models.Coord{Lat: 10.77, Lon: 106.70}))
}

func TestSwapLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	a.provision()

	// the booking collaborator sends the station populated and the battery as an id
	w := a.do("POST", "/api/v1/bookings", `{"user_id":"u-1","station":{"id":"st-1","name":"Depot"},"battery":"drv-1"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var bk models.Booking
	a.decode(w, &bk)
	require.Equal(t, models.BookingPending, bk.Status)
	require.Equal(t, "st-1", bk.StationID)

	w = a.do("POST", "/api/v1/bookings/confirm", map[string]string{"requestId": bk.ID, "staffId": "staff-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	a.decode(w, &bk)
	require.Equal(t, models.BookingConfirmed, bk.Status)
	require.Equal(t, "b-1", bk.ReplacementID)

	w = a.do("GET", "/api/v1/stations/st-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec models.StationRecord
	a.decode(w, &rec)
	require.Equal(t, 0, rec.BatteryCounts.Available)

	w = a.do("POST", "/api/v1/bookings/"+bk.ID+"/complete", map[string]any{"soh": 83.5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var done completeResponse
	a.decode(w, &done)
	require.Equal(t, models.BookingCompleted, done.Booking.Status)
	require.Equal(t, "drv-1", done.Transaction.BatteryReturned.ID)
	require.Equal(t, "b-1", done.Transaction.BatteryGiven.ID)

	w = a.do("GET", "/api/v1/stations/st-1/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var txs []models.Transaction
	a.decode(w, &txs)
	require.Len(t, txs, 1)
	require.Equal(t, int64(1), txs[0].Seq)

	w = a.do("POST", "/api/v1/bookings/"+bk.ID+"/confirm", nil)
	a.requireError(w, http.StatusConflict, "InvalidState")
}

func TestConfirmWithoutStockLeavesBookingPending(t *testing.T) {
	a := newTestAPI(t)
	a.provision()
	w := a.do("POST", "/api/v1/slots/s1/block", map[string]string{"status": "maintenance"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do("POST", "/api/v1/bookings", map[string]any{"user_id": "u-1", "station": "st-1", "battery": "drv-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var bk models.Booking
	a.decode(w, &bk)

	w = a.do("POST", "/api/v1/bookings/"+bk.ID+"/confirm", nil)
	a.requireError(w, http.StatusConflict, "NoAvailableBattery")

	w = a.do("GET", "/api/v1/bookings/"+bk.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	a.decode(w, &bk)
	require.Equal(t, models.BookingPending, bk.Status)
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	a.provision()

	a.requireError(a.do("GET", "/api/v1/bookings/nope", nil), http.StatusNotFound, "NotFound")
	a.requireError(a.do("GET", "/api/v1/stations/nope", nil), http.StatusNotFound, "NotFound")
	a.requireError(a.do("POST", "/api/v1/batteries/b-1/health", map[string]any{"soh": 140}), http.StatusUnprocessableEntity, "InvalidRange")
	a.requireError(a.do("POST", "/api/v1/batteries/b-1/status", map[string]string{"status": "faulty"}), http.StatusConflict, "InvalidTransition")
	a.requireError(a.do("POST", "/api/v1/batteries/b-1/status", map[string]string{"status": "in-use"}), http.StatusConflict, "InvalidTransition")
	a.requireError(a.do("POST", "/api/v1/slots/s1/assign", map[string]string{"battery_id": "drv-1"}), http.StatusConflict, "SlotOccupied")
	a.requireError(a.do("POST", "/api/v1/favorites/toggle", map[string]string{"stationId": "st-1"}), http.StatusBadRequest, "ValidationError")
	a.requireError(a.do("POST", "/api/v1/bookings", `{"user_id":`), http.StatusBadRequest, "InvalidPayload")
	a.requireError(a.do("POST", "/api/v1/bookings", map[string]any{"user_id": "u-1", "station": "st-1"}), http.StatusUnprocessableEntity, "InvalidRequest")
}

func TestFavoritesAndRecents(t *testing.T) {
	a := newTestAPI(t)
	a.provision()

	w := a.do("POST", "/api/v1/favorites/toggle", map[string]string{"userId": "u-1", "stationId": "st-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tog toggleFavoriteResponse
	a.decode(w, &tog)
	require.True(t, tog.Favorite)

	var list map[string][]string
	w = a.do("GET", "/api/v1/users/u-1/favorites", nil)
	a.decode(w, &list)
	require.Equal(t, []string{"st-1"}, list["stations"])

	w = a.do("DELETE", "/api/v1/users/u-1/favorites", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = a.do("DELETE", "/api/v1/users/u-1/favorites", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = a.do("GET", "/api/v1/users/u-1/favorites", nil)
	a.decode(w, &list)
	require.Empty(t, list["stations"])

	w = a.do("GET", "/api/v1/stations/st-1?user_id=u-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do("GET", "/api/v1/users/u-1/recents", nil)
	a.decode(w, &list)
	require.Equal(t, []string{"st-1"}, list["stations"])

	a.requireError(a.do("POST", "/api/v1/favorites/toggle", map[string]string{"userId": "u-1", "stationId": "ghost"}), http.StatusNotFound, "NotFound")
}

func TestSupportCloseOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	a.provision()
	w := a.do("POST", "/api/v1/bookings", map[string]any{"user_id": "u-1", "station": "st-1", "battery": "drv-1"})
	var bk models.Booking
	a.decode(w, &bk)

	w = a.do("POST", "/api/v1/support", map[string]string{"booking_id": bk.ID, "user_id": "u-1", "subject": "slot jammed"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ticket models.SupportRequest
	a.decode(w, &ticket)

	a.requireError(a.do("POST", "/api/v1/support/close", map[string]string{"requestId": ticket.ID, "closeNote": "done"}), http.StatusConflict, "InvalidState")

	w = a.do("POST", "/api/v1/support/"+ticket.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	a.requireError(a.do("POST", "/api/v1/support/close", map[string]string{"requestId": ticket.ID, "closeNote": "  "}), http.StatusUnprocessableEntity, "NoteRequired")

	w = a.do("POST", "/api/v1/support/close", map[string]string{"requestId": ticket.ID, "closeNote": "slot replaced"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	a.decode(w, &ticket)
	require.Equal(t, models.SupportClosed, ticket.Status)
	require.Equal(t, "slot replaced", ticket.CloseNote)
}

func TestNearbyStations(t *testing.T) {
	a := newTestAPI(t)
	a.provision()

	w := a.do("GET", "/api/v1/stations/nearby?lat=10.771&lon=106.701&radius_m=5000", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var hits []nearbyStation
	a.decode(w, &hits)
	require.Len(t, hits, 1)
	require.Equal(t, "st-1", hits[0].Station.ID)
	require.Equal(t, 1, hits[0].Station.BatteryCounts.Available)
	require.Greater(t, hits[0].DistanceM, 0.0)

	a.requireError(a.do("GET", "/api/v1/stations/nearby?lat=x&lon=1", nil), http.StatusBadRequest, "InvalidPayload")
}

func TestRequestIDAndHealth(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	a.srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	w = a.do("GET", "/healthz", nil)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
