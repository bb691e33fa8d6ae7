package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/storage"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc *Service
	inv *inventory.Store
	db  *storage.MemoryStore
}

// failingStore fails CommitSwap once when armed.
type failingStore struct {
	*storage.MemoryStore
	fail bool
}

func (f *failingStore) CommitSwap(ctx context.Context, c *storage.SwapCommit) error {
	if f.fail {
		f.fail = false
		return errors.New("connection reset")
	}
	return f.MemoryStore.CommitSwap(ctx, c)
}

type notifyRecorder struct {
	mu  sync.Mutex
	got []models.BookingStatus
}

func (n *notifyRecorder) NotifyBooking(b models.Booking, _ *models.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, b.Status)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := t0
	inv := inventory.NewStore().WithClock(func() time.Time { clock = clock.Add(time.Second); return clock })
	db := storage.NewMemoryStore()
	inv.SetPersister(db)
	ids := 0
	svc := &Service{
		Inventory: inv,
		Bookings:  db,
		Fee:       decimal.RequireFromString("7.50"),
		Now:       func() time.Time { return clock },
		NewID:     func() string { ids++; return fmt.Sprintf("id-%d", ids) },
	}
	return &fixture{svc: svc, inv: inv, db: db}
}

// station provisions a station with one pillar; docked batteries fill the
// first slots, loose batteries are registered without a slot.
func (f *fixture) station(t *testing.T, id string, capacity int, docked []models.Battery, loose ...models.Battery) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.inv.AddStation(models.Station{ID: id, Name: id, Capacity: capacity}))
	pillar := id + "-p1"
	require.NoError(t, f.inv.AddPillar(models.Pillar{ID: pillar, StationID: id, Number: 1}))
	for _, b := range append(append([]models.Battery(nil), docked...), loose...) {
		b.StationID = id
		require.NoError(t, f.inv.Register(ctx, b))
	}
	for i := 0; i < capacity; i++ {
		sl := models.Slot{ID: fmt.Sprintf("%s-s%d", pillar, i+1), PillarID: pillar, Number: i + 1}
		if i < len(docked) {
			sl.BatteryID = docked[i].ID
		}
		require.NoError(t, f.inv.AddSlot(sl))
	}
}

func (f *fixture) book(t *testing.T, stationID, batteryID string) models.Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), Request{
		UserID:  "driver-1",
		Station: models.RefOf[models.Station](stationID),
		Battery: models.RefOf[models.Battery](batteryID),
	})
	require.NoError(t, err)
	require.Equal(t, models.BookingPending, b.Status)
	return b
}

func battery(t *testing.T, inv *inventory.Store, id string) models.Battery {
	t.Helper()
	b, err := inv.Get(id)
	require.NoError(t, err)
	return b
}

func slot(t *testing.T, inv *inventory.Store, stationID, slotID string) models.Slot {
	t.Helper()
	pillars, err := inv.Pillars(stationID)
	require.NoError(t, err)
	for _, p := range pillars {
		for _, sl := range p.Slots {
			if sl.ID == slotID {
				return sl
			}
		}
	}
	t.Fatalf("slot %s not found", slotID)
	return models.Slot{}
}

func requireInvariants(t *testing.T, inv *inventory.Store) {
	t.Helper()
	for _, rec := range inv.StationRecords() {
		c := rec.BatteryCounts
		require.Equal(t, c.Total, c.Available+c.Charging+c.InUse+c.Faulty, "station %s counts %+v", rec.ID, *c)
		pillars, err := inv.Pillars(rec.ID)
		require.NoError(t, err)
		for _, p := range pillars {
			s := p.SlotStats
			require.LessOrEqual(t, s.Empty+s.Occupied+s.Reserved, s.Total)
		}
	}
}

func scenarioA(t *testing.T, f *fixture) models.Booking {
	f.station(t, "st-1", 2,
		[]models.Battery{{ID: "b-idle", Serial: "SN-1", Model: "LFP-48", SOH: 98, Status: models.BatteryIdle}},
		models.Battery{ID: "X", Serial: "SN-X", Model: "LFP-48", SOH: 81, Status: models.BatteryInUse},
	)
	return f.book(t, "st-1", "X")
}

func TestConfirmSelectsIdleBattery(t *testing.T) {
	f := newFixture(t)
	bk := scenarioA(t, f)

	got, err := f.svc.Confirm(context.Background(), bk.ID, "staff-7")
	require.NoError(t, err)
	require.Equal(t, models.BookingConfirmed, got.Status)
	require.Equal(t, "b-idle", got.ReplacementID)
	require.Equal(t, "st-1-p1-s1", got.ReplacementSlotID)
	require.Equal(t, "staff-7", got.ConfirmedBy)
	require.NotNil(t, got.ConfirmedAt)

	require.Equal(t, models.BatteryBooked, battery(t, f.inv, "b-idle").Status)
	require.Equal(t, models.SlotReserved, slot(t, f.inv, "st-1", "st-1-p1-s1").Status)
	require.Equal(t, models.BatteryInUse, battery(t, f.inv, "X").Status)

	stored, err := f.db.GetBooking(context.Background(), bk.ID)
	require.NoError(t, err)
	require.Equal(t, models.BookingConfirmed, stored.Status)

	rec, err := f.inv.StationRecord("st-1")
	require.NoError(t, err)
	require.Equal(t, 0, rec.BatteryCounts.Available)
	require.Equal(t, 2, rec.BatteryCounts.InUse)
	requireInvariants(t, f.inv)
}

func TestCompleteEmitsOneTransaction(t *testing.T) {
	f := newFixture(t)
	bk := scenarioA(t, f)
	ctx := context.Background()
	_, err := f.svc.Confirm(ctx, bk.ID, "staff-7")
	require.NoError(t, err)

	done, tx, err := f.svc.Complete(ctx, bk.ID, Return{})
	require.NoError(t, err)
	require.Equal(t, models.BookingCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	given := battery(t, f.inv, "b-idle")
	require.Equal(t, models.BatteryInUse, given.Status)
	returned := battery(t, f.inv, "X")
	require.Equal(t, models.BatteryCharging, returned.Status)
	require.Equal(t, 1, returned.CycleCount)

	sl := slot(t, f.inv, "st-1", "st-1-p1-s1")
	require.Equal(t, models.SlotOccupied, sl.Status)
	require.Equal(t, "X", sl.BatteryID)

	txs, err := f.svc.Transactions(ctx, "st-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, tx.ID, txs[0].ID)
	require.Equal(t, 98.0, txs[0].BatteryGiven.SOH)
	require.Equal(t, "b-idle", txs[0].BatteryGiven.ID)
	require.Equal(t, 81.0, txs[0].BatteryReturned.SOH)
	require.Equal(t, int64(1), txs[0].Seq)
	require.True(t, txs[0].Cost.Equal(decimal.RequireFromString("7.50")))
	requireInvariants(t, f.inv)
}

func TestNoAvailableBatteryWhenAllFaulty(t *testing.T) {
	f := newFixture(t)
	var faulty []models.Battery
	for i := 0; i < 4; i++ {
		faulty = append(faulty, models.Battery{ID: fmt.Sprintf("f-%d", i), Serial: fmt.Sprintf("SF-%d", i), SOH: 90, Status: models.BatteryFaulty})
	}
	f.station(t, "st-c", 10, faulty, models.Battery{ID: "X", Serial: "SN-X", SOH: 70, Status: models.BatteryInUse})
	rec, err := f.inv.StationRecord("st-c")
	require.NoError(t, err)
	require.Equal(t, 0, rec.BatteryCounts.Available)

	bk := f.book(t, "st-c", "X")
	_, err = f.svc.Confirm(context.Background(), bk.ID, "staff")
	require.ErrorIs(t, err, ErrNoAvailableBattery)

	stored, err := f.svc.Get(context.Background(), bk.ID)
	require.NoError(t, err)
	require.Equal(t, models.BookingPending, stored.Status)
}

func TestConfirmFailureLeavesInventoryUntouched(t *testing.T) {
	f := newFixture(t)
	f.station(t, "st-1", 2,
		[]models.Battery{{ID: "b-charging", Serial: "SN-1", SOH: 99, Status: models.BatteryCharging}},
		models.Battery{ID: "X", Serial: "SN-X", SOH: 75, Status: models.BatteryIdle},
	)
	bk := f.book(t, "st-1", "X")
	before, err := f.inv.StationRecord("st-1")
	require.NoError(t, err)
	v, err := f.inv.Version("st-1")
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), bk.ID, "staff")
	require.ErrorIs(t, err, ErrNoAvailableBattery)

	require.Equal(t, models.BatteryIdle, battery(t, f.inv, "X").Status)
	after, err := f.inv.StationRecord("st-1")
	require.NoError(t, err)
	require.Equal(t, *before.BatteryCounts, *after.BatteryCounts)
	v2, err := f.inv.Version("st-1")
	require.NoError(t, err)
	require.Equal(t, v, v2)
}

func TestConfirmRollsBackWhenPersistFails(t *testing.T) {
	f := newFixture(t)
	fs := &failingStore{MemoryStore: f.db}
	f.svc.Bookings = fs
	bk := scenarioA(t, f)

	fs.fail = true
	_, err := f.svc.Confirm(context.Background(), bk.ID, "staff")
	require.Error(t, err)
	require.Equal(t, models.BatteryIdle, battery(t, f.inv, "b-idle").Status)
	require.Equal(t, models.SlotOccupied, slot(t, f.inv, "st-1", "st-1-p1-s1").Status)

	// a caller retry succeeds from the untouched state
	got, err := f.svc.Confirm(context.Background(), bk.ID, "staff")
	require.NoError(t, err)
	require.Equal(t, "b-idle", got.ReplacementID)
}

func TestConfirmTwiceIsInvalidState(t *testing.T) {
	f := newFixture(t)
	bk := scenarioA(t, f)
	ctx := context.Background()
	_, err := f.svc.Confirm(ctx, bk.ID, "staff")
	require.NoError(t, err)
	v, err := f.inv.Version("st-1")
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, bk.ID, "staff")
	require.ErrorIs(t, err, ErrInvalidState)

	_, _, err = f.svc.Complete(ctx, bk.ID, Return{})
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, bk.ID, "staff")
	require.ErrorIs(t, err, ErrInvalidState)

	v2, err := f.inv.Version("st-1")
	require.NoError(t, err)
	require.Greater(t, v2, v) // only the completion moved it
}

func TestConcurrentConfirmReservesOnce(t *testing.T) {
	f := newFixture(t)
	bk := scenarioA(t, f)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Confirm(context.Background(), bk.ID, "staff")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	ok, invalid := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidState):
			invalid++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, invalid)
	requireInvariants(t, f.inv)
}

func TestConfirmPrefersHealthThenCyclesThenAge(t *testing.T) {
	f := newFixture(t)
	f.station(t, "st-1", 4, []models.Battery{
		{ID: "b-low", Serial: "1", SOH: 90, Status: models.BatteryFull},
		{ID: "b-worn", Serial: "2", SOH: 97, CycleCount: 300, Status: models.BatteryIdle},
		{ID: "b-new", Serial: "3", SOH: 97, CycleCount: 12, Status: models.BatteryFull, UpdatedAt: t0.Add(time.Hour)},
		{ID: "b-old", Serial: "4", SOH: 97, CycleCount: 12, Status: models.BatteryIdle, UpdatedAt: t0},
	}, models.Battery{ID: "X", Serial: "X", SOH: 60, Status: models.BatteryInUse})

	bk := f.book(t, "st-1", "X")
	got, err := f.svc.Confirm(context.Background(), bk.ID, "staff")
	require.NoError(t, err)
	require.Equal(t, "b-old", got.ReplacementID)
}

func TestCompleteMovesBatteryReturnedFromAnotherStation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.station(t, "st-home", 1, nil, models.Battery{ID: "X", Serial: "X", SOH: 88, Status: models.BatteryInUse})
	f.station(t, "st-away", 1, []models.Battery{{ID: "b-1", Serial: "B1", SOH: 95, Status: models.BatteryFull}})

	bk := f.book(t, "st-away", "X")
	_, err := f.svc.Confirm(ctx, bk.ID, "staff")
	require.NoError(t, err)
	soh := 86.5
	_, tx, err := f.svc.Complete(ctx, bk.ID, Return{SOH: &soh})
	require.NoError(t, err)
	require.Equal(t, 88.0, tx.BatteryReturned.SOH)

	owner, ok := f.inv.StationOf("X")
	require.True(t, ok)
	require.Equal(t, "st-away", owner)
	x := battery(t, f.inv, "X")
	require.Equal(t, 86.5, x.SOH)
	require.Equal(t, models.BatteryCharging, x.Status)

	home, err := f.inv.StationRecord("st-home")
	require.NoError(t, err)
	require.Equal(t, 0, home.BatteryCounts.Total)
	away, err := f.inv.StationRecord("st-away")
	require.NoError(t, err)
	require.Equal(t, models.BatteryCounts{Total: 2, Charging: 1, InUse: 1}, *away.BatteryCounts)
	requireInvariants(t, f.inv)
}

func TestCompleteRejectsRisingSOHAndRollsBack(t *testing.T) {
	f := newFixture(t)
	bk := scenarioA(t, f)
	ctx := context.Background()
	_, err := f.svc.Confirm(ctx, bk.ID, "staff")
	require.NoError(t, err)

	soh := 99.0
	_, _, err = f.svc.Complete(ctx, bk.ID, Return{SOH: &soh})
	require.ErrorIs(t, err, inventory.ErrInvalidRange)

	require.Equal(t, models.BatteryBooked, battery(t, f.inv, "b-idle").Status)
	sl := slot(t, f.inv, "st-1", "st-1-p1-s1")
	require.Equal(t, models.SlotReserved, sl.Status)
	require.Equal(t, "b-idle", sl.BatteryID)
	txs, err := f.svc.Transactions(ctx, "st-1")
	require.NoError(t, err)
	require.Empty(t, txs)
}

func TestCancelOnlyWhilePending(t *testing.T) {
	f := newFixture(t)
	bk := scenarioA(t, f)
	ctx := context.Background()

	got, err := f.svc.Cancel(ctx, bk.ID, "changed plans")
	require.NoError(t, err)
	require.Equal(t, models.BookingCancelled, got.Status)
	require.Equal(t, "changed plans", got.CancelReason)
	require.Equal(t, models.BatteryIdle, battery(t, f.inv, "b-idle").Status)

	_, err = f.svc.Confirm(ctx, bk.ID, "staff")
	require.ErrorIs(t, err, ErrInvalidState)

	bk2 := f.book(t, "st-1", "X")
	_, err = f.svc.Confirm(ctx, bk2.ID, "staff")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, bk2.ID, "too late")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDisputeKeepsReservation(t *testing.T) {
	f := newFixture(t)
	bk := scenarioA(t, f)
	ctx := context.Background()
	_, err := f.svc.Dispute(ctx, bk.ID, "wrong battery")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.Confirm(ctx, bk.ID, "staff")
	require.NoError(t, err)
	got, err := f.svc.Dispute(ctx, bk.ID, "wrong battery")
	require.NoError(t, err)
	require.Equal(t, models.BookingDisputed, got.Status)
	require.NotNil(t, got.DisputedAt)
	require.Equal(t, models.BatteryBooked, battery(t, f.inv, "b-idle").Status)

	_, _, err = f.svc.Complete(ctx, bk.ID, Return{})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateRejectsSecondOpenBooking(t *testing.T) {
	f := newFixture(t)
	scenarioA(t, f)
	_, err := f.svc.Create(context.Background(), Request{
		UserID:  "driver-1",
		Station: models.RefOf[models.Station]("st-1"),
		Battery: models.RefOf[models.Battery]("X"),
	})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.Create(context.Background(), Request{UserID: "driver-1", Station: models.RefOf[models.Station]("st-1")})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.Create(context.Background(), Request{
		UserID:  "driver-1",
		Station: models.RefOf[models.Station]("nowhere"),
		Battery: models.RefOf[models.Battery]("X"),
	})
	require.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestUnknownBooking(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Confirm(context.Background(), "missing", "staff")
	require.ErrorIs(t, err, ErrBookingNotFound)
	_, _, err = f.svc.Complete(context.Background(), "missing", Return{})
	require.ErrorIs(t, err, ErrBookingNotFound)
}

func TestTransitionsNotifyDriver(t *testing.T) {
	f := newFixture(t)
	bk := scenarioA(t, f)
	n := &notifyRecorder{}
	f.svc.Notify = n
	ctx := context.Background()
	_, err := f.svc.Confirm(ctx, bk.ID, "staff")
	require.NoError(t, err)
	_, _, err = f.svc.Complete(ctx, bk.ID, Return{})
	require.NoError(t, err)
	require.Equal(t, []models.BookingStatus{models.BookingConfirmed, models.BookingCompleted}, n.got)
}
