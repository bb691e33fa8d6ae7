package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
)

type recorder struct {
	mu  sync.Mutex
	got []Event
}

func (r *recorder) Publish(_ context.Context, evs ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, evs...)
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestOutboxSplitsCommitPerStation(t *testing.T) {
	o := NewOutbox(8, nil)
	o.InventoryListener()(inventory.Commit{
		Changes: []inventory.Change{
			{Kind: inventory.ChangeBatteryMoved, StationID: "st-a", BatteryID: "b1"},
			{Kind: inventory.ChangeBatteryMoved, StationID: "st-b", BatteryID: "b1"},
			{Kind: inventory.ChangeSlot, StationID: "st-b", SlotID: "s1"},
		},
		Stations: []models.StationRecord{{ID: "st-a"}, {ID: "st-b"}},
	})

	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { o.Run(ctx, rec); close(done) }()
	deadline := time.Now().Add(time.Second)
	for rec.len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if rec.len() != 2 {
		t.Fatalf("expected 2 events, got %d", rec.len())
	}
	var p StationPayload
	if err := json.Unmarshal(rec.got[1].Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if rec.got[1].Key != "st-b" || len(p.Changes) != 2 {
		t.Fatalf("unexpected event %+v payload %+v", rec.got[1], p)
	}
}

func TestOutboxDropsWhenFull(t *testing.T) {
	o := NewOutbox(1, nil)
	e, err := New(BookingUpdated, "st-a", time.Now(), map[string]string{"id": "bk"})
	if err != nil {
		t.Fatal(err)
	}
	o.Enqueue(e)
	o.Enqueue(e) // must not block
	if len(o.ch) != 1 {
		t.Fatalf("expected buffer of 1, got %d", len(o.ch))
	}
}
