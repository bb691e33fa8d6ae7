package geo

import (
	"context"
	"testing"
	"time"

	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
)

type slowLocator struct {
	*Index
	gate chan struct{}
}

func (l slowLocator) Upsert(ctx context.Context, stationID string, loc models.Coord) error {
	<-l.gate
	return l.Index.Upsert(ctx, stationID, loc)
}

func TestInventoryListenerDoesNotBlockCommits(t *testing.T) {
	loc := slowLocator{Index: NewIndex(), gate: make(chan struct{})}
	inv := inventory.NewStore()
	inv.Subscribe(InventoryListener(loc, nil))

	added := make(chan error, 1)
	go func() {
		added <- inv.AddStation(models.Station{ID: "st-1", Loc: models.Coord{Lat: -6.176, Lon: 106.828}, Capacity: 2})
	}()
	select {
	case err := <-added:
		if err != nil {
			t.Fatalf("add station: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AddStation waited for the locator")
	}

	close(loc.gate)
	deadline := time.Now().Add(time.Second)
	for {
		hits, _ := loc.Nearby(context.Background(), models.Coord{Lat: -6.176, Lon: 106.828}, 100, 5)
		if len(hits) == 1 && hits[0].StationID == "st-1" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("station never indexed, hits=%v", hits)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
