package geo

import (
	"context"
	"testing"

	"github.com/example/battery-swap/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Jakarta Monas to Bundaran HI is roughly 2.3 km
	d := Haversine(-6.1754, 106.8272, -6.1950, 106.8230)
	if d < 2000 || d > 2600 {
		t.Fatalf("unexpected distance %f", d)
	}
}

func TestIndexNearbyOrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	_ = idx.Upsert(ctx, "far", models.Coord{Lat: -6.9, Lon: 107.6})
	_ = idx.Upsert(ctx, "near", models.Coord{Lat: -6.176, Lon: 106.828})
	_ = idx.Upsert(ctx, "mid", models.Coord{Lat: -6.195, Lon: 106.823})

	hits, err := idx.Nearby(ctx, models.Coord{Lat: -6.1754, Lon: 106.8272}, 10000, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits within 10km, got %+v", hits)
	}
	if hits[0].StationID != "near" || hits[1].StationID != "mid" {
		t.Fatalf("unexpected order %+v", hits)
	}

	hits, _ = idx.Nearby(ctx, models.Coord{Lat: -6.1754, Lon: 106.8272}, 0, 1)
	if len(hits) != 1 || hits[0].StationID != "near" {
		t.Fatalf("expected top-1 near, got %+v", hits)
	}
}
