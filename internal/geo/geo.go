package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/battery-swap/internal/models"
)

// Hit is a station found by a proximity query.
type Hit struct {
	StationID string  `json:"station_id"`
	DistanceM float64 `json:"distance_m"`
}

// Locator indexes station positions for driver "near me" lookups.
type Locator interface {
	Upsert(ctx context.Context, stationID string, loc models.Coord) error
	Nearby(ctx context.Context, loc models.Coord, radiusM float64, limit int) ([]Hit, error)
}

type Index struct {
	mu       sync.RWMutex
	stations map[string]models.Coord
}

func NewIndex() *Index {
	return &Index{stations: make(map[string]models.Coord)}
}

func (g *Index) Upsert(_ context.Context, stationID string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stations[stationID] = loc
	return nil
}

// naive scan; station counts are small
func (g *Index) Nearby(_ context.Context, loc models.Coord, radiusM float64, limit int) ([]Hit, error) {
	g.mu.RLock()
	arr := make([]Hit, 0, len(g.stations))
	for id, c := range g.stations {
		dist := Haversine(loc.Lat, loc.Lon, c.Lat, c.Lon)
		if radiusM > 0 && dist > radiusM {
			continue
		}
		arr = append(arr, Hit{StationID: id, DistanceM: dist})
	}
	g.mu.RUnlock()

	// partial selection sort for top-N
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].DistanceM < arr[minIdx].DistanceM ||
				(arr[j].DistanceM == arr[minIdx].DistanceM && arr[j].StationID < arr[minIdx].StationID) {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	return arr[:n], nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
