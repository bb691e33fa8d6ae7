package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/battery-swap/internal/models"
)

// RedisGeo implements Locator using Redis GEO commands so every API replica
// shares one index.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, stationID string, loc models.Coord) error {
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lon, Latitude: loc.Lat, Name: stationID}).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, loc models.Coord, radiusM float64, limit int) ([]Hit, error) {
	if radiusM <= 0 {
		radiusM = 50000
	}
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  loc.Lon,
			Latitude:   loc.Lat,
			Radius:     radiusM,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(res))
	for _, g := range res {
		out = append(out, Hit{StationID: g.Name, DistanceM: g.Dist})
	}
	return out, nil
}
