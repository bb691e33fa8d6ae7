package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/battery-swap/internal/events"
	"github.com/example/battery-swap/internal/models"
)

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	HGet(ctx context.Context, key, field string) (string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

func (r *redisAdapter) HGet(ctx context.Context, key, field string) (string, error) {
	return r.c.HGet(ctx, key, field).Result()
}

func (r *redisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.Expire(ctx, key, ttl).Err()
}

func snapshotKey(stationID string) string { return "station:snapshot:" + stationID }

// projector keeps a per-station snapshot hash and the geo index in redis
// so read replicas can answer station queries without the API process.
type projector struct {
	rc       RedisUpdater
	geoKey   string
	ttl      time.Duration
	attempts int
	delay    time.Duration
}

// stationRecords extracts the station views carried by an event. Booking
// and transaction events carry none and are skipped.
func stationRecords(value []byte) (events.Type, []models.StationRecord, error) {
	var ev events.Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	switch ev.Type {
	case events.InventoryChanged, events.StationSnapshot:
	default:
		return ev.Type, nil, nil
	}
	var p events.StationPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return ev.Type, nil, fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	return ev.Type, p.Stations, nil
}

func (p *projector) project(ctx context.Context, rec models.StationRecord) error {
	return updateRedisWithRetry(ctx, p.rc, p.geoKey, rec, p.ttl, p.attempts, p.delay)
}

func snapshotFields(rec models.StationRecord) map[string]interface{} {
	counts := models.BatteryCounts{Available: rec.Available()}
	if rec.BatteryCounts != nil {
		counts = *rec.BatteryCounts
	}
	return map[string]interface{}{
		"capacity":  rec.Capacity,
		"sohAvg":    rec.SOHAvg,
		"total":     counts.Total,
		"available": counts.Available,
		"charging":  counts.Charging,
		"inUse":     counts.InUse,
		"faulty":    counts.Faulty,
		"version":   rec.Version,
		"updatedAt": rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// updateRedisWithRetry updates redis using the RedisUpdater interface with retry/backoff.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey string, rec models.StationRecord, ttl time.Duration, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = writeSnapshot(ctx, rc, geoKey, rec, ttl); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// storedNewer reports whether redis already holds a later view of the
// station. A snapshot event can be enqueued after a newer commit's event.
func storedNewer(ctx context.Context, rc RedisUpdater, key string, version uint64) (bool, error) {
	v, err := rc.HGet(ctx, key, "version")
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	stored, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return false, nil
	}
	return stored > version, nil
}

func writeSnapshot(ctx context.Context, rc RedisUpdater, geoKey string, rec models.StationRecord, ttl time.Duration) error {
	newer, err := storedNewer(ctx, rc, snapshotKey(rec.ID), rec.Version)
	if err != nil {
		return err
	}
	if newer {
		return nil
	}
	if err := rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: rec.Loc.Lon, Latitude: rec.Loc.Lat, Name: rec.ID}); err != nil {
		return err
	}
	key := snapshotKey(rec.ID)
	if err := rc.HSet(ctx, key, snapshotFields(rec)); err != nil {
		return err
	}
	if ttl > 0 {
		return rc.Expire(ctx, key, ttl)
	}
	return nil
}
