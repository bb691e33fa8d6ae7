package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/battery-swap/internal/events"
	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/observability"
)

// StationSource lists the current station inventory views.
type StationSource interface {
	StationRecords() []models.StationRecord
}

// Job refreshes the station gauges and emits one snapshot event per station
// so downstream projections can resync even when they missed a change event.
type Job struct {
	Stations StationSource
	Events   events.Publisher
	Logger   *slog.Logger
	Timeout  time.Duration
	Now      func() time.Time
}

// Run takes one snapshot.
func (j *Job) Run(ctx context.Context) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	recs := j.Stations.StationRecords()
	evs := make([]events.Event, 0, len(recs))
	for _, r := range recs {
		counts := models.BatteryCounts{Available: r.AvailableBatteries}
		if r.BatteryCounts != nil {
			counts = *r.BatteryCounts
		}
		observability.RecordStation(r.ID, counts.Available, counts.Charging, counts.InUse, counts.Faulty, r.SOHAvg)

		ev, err := events.New(events.StationSnapshot, r.ID, now(), events.StationPayload{Stations: []models.StationRecord{r}})
		if err != nil {
			return fmt.Errorf("encode snapshot %s: %w", r.ID, err)
		}
		evs = append(evs, ev)
	}
	if j.Events == nil || len(evs) == 0 {
		return nil
	}
	if err := j.Events.Publish(ctx, evs...); err != nil {
		return fmt.Errorf("publish snapshots: %w", err)
	}
	return nil
}

// Schedule registers the job on c. Each run gets its own timeout.
func (j *Job) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		if err := j.Run(ctx); err != nil {
			logger.Error("station snapshot failed", "error", err)
			return
		}
		logger.Debug("station snapshot taken", "duration_ms", time.Since(start).Milliseconds())
	})
}
