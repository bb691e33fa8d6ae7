package geo

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
)

const upsertTimeout = 2 * time.Second

// InventoryListener indexes newly provisioned stations. The locator call runs
// on its own goroutine so the committing station is never held up by Redis.
func InventoryListener(loc Locator, logger *slog.Logger) inventory.Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c inventory.Commit) {
		for _, ch := range c.Changes {
			if ch.Kind != inventory.ChangeStationAdded {
				continue
			}
			for _, rec := range c.Stations {
				if rec.ID != ch.StationID {
					continue
				}
				go func(id string, at models.Coord) {
					ctx, cancel := context.WithTimeout(context.Background(), upsertTimeout)
					defer cancel()
					if err := loc.Upsert(ctx, id, at); err != nil {
						logger.Warn("index station location", "station", id, "error", err)
					}
				}(rec.ID, rec.Loc)
			}
		}
	}
}
