package swap

import (
	"sort"

	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
)

type candidate struct {
	battery models.Battery
	slot    models.Slot
}

// pickReplacement chooses the battery handed to the driver: stocked and
// docked in an occupied slot, highest SOH first, then fewest cycles, then
// the one idle the longest.
func pickReplacement(tx *inventory.Tx, stationID, exclude string) (candidate, bool, error) {
	bats, err := tx.StationBatteries(stationID)
	if err != nil {
		return candidate{}, false, err
	}
	var cands []candidate
	for _, b := range bats {
		if b.ID == exclude || b.Retired || !b.Status.Stocked() {
			continue
		}
		sl, ok := tx.SlotOf(b.ID)
		if !ok || sl.Status != models.SlotOccupied {
			continue
		}
		cands = append(cands, candidate{battery: b, slot: sl})
	}
	if len(cands) == 0 {
		return candidate{}, false, nil
	}
	sort.Slice(cands, func(i, j int) bool { return better(cands[i].battery, cands[j].battery) })
	return cands[0], true, nil
}

func better(a, b models.Battery) bool {
	if a.SOH != b.SOH {
		return a.SOH > b.SOH
	}
	if a.CycleCount != b.CycleCount {
		return a.CycleCount < b.CycleCount
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID < b.ID
}
