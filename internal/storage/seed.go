package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/example/battery-swap/internal/inventory"
)

// LoadSeedFile reads an inventory snapshot from a JSON file with top-level
// stations, pillars, slots and batteries arrays.
func LoadSeedFile(path string) (inventory.Snapshot, error) {
	var snap inventory.Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return snap, nil
}
