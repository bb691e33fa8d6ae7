package inventory

import (
	"context"

	"github.com/example/battery-swap/internal/models"
)

// Single-entity operations, each its own transaction.

func (s *Store) SetStatus(ctx context.Context, batteryID string, to models.BatteryStatus) (models.Battery, error) {
	return s.batteryOp(ctx, batteryID, func(tx *Tx) (models.Battery, error) { return tx.SetStatus(batteryID, to) })
}

func (s *Store) SetHealth(ctx context.Context, batteryID string, soh float64) (models.Battery, error) {
	return s.batteryOp(ctx, batteryID, func(tx *Tx) (models.Battery, error) { return tx.SetHealth(batteryID, soh) })
}

func (s *Store) ResetHealth(ctx context.Context, batteryID string, soh float64) (models.Battery, error) {
	return s.batteryOp(ctx, batteryID, func(tx *Tx) (models.Battery, error) { return tx.ResetHealth(batteryID, soh) })
}

func (s *Store) MarkFaulty(ctx context.Context, batteryID string) (models.Battery, error) {
	return s.batteryOp(ctx, batteryID, func(tx *Tx) (models.Battery, error) { return tx.MarkFaulty(batteryID) })
}

func (s *Store) Repair(ctx context.Context, batteryID string) (models.Battery, error) {
	return s.batteryOp(ctx, batteryID, func(tx *Tx) (models.Battery, error) { return tx.Repair(batteryID) })
}

func (s *Store) Retire(ctx context.Context, batteryID string) (models.Battery, error) {
	return s.batteryOp(ctx, batteryID, func(tx *Tx) (models.Battery, error) { return tx.Retire(batteryID) })
}

func (s *Store) Assign(ctx context.Context, slotID, batteryID string) (models.Slot, error) {
	return s.slotOp(ctx, slotID, func(tx *Tx) (models.Slot, error) { return tx.Assign(slotID, batteryID) })
}

func (s *Store) Reserve(ctx context.Context, slotID string) (models.Slot, error) {
	return s.slotOp(ctx, slotID, func(tx *Tx) (models.Slot, error) { return tx.Reserve(slotID) })
}

func (s *Store) Release(ctx context.Context, slotID string) (models.Slot, error) {
	return s.slotOp(ctx, slotID, func(tx *Tx) (models.Slot, error) { return tx.Release(slotID) })
}

func (s *Store) RemoveBattery(ctx context.Context, slotID string) (models.Slot, error) {
	return s.slotOp(ctx, slotID, func(tx *Tx) (models.Slot, error) {
		sl, _, err := tx.RemoveBattery(slotID)
		return sl, err
	})
}

func (s *Store) Block(ctx context.Context, slotID string, status models.SlotStatus) (models.Slot, error) {
	return s.slotOp(ctx, slotID, func(tx *Tx) (models.Slot, error) { return tx.Block(slotID, status) })
}

func (s *Store) Unblock(ctx context.Context, slotID string) (models.Slot, error) {
	return s.slotOp(ctx, slotID, func(tx *Tx) (models.Slot, error) { return tx.Unblock(slotID) })
}

func (s *Store) batteryOp(ctx context.Context, id string, op func(tx *Tx) (models.Battery, error)) (models.Battery, error) {
	var out models.Battery
	err := s.UpdateBattery(ctx, id, func(tx *Tx) error {
		b, err := op(tx)
		out = b
		return err
	})
	return out, err
}

func (s *Store) slotOp(ctx context.Context, id string, op func(tx *Tx) (models.Slot, error)) (models.Slot, error) {
	var out models.Slot
	err := s.UpdateSlot(ctx, id, func(tx *Tx) error {
		sl, err := op(tx)
		out = sl
		return err
	})
	return out, err
}
