package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent so it is safe to run on each start.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const bookingColumns = `id, user_id, station_id, battery_id, replacement_battery_id, replacement_slot_id,
	scheduled_at, status, cancel_reason, dispute_reason, confirmed_by,
	confirmed_at, completed_at, cancelled_at, disputed_at, created_at, updated_at`

func (p *PostgresStore) CreateBooking(ctx context.Context, b models.Booking) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(`+bookingColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		b.ID, b.UserID, b.StationID, b.BatteryID, b.ReplacementID, b.ReplacementSlotID,
		b.ScheduledAt, b.Status, b.CancelReason, b.DisputeReason, b.ConfirmedBy,
		b.ConfirmedAt, b.CompletedAt, b.CancelledAt, b.DisputedAt, b.CreatedAt, b.UpdatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (models.Booking, error) {
	var b models.Booking
	var confirmed, completed, cancelled, disputed sql.NullTime
	err := row.Scan(&b.ID, &b.UserID, &b.StationID, &b.BatteryID, &b.ReplacementID, &b.ReplacementSlotID,
		&b.ScheduledAt, &b.Status, &b.CancelReason, &b.DisputeReason, &b.ConfirmedBy,
		&confirmed, &completed, &cancelled, &disputed, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return models.Booking{}, err
	}
	b.ConfirmedAt = nullTimePtr(confirmed)
	b.CompletedAt = nullTimePtr(completed)
	b.CancelledAt = nullTimePtr(cancelled)
	b.DisputedAt = nullTimePtr(disputed)
	return b, nil
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Booking{}, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, err
}

func (p *PostgresStore) ListBookings(ctx context.Context, stationID string, status models.BookingStatus) ([]models.Booking, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE ($1 = '' OR station_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at, id`, stationID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CommitSwap(ctx context.Context, c *SwapCommit) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if err := persistInventory(ctx, tx, c.Inventory); err != nil {
			return err
		}
		b := c.Booking
		res, err := tx.ExecContext(ctx, `UPDATE bookings SET replacement_battery_id=$1, replacement_slot_id=$2,
			status=$3, cancel_reason=$4, dispute_reason=$5, confirmed_by=$6, confirmed_at=$7, completed_at=$8,
			cancelled_at=$9, disputed_at=$10, updated_at=$11
			WHERE id=$12 AND status=$13`,
			b.ReplacementID, b.ReplacementSlotID, b.Status, b.CancelReason, b.DisputeReason, b.ConfirmedBy,
			b.ConfirmedAt, b.CompletedAt, b.CancelledAt, b.DisputedAt, b.UpdatedAt, b.ID, c.ExpectStatus)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("booking %s not %s: %w", b.ID, c.ExpectStatus, ErrConflict)
		}
		if c.Transaction == nil {
			return nil
		}
		t := c.Transaction
		// the caller holds the station lock, so max+1 cannot race within
		// this process; the unique key guards against other writers
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM transactions WHERE station_id=$1`,
			t.StationID).Scan(&t.Seq); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO transactions(id, booking_id, station_id, driver_id, seq,
			returned_id, returned_model, returned_soh, given_id, given_model, given_soh,
			cost, status, started_at, completed_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			t.ID, t.BookingID, t.StationID, t.DriverID, t.Seq,
			t.BatteryReturned.ID, t.BatteryReturned.Model, t.BatteryReturned.SOH,
			t.BatteryGiven.ID, t.BatteryGiven.Model, t.BatteryGiven.SOH,
			t.Cost, t.Status, t.StartedAt, t.CompletedAt)
		return err
	})
}

func (p *PostgresStore) ListTransactions(ctx context.Context, stationID string) ([]models.Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, booking_id, station_id, driver_id, seq,
		returned_id, returned_model, returned_soh, given_id, given_model, given_soh,
		cost, status, started_at, completed_at
		FROM transactions WHERE station_id=$1 ORDER BY seq`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.BookingID, &t.StationID, &t.DriverID, &t.Seq,
			&t.BatteryReturned.ID, &t.BatteryReturned.Model, &t.BatteryReturned.SOH,
			&t.BatteryGiven.ID, &t.BatteryGiven.Model, &t.BatteryGiven.SOH,
			&t.Cost, &t.Status, &t.StartedAt, &t.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateTicket(ctx context.Context, t models.SupportRequest) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO support_requests(id, booking_id, user_id, subject, status,
		close_note, closed_at, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.BookingID, t.UserID, t.Subject, t.Status, t.CloseNote, t.ClosedAt, t.CreatedAt, t.UpdatedAt)
	return err
}

func (p *PostgresStore) GetTicket(ctx context.Context, id string) (models.SupportRequest, error) {
	var t models.SupportRequest
	var closed sql.NullTime
	err := p.db.QueryRowContext(ctx, `SELECT id, booking_id, user_id, subject, status, close_note, closed_at,
		created_at, updated_at FROM support_requests WHERE id=$1`, id).
		Scan(&t.ID, &t.BookingID, &t.UserID, &t.Subject, &t.Status, &t.CloseNote, &closed, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SupportRequest{}, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.SupportRequest{}, err
	}
	t.ClosedAt = nullTimePtr(closed)
	return t, nil
}

func (p *PostgresStore) UpdateTicket(ctx context.Context, t models.SupportRequest, expect models.SupportStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE support_requests SET subject=$1, status=$2, close_note=$3,
		closed_at=$4, updated_at=$5 WHERE id=$6 AND status=$7`,
		t.Subject, t.Status, t.CloseNote, t.ClosedAt, t.UpdatedAt, t.ID, expect)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.GetTicket(ctx, t.ID); err != nil {
			return err
		}
		return fmt.Errorf("ticket %s not %s: %w", t.ID, expect, ErrConflict)
	}
	return nil
}

func (p *PostgresStore) PersistInventory(ctx context.Context, cs inventory.Changeset) error {
	return p.withTx(ctx, func(tx *sql.Tx) error { return persistInventory(ctx, tx, cs) })
}

func persistInventory(ctx context.Context, db execer, cs inventory.Changeset) error {
	for _, st := range cs.Stations {
		if _, err := db.ExecContext(ctx, `INSERT INTO stations(id, name, address, lat, lon, capacity, created_at)
			VALUES($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, address=EXCLUDED.address,
			lat=EXCLUDED.lat, lon=EXCLUDED.lon, capacity=EXCLUDED.capacity`,
			st.ID, st.Name, st.Address, st.Loc.Lat, st.Loc.Lon, st.Capacity, st.CreatedAt); err != nil {
			return fmt.Errorf("station %s: %w", st.ID, err)
		}
	}
	for _, pl := range cs.Pillars {
		if _, err := db.ExecContext(ctx, `INSERT INTO pillars(id, station_id, name, number, code, status)
			VALUES($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, status=EXCLUDED.status`,
			pl.ID, pl.StationID, pl.Name, pl.Number, pl.Code, pl.Status); err != nil {
			return fmt.Errorf("pillar %s: %w", pl.ID, err)
		}
	}
	// batteries before slots so the slot foreign key resolves
	for _, b := range cs.Batteries {
		if _, err := db.ExecContext(ctx, `INSERT INTO batteries(id, serial, model, capacity_kwh, voltage, status,
			soh, cycle_count, station_id, retired, created_at, updated_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, soh=EXCLUDED.soh,
			cycle_count=EXCLUDED.cycle_count, station_id=EXCLUDED.station_id,
			retired=EXCLUDED.retired, updated_at=EXCLUDED.updated_at`,
			b.ID, b.Serial, b.Model, b.CapacityKWh, b.Voltage, b.Status,
			b.SOH, b.CycleCount, b.StationID, b.Retired, b.CreatedAt, b.UpdatedAt); err != nil {
			return fmt.Errorf("battery %s: %w", b.ID, err)
		}
	}
	for _, sl := range cs.Slots {
		if _, err := db.ExecContext(ctx, `INSERT INTO slots(id, pillar_id, number, code, status, held_status,
			battery_id, updated_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, held_status=EXCLUDED.held_status,
			battery_id=EXCLUDED.battery_id, updated_at=EXCLUDED.updated_at`,
			sl.ID, sl.PillarID, sl.Number, sl.Code, sl.Status, sl.HeldStatus,
			nullIfEmpty(sl.BatteryID), sl.UpdatedAt); err != nil {
			return fmt.Errorf("slot %s: %w", sl.ID, err)
		}
	}
	return nil
}

func (p *PostgresStore) LoadInventory(ctx context.Context) (inventory.Snapshot, error) {
	var snap inventory.Snapshot
	if err := p.query(ctx, `SELECT id, name, address, lat, lon, capacity, created_at FROM stations ORDER BY id`,
		func(r rowScanner) error {
			var st models.Station
			if err := r.Scan(&st.ID, &st.Name, &st.Address, &st.Loc.Lat, &st.Loc.Lon, &st.Capacity, &st.CreatedAt); err != nil {
				return err
			}
			snap.Stations = append(snap.Stations, st)
			return nil
		}); err != nil {
		return snap, err
	}
	if err := p.query(ctx, `SELECT id, station_id, name, number, code, status FROM pillars ORDER BY id`,
		func(r rowScanner) error {
			var pl models.Pillar
			if err := r.Scan(&pl.ID, &pl.StationID, &pl.Name, &pl.Number, &pl.Code, &pl.Status); err != nil {
				return err
			}
			snap.Pillars = append(snap.Pillars, pl)
			return nil
		}); err != nil {
		return snap, err
	}
	if err := p.query(ctx, `SELECT id, serial, model, capacity_kwh, voltage, status, soh, cycle_count,
		station_id, retired, created_at, updated_at FROM batteries ORDER BY id`,
		func(r rowScanner) error {
			var b models.Battery
			if err := r.Scan(&b.ID, &b.Serial, &b.Model, &b.CapacityKWh, &b.Voltage, &b.Status, &b.SOH,
				&b.CycleCount, &b.StationID, &b.Retired, &b.CreatedAt, &b.UpdatedAt); err != nil {
				return err
			}
			snap.Batteries = append(snap.Batteries, b)
			return nil
		}); err != nil {
		return snap, err
	}
	err := p.query(ctx, `SELECT id, pillar_id, number, code, status, held_status, battery_id, updated_at
		FROM slots ORDER BY id`,
		func(r rowScanner) error {
			var sl models.Slot
			var battery sql.NullString
			if err := r.Scan(&sl.ID, &sl.PillarID, &sl.Number, &sl.Code, &sl.Status, &sl.HeldStatus,
				&battery, &sl.UpdatedAt); err != nil {
				return err
			}
			sl.BatteryID = battery.String
			snap.Slots = append(snap.Slots, sl)
			return nil
		})
	return snap, err
}

func (p *PostgresStore) query(ctx context.Context, q string, each func(r rowScanner) error) error {
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := each(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
