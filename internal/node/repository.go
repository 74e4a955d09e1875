package node

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/nodelink-core/internal/xbee"
)

// Repository persists registry snapshots. Save replaces the stored state
// entirely; Load returns it.
type Repository interface {
	Save(ctx context.Context, snaps []Snapshot) error
	Load(ctx context.Context) ([]Snapshot, error)
}

// SQLiteRepository implements Repository using SQLite.
// The schema lives in migrations/*_nodes.up.sql.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save writes every snapshot in one transaction, replacing what was stored.
// Placeholder identities are not persisted.
func (r *SQLiteRepository) Save(ctx context.Context, snaps []Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	// Child rows go with ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return fmt.Errorf("clearing devices: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i := range snaps {
		s := &snaps[i]
		if IsPlaceholder(s.ID) {
			continue
		}
		if err := insertSnapshot(ctx, tx, s, now); err != nil {
			return fmt.Errorf("saving device %s: %w", xbee.FormatAddress64(s.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, s *Snapshot, now string) error {
	id := xbee.FormatAddress64(s.ID)

	var lastSeen sql.NullString
	if !s.LastSeen.IsZero() {
		lastSeen = sql.NullString{String: s.LastSeen.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO devices (id, address16, name, last_seen, low_battery, catalog_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, int(s.Address16), s.Name, lastSeen, s.LowBattery, s.CatalogCount, now,
	); err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}

	for _, fn := range s.Functions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO device_functions (device_id, function_id, name, return_type, param_count)
			VALUES (?, ?, ?, ?, ?)`,
			id, int(fn.ID), fn.Name, int(fn.ReturnType), int(fn.ParamCount),
		); err != nil {
			return fmt.Errorf("inserting function %d: %w", fn.ID, err)
		}

		params := make([]Parameter, 0, len(fn.Params)+1)
		if fn.Return != nil {
			params = append(params, *fn.Return)
		}
		for _, pid := range fn.ParamIDs() {
			params = append(params, fn.Params[pid])
		}

		for _, p := range params {
			if err := insertParameter(ctx, tx, id, fn.ID, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertParameter(ctx context.Context, tx *sql.Tx, deviceID string, functionID byte, p Parameter) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO function_parameters (device_id, function_id, param_id, name, type, signed, min_value, max_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		deviceID, int(functionID), int(p.ID), p.Name, int(p.Type), p.Signed, p.Min, p.Max,
	); err != nil {
		return fmt.Errorf("inserting parameter %d/%d: %w", functionID, p.ID, err)
	}

	for pos, e := range p.Enum {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO parameter_enum_values (device_id, function_id, param_id, position, value, name)
			VALUES (?, ?, ?, ?, ?, ?)`,
			deviceID, int(functionID), int(p.ID), pos, e.Value, e.Name,
		); err != nil {
			return fmt.Errorf("inserting enum value %q: %w", e.Name, err)
		}
	}
	return nil
}

// Load reads every stored device with its catalog.
func (r *SQLiteRepository) Load(ctx context.Context) ([]Snapshot, error) {
	snaps, index, err := r.loadDevices(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.loadFunctions(ctx, snaps, index); err != nil {
		return nil, err
	}
	if err := r.loadParameters(ctx, snaps, index); err != nil {
		return nil, err
	}
	if err := r.loadEnumValues(ctx, snaps, index); err != nil {
		return nil, err
	}

	now := time.Now()
	for i := range snaps {
		snaps[i].Liveness = LivenessAt(snaps[i].LastSeen, now)
	}
	return snaps, nil
}

func (r *SQLiteRepository) loadDevices(ctx context.Context) ([]Snapshot, map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, address16, name, last_seen, low_battery, catalog_count
		FROM devices
		ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	index := make(map[string]int)
	for rows.Next() {
		var (
			idText   string
			addr16   int
			lastSeen sql.NullString
			s        Snapshot
		)
		if err := rows.Scan(&idText, &addr16, &s.Name, &lastSeen, &s.LowBattery, &s.CatalogCount); err != nil {
			return nil, nil, fmt.Errorf("scanning device: %w", err)
		}
		id, err := strconv.ParseUint(idText, 16, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing device id %q: %w", idText, err)
		}
		s.ID = id
		s.Address16 = uint16(addr16) //nolint:gosec // stored from a uint16
		if lastSeen.Valid {
			s.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen.String) //nolint:errcheck // format is controlled
		}
		index[idText] = len(snaps)
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating devices: %w", err)
	}
	return snaps, index, nil
}

func (r *SQLiteRepository) loadFunctions(ctx context.Context, snaps []Snapshot, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, function_id, name, return_type, param_count
		FROM device_functions
		ORDER BY device_id, function_id`)
	if err != nil {
		return fmt.Errorf("querying functions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			deviceID                    string
			fid, returnType, paramCount int
			name                        string
		)
		if err := rows.Scan(&deviceID, &fid, &name, &returnType, &paramCount); err != nil {
			return fmt.Errorf("scanning function: %w", err)
		}
		i, ok := index[deviceID]
		if !ok {
			continue
		}
		//nolint:gosec // columns are stored from bytes
		snaps[i].Functions = append(snaps[i].Functions, Function{
			ID:         byte(fid),
			Name:       name,
			ReturnType: xbee.ValueType(returnType),
			ParamCount: byte(paramCount),
			Params:     make(map[byte]Parameter),
		})
	}
	return rows.Err()
}

func (r *SQLiteRepository) loadParameters(ctx context.Context, snaps []Snapshot, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, function_id, param_id, name, type, signed, min_value, max_value
		FROM function_parameters
		ORDER BY device_id, function_id, param_id`)
	if err != nil {
		return fmt.Errorf("querying parameters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			deviceID      string
			fid, pid, typ int
			p             Parameter
		)
		if err := rows.Scan(&deviceID, &fid, &pid, &p.Name, &typ, &p.Signed, &p.Min, &p.Max); err != nil {
			return fmt.Errorf("scanning parameter: %w", err)
		}
		fn := findFunction(snaps, index, deviceID, byte(fid)) //nolint:gosec // stored from a byte
		if fn == nil {
			continue
		}
		p.ID = byte(pid)             //nolint:gosec // stored from a byte
		p.Type = xbee.ValueType(typ) //nolint:gosec // stored from a byte
		if p.ID == ReturnValueID {
			fn.Return = &p
		} else {
			fn.Params[p.ID] = p
		}
	}
	return rows.Err()
}

func (r *SQLiteRepository) loadEnumValues(ctx context.Context, snaps []Snapshot, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, function_id, param_id, value, name
		FROM parameter_enum_values
		ORDER BY device_id, function_id, param_id, position`)
	if err != nil {
		return fmt.Errorf("querying enum values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			deviceID string
			fid, pid int
			e        xbee.EnumValue
		)
		if err := rows.Scan(&deviceID, &fid, &pid, &e.Value, &e.Name); err != nil {
			return fmt.Errorf("scanning enum value: %w", err)
		}
		fn := findFunction(snaps, index, deviceID, byte(fid)) //nolint:gosec // stored from a byte
		if fn == nil {
			continue
		}
		if byte(pid) == ReturnValueID { //nolint:gosec // stored from a byte
			if fn.Return != nil {
				fn.Return.Enum = append(fn.Return.Enum, e)
			}
			continue
		}
		if p, ok := fn.Params[byte(pid)]; ok { //nolint:gosec // stored from a byte
			p.Enum = append(p.Enum, e)
			fn.Params[p.ID] = p
		}
	}
	return rows.Err()
}

func findFunction(snaps []Snapshot, index map[string]int, deviceID string, fid byte) *Function {
	i, ok := index[deviceID]
	if !ok {
		return nil
	}
	for j := range snaps[i].Functions {
		if snaps[i].Functions[j].ID == fid {
			return &snaps[i].Functions[j]
		}
	}
	return nil
}
