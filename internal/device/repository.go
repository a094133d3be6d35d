package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteRepository is persisted device config held in the device_configs
// table. Each row stores the same JSON record as the file format so both
// flavours round-trip identically.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an already migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Load returns every row ordered by device_id. Rows that do not decode or
// validate are skipped and reported in a *SkippedRecordsError returned with
// the valid ones.
func (r *SQLiteRepository) Load(ctx context.Context) ([]*Device, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT device_id, record FROM device_configs ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("querying device configs: %w", err)
	}
	defer rows.Close()

	var (
		devices []*Device
		skipped []*RecordError
	)
	for n := 0; rows.Next(); n++ {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("scanning device config: %w", err)
		}
		dev, err := decodeRecord(record)
		if err != nil {
			skipped = append(skipped, &RecordError{Index: n, ID: id, Err: err})
			continue
		}
		devices = append(devices, dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device configs: %w", err)
	}
	if len(skipped) > 0 {
		return devices, &SkippedRecordsError{Source: "device_configs", Records: skipped}
	}
	return devices, nil
}

// Lookup returns the row for id or ErrDeviceNotFound.
func (r *SQLiteRepository) Lookup(ctx context.Context, id string) (*Device, error) {
	var record string
	err := r.db.QueryRowContext(ctx,
		"SELECT record FROM device_configs WHERE device_id = ?", id,
	).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device config: %w", err)
	}
	return decodeRecord(record)
}

// Put inserts or replaces the row for dev.ID.
func (r *SQLiteRepository) Put(ctx context.Context, dev *Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	record, err := json.Marshal(dev)
	if err != nil {
		return fmt.Errorf("encoding device config: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO device_configs (device_id, device_type, record, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			device_type = excluded.device_type,
			record      = excluded.record,
			updated_at  = excluded.updated_at`,
		dev.ID, string(dev.Type), string(record), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing device config: %w", err)
	}
	return nil
}

// Delete removes the row for id.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM device_configs WHERE device_id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting device config: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func decodeRecord(record string) (*Device, error) {
	dev, err := decodeDevice([]byte(record))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := dev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return dev, nil
}
