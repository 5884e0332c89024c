package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
)

type PostgresDeviceRepository struct {
	db *sql.DB
}

func NewPostgresDeviceRepository(db *sql.DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

// GetDeviceID resolves a device name
func (r *PostgresDeviceRepository) GetDeviceID(ctx context.Context, deviceName string) (int64, error) {
	query := `SELECT device_id FROM devices WHERE device_name = $1`

	var id int64
	err := r.db.QueryRowContext(ctx, query, deviceName).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", interfaces.ErrDeviceNotFound, deviceName)
		}
		return 0, fmt.Errorf("failed to look up device %s: %w", deviceName, err)
	}
	return id, nil
}

// GetLastSeen reads devices.last_seen; unknown devices and NULL both report ok=false
func (r *PostgresDeviceRepository) GetLastSeen(ctx context.Context, deviceName string) (time.Time, bool, error) {
	query := `SELECT last_seen FROM devices WHERE device_name = $1`

	var lastSeen sql.NullTime
	err := r.db.QueryRowContext(ctx, query, deviceName).Scan(&lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read last_seen for %s: %w", deviceName, err)
	}
	if !lastSeen.Valid {
		return time.Time{}, false, nil
	}
	return lastSeen.Time.UTC(), true, nil
}

// UpdateLastSeen records data arrival and makes the device visible again
func (r *PostgresDeviceRepository) UpdateLastSeen(ctx context.Context, deviceID int64, lastSeen time.Time) error {
	query := `UPDATE devices SET last_seen = $1, visible = true WHERE device_id = $2`

	result, err := r.db.ExecContext(ctx, query, lastSeen.UTC(), deviceID)
	if err != nil {
		return fmt.Errorf("failed to update last_seen for device %d: %w", deviceID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: id %d", interfaces.ErrDeviceNotFound, deviceID)
	}
	return nil
}

// UpdateVisibility hides devices whose last_seen is older than notSeenFor
func (r *PostgresDeviceRepository) UpdateVisibility(ctx context.Context, notSeenFor time.Duration) (int64, error) {
	query := `
		UPDATE devices
		SET visible = (last_seen IS NOT NULL AND last_seen >= $1)
		WHERE visible IS DISTINCT FROM (last_seen IS NOT NULL AND last_seen >= $1)
	`

	cutoff := time.Now().UTC().Add(-notSeenFor)
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to update device visibility: %w", err)
	}
	return result.RowsAffected()
}
