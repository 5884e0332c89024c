package implementation

import (
	"context"
	"database/sql"
	"fmt"

	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
)

type PostgresReadingRepository struct {
	db *sql.DB
}

func NewPostgresReadingRepository(db *sql.DB) *PostgresReadingRepository {
	return &PostgresReadingRepository{db: db}
}

// ListValueTypes loads reading_value_types as short_descr -> id
func (r *PostgresReadingRepository) ListValueTypes(ctx context.Context) (map[string]int64, error) {
	query := `SELECT id, short_descr FROM reading_value_types`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list value types: %w", err)
	}
	defer rows.Close()

	types := make(map[string]int64)
	for rows.Next() {
		var vt mqtmodels.ValueType
		if err := rows.Scan(&vt.ID, &vt.ShortDescr); err != nil {
			return nil, err
		}
		types[vt.ShortDescr] = vt.ID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return types, nil
}

// CreateReading inserts the reading row and returns its id
func (r *PostgresReadingRepository) CreateReading(ctx context.Context, rec mqtmodels.CanonicalRecord) (int64, error) {
	query := `
		INSERT INTO readings (device_id, storedon, recordedon, raw_json, reading_latitude, reading_longitude, reading_altitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var recordedOn sql.NullTime
	if rec.RecordedAt != nil {
		recordedOn = sql.NullTime{Time: rec.RecordedAt.UTC(), Valid: true}
	}
	var lat, lon, alt sql.NullFloat64
	if rec.Location != nil {
		lat = sql.NullFloat64{Float64: rec.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: rec.Location.Longitude, Valid: true}
		if rec.Location.Altitude != nil {
			alt = sql.NullFloat64{Float64: *rec.Location.Altitude, Valid: true}
		}
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		rec.DeviceID, rec.StoredAt.UTC(), recordedOn, rec.RawPayload, lat, lon, alt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert reading for device %d: %w", rec.DeviceID, err)
	}
	return id, nil
}

// CreateReadingValue inserts one reading_values row
func (r *PostgresReadingRepository) CreateReadingValue(ctx context.Context, value mqtmodels.ReadingValue) error {
	query := `INSERT INTO reading_values (reading_id, reading_value_types_id, value) VALUES ($1, $2, $3)`

	if _, err := r.db.ExecContext(ctx, query, value.ReadingID, value.TypeID, value.Value); err != nil {
		return fmt.Errorf("failed to insert value %s for reading %d: %w", value.Key, value.ReadingID, err)
	}
	return nil
}

// Ping checks the connection
func (r *PostgresReadingRepository) Ping(ctx context.Context) error {
	if r.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return r.db.PingContext(ctx)
}

// PostgresStore combines the device and reading repositories over one connection pool
type PostgresStore struct {
	*PostgresDeviceRepository
	*PostgresReadingRepository
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		PostgresDeviceRepository:  NewPostgresDeviceRepository(db),
		PostgresReadingRepository: NewPostgresReadingRepository(db),
	}
}
