package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
)

// ConnectPostgresWithTimeout opens the reading database and pings it within cfg.ConnectTimeout
func ConnectPostgresWithTimeout(cfg *config.DatabaseConfig) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// DefaultValueTypes seeds reading_value_types on a fresh database
var DefaultValueTypes = []string{
	"humidity", "PM10", "PM25", "pressure", "temperature",
	"NO", "NO2", "SO2", "O3", "CO", "CO2", "VOC", "RSSI",
}

// CreateTables creates the reading schema if it doesn't exist and seeds the value types
func CreateTables(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	createDevicesTable := `
		CREATE TABLE IF NOT EXISTS devices (
			device_id   SERIAL PRIMARY KEY,
			device_name TEXT NOT NULL UNIQUE,
			last_seen   TIMESTAMPTZ,
			visible     BOOLEAN NOT NULL DEFAULT true
		);
	`

	createValueTypesTable := `
		CREATE TABLE IF NOT EXISTS reading_value_types (
			id          SERIAL PRIMARY KEY,
			short_descr TEXT NOT NULL UNIQUE
		);
	`

	createReadingsTable := `
		CREATE TABLE IF NOT EXISTS readings (
			id                BIGSERIAL PRIMARY KEY,
			device_id         INTEGER NOT NULL REFERENCES devices(device_id),
			storedon          TIMESTAMPTZ NOT NULL DEFAULT now(),
			recordedon        TIMESTAMPTZ,
			raw_json          TEXT NOT NULL,
			reading_latitude  DOUBLE PRECISION,
			reading_longitude DOUBLE PRECISION,
			reading_altitude  DOUBLE PRECISION
		);
	`

	createReadingValuesTable := `
		CREATE TABLE IF NOT EXISTS reading_values (
			id                     BIGSERIAL PRIMARY KEY,
			reading_id             BIGINT NOT NULL REFERENCES readings(id) ON DELETE CASCADE,
			reading_value_types_id INTEGER NOT NULL REFERENCES reading_value_types(id),
			value                  DOUBLE PRECISION NOT NULL
		);
	`

	createIndexes := `
		CREATE INDEX IF NOT EXISTS idx_readings_device_recordedon ON readings (device_id, recordedon DESC);
		CREATE INDEX IF NOT EXISTS idx_reading_values_reading ON reading_values (reading_id);
	`

	queries := []string{
		createDevicesTable,
		createValueTypesTable,
		createReadingsTable,
		createReadingValuesTable,
		createIndexes,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	for _, name := range DefaultValueTypes {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO reading_value_types (short_descr) VALUES ($1) ON CONFLICT (short_descr) DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("failed to seed value type %s: %w", name, err)
		}
	}

	return nil
}
