package interfaces

import (
	"context"

	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
)

type ReadingRepository interface {
	// Map of reading_value_types.short_descr to id
	ListValueTypes(ctx context.Context) (map[string]int64, error)

	// Insert the reading row and return its id. Values are not written.
	CreateReading(ctx context.Context, rec mqtmodels.CanonicalRecord) (int64, error)

	// Insert one typed value for an existing reading
	CreateReadingValue(ctx context.Context, value mqtmodels.ReadingValue) error

	// Check the store is reachable
	Ping(ctx context.Context) error
}

// Store is everything the loader needs from the database
type Store interface {
	DeviceRepository
	ReadingRepository
}
