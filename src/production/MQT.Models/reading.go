package mqtmodels

import (
	"time"
)

// Canonical keys shared by every bridge and the loader
const (
	KeyDevice    = "dev"
	KeyTimestamp = "timestamp"
	KeyLatitude  = "latitude"
	KeyLongitude = "longitude"
	KeyAltitude  = "altitude"
)

// Location is a GNSS fix attached to a reading
type Location struct {
	Latitude  float64  `bson:"latitude" json:"latitude"`
	Longitude float64  `bson:"longitude" json:"longitude"`
	Altitude  *float64 `bson:"altitude,omitempty" json:"altitude,omitempty"`
}

// RawReading is one device reading as delivered by a vendor, keyed by vendor field names
type RawReading struct {
	Source string
	Fields map[string]interface{}
}

// Reading is one device reading in canonical form.
// It is built once by the field mapper and not modified afterwards.
type Reading struct {
	DeviceCode   string
	Timestamp    time.Time
	Measurements map[string]interface{}
	Location     *Location
}

// Message returns the canonical wire form of the reading
func (r Reading) Message() Message {
	m := make(Message, len(r.Measurements)+5)
	for k, v := range r.Measurements {
		m[k] = v
	}
	m[KeyDevice] = r.DeviceCode
	m[KeyTimestamp] = r.Timestamp.UTC().Format(time.RFC3339)
	if r.Location != nil {
		m[KeyLatitude] = r.Location.Latitude
		m[KeyLongitude] = r.Location.Longitude
		if r.Location.Altitude != nil {
			m[KeyAltitude] = *r.Location.Altitude
		}
	}
	return m
}

// CanonicalRecord is a persisted reading row plus its typed values
type CanonicalRecord struct {
	ID         int64          `bson:"_id" json:"id"`
	DeviceID   int64          `bson:"device_id" json:"device_id"`
	StoredAt   time.Time      `bson:"storedon" json:"storedon"`
	RecordedAt *time.Time     `bson:"recordedon" json:"recordedon"`
	RawPayload string         `bson:"raw_json" json:"raw_json"`
	Location   *Location      `bson:"location,omitempty" json:"location,omitempty"`
	Values     []ReadingValue `bson:"-" json:"values"`
}

// LastSeen is the instant written to devices.last_seen for this record
func (c CanonicalRecord) LastSeen() time.Time {
	if c.RecordedAt != nil {
		return *c.RecordedAt
	}
	return c.StoredAt
}

// ReadingValue is one typed measurement belonging to a reading
type ReadingValue struct {
	ReadingID int64   `bson:"reading_id" json:"reading_id"`
	TypeID    int64   `bson:"reading_value_types_id" json:"reading_value_types_id"`
	Key       string  `bson:"-" json:"key"`
	Value     float64 `bson:"value" json:"value"`
}
