package mqtmodels

import "time"

// Device is a registered sensor. Devices are created out of band; bridges and the
// loader only look them up and maintain last_seen/visible.
type Device struct {
	DeviceID   int64      `bson:"device_id" json:"device_id" db:"device_id"`
	DeviceName string     `bson:"device_name" json:"device_name" db:"device_name"`
	LastSeen   *time.Time `bson:"last_seen,omitempty" json:"last_seen,omitempty" db:"last_seen"`
	Visible    bool       `bson:"visible" json:"visible" db:"visible"`
}

// ValueType is a row of reading_value_types
type ValueType struct {
	ID         int64  `bson:"id" json:"id" db:"id"`
	ShortDescr string `bson:"short_descr" json:"short_descr" db:"short_descr"`
}
