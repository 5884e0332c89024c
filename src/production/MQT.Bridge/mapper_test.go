package mqtbridge

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
)

func clarityRaw() mqtmodels.RawReading {
	return mqtmodels.RawReading{
		Source: "clarity",
		Fields: map[string]interface{}{
			"deviceCode":    "123",
			"time":          "2021-01-01T10:00:00.000Z",
			"relHumid":      55.1,
			"pm2_5ConcMass": 12.3456,
			"temperature":   19.0,
			"pm1ConcMass":   4.2,
			"mystery":       1.0,
		},
	}
}

func TestMapClarityReading(t *testing.T) {
	m := NewFieldMapper(config.DefaultClarityAliases(), "CL-")

	r, err := m.Map(clarityRaw())
	require.NoError(t, err)

	assert.Equal(t, "CL-123", r.DeviceCode)
	assert.Equal(t, time.Date(2021, 1, 1, 10, 0, 0, 0, time.UTC), r.Timestamp)
	assert.Equal(t, map[string]interface{}{"humidity": 55.1, "PM25": 12.35, "temp": 19.0}, r.Measurements)
	assert.Nil(t, r.Location)
}

func TestMapKeysAreExactlyTheKnownCanonicalNames(t *testing.T) {
	m := NewFieldMapper(config.DefaultClarityAliases(), "CL-")
	r, err := m.Map(clarityRaw())
	require.NoError(t, err)

	var keys []string
	for k := range r.Message() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// pm1ConcMass is ignored and mystery is unknown
	assert.Equal(t, []string{"PM25", "dev", "humidity", "temp", "timestamp"}, keys)
}

func TestMapKeepsCoordinatePrecision(t *testing.T) {
	m := NewFieldMapper(config.DefaultClarityAliases(), "CL-")
	raw := clarityRaw()
	raw.Fields["latitude"] = 53.748781234
	raw.Fields["longitude"] = -0.341222987

	r, err := m.Map(raw)
	require.NoError(t, err)
	require.NotNil(t, r.Location)
	assert.Equal(t, 53.748781234, r.Location.Latitude)
	assert.Equal(t, -0.341222987, r.Location.Longitude)
	assert.Nil(t, r.Location.Altitude)
	assert.NotContains(t, r.Measurements, "latitude")
}

func TestMapAliasesAreCaseSensitive(t *testing.T) {
	m := NewFieldMapper(config.DefaultClarityAliases(), "CL-")
	raw := clarityRaw()
	raw.Fields["RELHUMID"] = 99.0
	delete(raw.Fields, "relHumid")

	r, err := m.Map(raw)
	require.NoError(t, err)
	assert.NotContains(t, r.Measurements, "humidity")
}

func TestMapRoundsNumbers(t *testing.T) {
	af := &config.AliasFile{
		DeviceField:    "id",
		TimestampField: "at",
		Aliases:        map[string]string{"a": "A", "b": "B", "c": "C", "s": "status"},
	}
	m := NewFieldMapper(af, "")

	r, err := m.Map(mqtmodels.RawReading{Fields: map[string]interface{}{
		"id": 7,
		"at": time.Date(2021, 1, 1, 10, 0, 0, 0, time.FixedZone("BST", 3600)),
		"a":  12.3456,
		"b":  json.Number("3.14159"),
		"c":  5,
		"s":  "ok",
	}})
	require.NoError(t, err)

	assert.Equal(t, "7", r.DeviceCode)
	assert.Equal(t, time.UTC, r.Timestamp.Location())
	assert.Equal(t, 12.35, r.Measurements["A"])
	assert.Equal(t, 3.14, r.Measurements["B"])
	assert.Equal(t, int64(5), r.Measurements["C"])
	assert.Equal(t, "ok", r.Measurements["status"])
}

func TestMapKeepsIntegersIntegral(t *testing.T) {
	m := NewFieldMapper(config.DefaultTTNAliases(), "")

	r, err := m.Map(mqtmodels.RawReading{Fields: map[string]interface{}{
		"device_id":   "node-1",
		"received_at": "2021-01-01T10:00:00Z",
		"humidity":    json.Number("55"),
		"celcius":     json.Number("19.0"),
		"rssi":        json.Number("-87"),
		"latitude":    json.Number("53"),
		"longitude":   json.Number("-1"),
	}})
	require.NoError(t, err)

	assert.Equal(t, int64(55), r.Measurements["humidity"])
	assert.Equal(t, 19.0, r.Measurements["temp"])
	assert.Equal(t, int64(-87), r.Measurements["RSSI"])
	require.NotNil(t, r.Location, "whole-degree coordinates are still a location")
	assert.Equal(t, 53.0, r.Location.Latitude)

	b, err := r.Message().MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"humidity":55,`)
	assert.Contains(t, string(b), `"temp":19.0`)
}

func TestMapRejects(t *testing.T) {
	m := NewFieldMapper(config.DefaultClarityAliases(), "CL-")

	noDevice := clarityRaw()
	delete(noDevice.Fields, "deviceCode")
	_, err := m.Map(noDevice)
	assert.ErrorIs(t, err, ErrMissingDevice)

	badTime := clarityRaw()
	badTime.Fields["time"] = "not a time"
	_, err = m.Map(badTime)
	assert.ErrorIs(t, err, ErrMissingTimestamp)

	noTime := clarityRaw()
	delete(noTime.Fields, "time")
	_, err = m.Map(noTime)
	assert.ErrorIs(t, err, ErrMissingTimestamp)
}

func TestAliasTableCanonical(t *testing.T) {
	a := AliasTable{"relHumid": "humidity", "pm1ConcMass": ""}

	name, ok := a.Canonical("relHumid")
	assert.True(t, ok)
	assert.Equal(t, "humidity", name)

	_, ok = a.Canonical("pm1ConcMass")
	assert.False(t, ok)
	_, ok = a.Canonical("unknown")
	assert.False(t, ok)
}
