package mqtbridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
)

// AliasTable maps vendor field names to canonical names.
// Lookups are case-sensitive. An empty canonical name means the field is ignored.
type AliasTable map[string]string

// Canonical returns the canonical name for key. ok is false for unknown and ignored keys.
func (a AliasTable) Canonical(key string) (string, bool) {
	name, known := a[key]
	if !known || name == "" {
		return "", false
	}
	return name, true
}

// FieldMapper turns vendor readings into canonical readings
type FieldMapper struct {
	aliases        AliasTable
	deviceField    string
	timestampField string
	devicePrefix   string
}

// NewFieldMapper builds a mapper from an alias file. devicePrefix is prepended to every device code.
func NewFieldMapper(af *config.AliasFile, devicePrefix string) *FieldMapper {
	return &FieldMapper{
		aliases:        AliasTable(af.Aliases),
		deviceField:    af.DeviceField,
		timestampField: af.TimestampField,
		devicePrefix:   devicePrefix,
	}
}

// Map converts one raw reading. Unknown and ignored fields are dropped,
// integers are kept as reported and other numbers are rounded to two
// places except latitude and longitude.
func (m *FieldMapper) Map(raw mqtmodels.RawReading) (mqtmodels.Reading, error) {
	device, ok := raw.Fields[m.deviceField]
	if !ok || device == nil || fmt.Sprint(device) == "" {
		return mqtmodels.Reading{}, ErrMissingDevice
	}
	ts, err := toTime(raw.Fields[m.timestampField])
	if err != nil {
		return mqtmodels.Reading{}, fmt.Errorf("%w: %v", ErrMissingTimestamp, err)
	}

	measurements := make(map[string]interface{}, len(raw.Fields))
	for key, value := range raw.Fields {
		if key == m.deviceField || key == m.timestampField || value == nil {
			continue
		}
		name, ok := m.aliases.Canonical(key)
		if !ok || name == mqtmodels.KeyDevice || name == mqtmodels.KeyTimestamp {
			continue
		}
		if i, isInt := toInt(value); isInt && !isLocationKey(name) {
			measurements[name] = i
			continue
		}
		if f, isNum := toFloat(value); isNum {
			if name != mqtmodels.KeyLatitude && name != mqtmodels.KeyLongitude {
				f = mqtmodels.Round2(f)
			}
			measurements[name] = f
			continue
		}
		measurements[name] = value
	}

	return mqtmodels.Reading{
		DeviceCode:   m.devicePrefix + fmt.Sprint(device),
		Timestamp:    ts,
		Measurements: measurements,
		Location:     extractLocation(measurements),
	}, nil
}

// extractLocation moves a latitude/longitude pair (and altitude, if any) out of measurements
func extractLocation(measurements map[string]interface{}) *mqtmodels.Location {
	lat, latOK := measurements[mqtmodels.KeyLatitude].(float64)
	lon, lonOK := measurements[mqtmodels.KeyLongitude].(float64)
	if !latOK || !lonOK {
		return nil
	}
	loc := &mqtmodels.Location{Latitude: lat, Longitude: lon}
	if alt, ok := measurements[mqtmodels.KeyAltitude].(float64); ok {
		loc.Altitude = &alt
		delete(measurements, mqtmodels.KeyAltitude)
	}
	delete(measurements, mqtmodels.KeyLatitude)
	delete(measurements, mqtmodels.KeyLongitude)
	return loc
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return mqtmodels.ParseTimestamp(t)
	case nil:
		return time.Time{}, fmt.Errorf("missing")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func isLocationKey(name string) bool {
	return name == mqtmodels.KeyLatitude || name == mqtmodels.KeyLongitude || name == mqtmodels.KeyAltitude
}

// toInt accepts Go integers and JSON numbers written without a fraction or exponent
func toInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		if strings.ContainsAny(n.String(), ".eE") {
			return 0, false
		}
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
