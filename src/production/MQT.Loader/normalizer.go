package mqtloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingDevice    = errors.New("payload has no dev field")
)

// RecordNormalizer turns one canonical message into database rows
type RecordNormalizer struct {
	store   interfaces.Store
	catalog *TypeCatalog
	gnss    map[string]string
	policy  string
	logger  *logger.Logger

	// Now is the processing clock
	Now func() time.Time
}

func NewRecordNormalizer(store interfaces.Store, catalog *TypeCatalog, gnss map[string]string, policy string, log *logger.Logger) *RecordNormalizer {
	return &RecordNormalizer{
		store:   store,
		catalog: catalog,
		gnss:    gnss,
		policy:  policy,
		logger:  log.WithComponent("normalizer"),
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Store parses payload and writes the reading, its values and the device's last_seen.
// Readings are never deduplicated. A value that fails to insert is logged and skipped.
func (n *RecordNormalizer) Store(ctx context.Context, seq int, payload []byte) (*mqtmodels.CanonicalRecord, error) {
	log := n.logger.WithJob(seq)

	fields, err := decode(payload)
	if err != nil {
		return nil, err
	}

	dev, _ := fields[mqtmodels.KeyDevice].(string)
	if dev == "" {
		return nil, ErrMissingDevice
	}
	deviceID, err := n.store.GetDeviceID(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", dev, err)
	}

	now := n.Now().UTC()
	rec := mqtmodels.CanonicalRecord{
		DeviceID:   deviceID,
		StoredAt:   now,
		RecordedAt: n.recordedAt(log, fields, now),
		RawPayload: string(payload),
		Location:   n.location(fields),
	}

	rec.ID, err = n.store.CreateReading(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reading for %q: %w", dev, err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		typeID, ok := n.catalog.Lookup(key)
		if !ok {
			continue
		}
		value, ok := numeric(fields[key])
		if !ok {
			log.Logger.Warn().Str("key", key).Interface("value", fields[key]).Msg("Skipping non-numeric value")
			continue
		}
		rv := mqtmodels.ReadingValue{ReadingID: rec.ID, TypeID: typeID, Key: key, Value: value}
		if err := n.store.CreateReadingValue(ctx, rv); err != nil {
			log.Logger.Error().Err(err).Str("key", key).Int64("reading_id", rec.ID).Msg("Failed to insert reading value")
			continue
		}
		rec.Values = append(rec.Values, rv)
	}

	if err := n.store.UpdateLastSeen(ctx, deviceID, rec.LastSeen()); err != nil {
		return nil, fmt.Errorf("failed to update last_seen for %q: %w", dev, err)
	}
	return &rec, nil
}

func decode(payload []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	return fields, nil
}

// recordedAt returns the payload timestamp, or nil when absent, unreadable or in the future
func (n *RecordNormalizer) recordedAt(log *logger.Logger, fields map[string]interface{}, now time.Time) *time.Time {
	raw, ok := fields[mqtmodels.KeyTimestamp]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		log.Logger.Warn().Interface("timestamp", raw).Msg("Ignoring non-string timestamp")
		return nil
	}
	ts, err := mqtmodels.ParseTimestamp(s)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Ignoring unreadable timestamp")
		return nil
	}
	if ts.After(now) {
		log.Logger.Warn().Time("timestamp", ts).Msg("Ignoring timestamp in the future")
		return nil
	}
	return &ts
}

// location applies the GNSS aliases and the location policy
func (n *RecordNormalizer) location(fields map[string]interface{}) *mqtmodels.Location {
	var lat, lon, alt *float64
	for key, value := range fields {
		target, ok := n.gnss[key]
		if !ok {
			continue
		}
		f, ok := numeric(value)
		if !ok {
			continue
		}
		switch target {
		case mqtmodels.KeyLatitude:
			lat = &f
		case mqtmodels.KeyLongitude:
			lon = &f
		case mqtmodels.KeyAltitude:
			alt = &f
		}
	}

	if lat == nil || lon == nil {
		return nil
	}
	if alt == nil && n.policy != config.LocationPolicyLatLon {
		return nil
	}
	return &mqtmodels.Location{Latitude: *lat, Longitude: *lon, Altitude: alt}
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}
