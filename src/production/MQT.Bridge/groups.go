package mqtbridge

import (
	"sort"
	"time"

	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
)

// ReadingGroups collects single values into readings keyed by device and timestamp.
// Iteration is ordered by device, then by ascending timestamp.
type ReadingGroups struct {
	groups map[string]map[int64]map[string]interface{}
}

// NewReadingGroups returns an empty collection
func NewReadingGroups() *ReadingGroups {
	return &ReadingGroups{groups: make(map[string]map[int64]map[string]interface{})}
}

// Add sets field to value in the reading for (device, ts)
func (g *ReadingGroups) Add(device string, ts time.Time, field string, value interface{}) {
	byTime, ok := g.groups[device]
	if !ok {
		byTime = make(map[int64]map[string]interface{})
		g.groups[device] = byTime
	}
	key := ts.UnixNano()
	fields, ok := byTime[key]
	if !ok {
		fields = make(map[string]interface{})
		byTime[key] = fields
	}
	fields[field] = value
}

// Len returns the number of (device, timestamp) groups
func (g *ReadingGroups) Len() int {
	n := 0
	for _, byTime := range g.groups {
		n += len(byTime)
	}
	return n
}

// Devices returns the device names in order
func (g *ReadingGroups) Devices() []string {
	devices := make([]string, 0, len(g.groups))
	for d := range g.groups {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	return devices
}

// RawReadings flattens the groups. Each reading carries the device under deviceField
// and the timestamp under timestampField.
func (g *ReadingGroups) RawReadings(source, deviceField, timestampField string) []mqtmodels.RawReading {
	out := make([]mqtmodels.RawReading, 0, g.Len())
	for _, device := range g.Devices() {
		byTime := g.groups[device]
		stamps := make([]int64, 0, len(byTime))
		for ts := range byTime {
			stamps = append(stamps, ts)
		}
		sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

		for _, ts := range stamps {
			fields := make(map[string]interface{}, len(byTime[ts])+2)
			for k, v := range byTime[ts] {
				fields[k] = v
			}
			fields[deviceField] = device
			fields[timestampField] = time.Unix(0, ts).UTC()
			out = append(out, mqtmodels.RawReading{Source: source, Fields: fields})
		}
	}
	return out
}
