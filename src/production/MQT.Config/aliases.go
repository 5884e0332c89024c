package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// AliasFile is the TOML form of a vendor field mapping.
//
// An alias with an empty value marks a vendor key that is known but
// deliberately dropped:
//
//	device_field    = "deviceCode"
//	timestamp_field = "time"
//
//	[aliases]
//	relHumid    = "humidity"
//	pm1ConcMass = ""
type AliasFile struct {
	DeviceField    string            `toml:"device_field"`
	TimestampField string            `toml:"timestamp_field"`
	Aliases        map[string]string `toml:"aliases"`
	GNSSAliases    map[string]string `toml:"gnss_aliases"`
	TypeAliases    map[string]string `toml:"type_aliases"`
}

// StationSensor is one DEFRA time series attached to a station
type StationSensor struct {
	ID   int    `toml:"id"`
	Type string `toml:"type"`
}

// Station groups the DEFRA time series published under one device name
type Station struct {
	Name    string          `toml:"name"`
	Device  string          `toml:"device"`
	Sensors []StationSensor `toml:"sensors"`
}

// StationsFile is the TOML form of the DEFRA station list
type StationsFile struct {
	Stations []Station         `toml:"stations"`
	Aliases  map[string]string `toml:"aliases"`
}

// LoadAliasFile reads an alias table from path. An empty path yields fallback.
func LoadAliasFile(path string, fallback *AliasFile) (*AliasFile, error) {
	if path == "" {
		return fallback, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file %s: %w", path, err)
	}
	var af AliasFile
	if err := toml.Unmarshal(data, &af); err != nil {
		return nil, fmt.Errorf("failed to parse alias file %s: %w", path, err)
	}
	if af.DeviceField == "" {
		af.DeviceField = fallback.DeviceField
	}
	if af.TimestampField == "" {
		af.TimestampField = fallback.TimestampField
	}
	if af.Aliases == nil {
		af.Aliases = fallback.Aliases
	}
	if af.GNSSAliases == nil {
		af.GNSSAliases = fallback.GNSSAliases
	}
	if af.TypeAliases == nil {
		af.TypeAliases = fallback.TypeAliases
	}
	return &af, nil
}

// LoadStationsFile reads the DEFRA station list. An empty path yields the built-in list.
func LoadStationsFile(path string) (*StationsFile, error) {
	if path == "" {
		return DefaultDefraStations(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stations file %s: %w", path, err)
	}
	var sf StationsFile
	if err := toml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse stations file %s: %w", path, err)
	}
	if len(sf.Stations) == 0 {
		return nil, fmt.Errorf("stations file %s lists no stations", path)
	}
	for i := range sf.Stations {
		st := &sf.Stations[i]
		if st.Name == "" {
			return nil, fmt.Errorf("stations file %s: station %d has no name", path, i)
		}
		if st.Device == "" {
			st.Device = st.Name
		}
	}
	return &sf, nil
}

// DefaultClarityAliases maps Clarity measurement keys to canonical keys
func DefaultClarityAliases() *AliasFile {
	return &AliasFile{
		DeviceField:    "deviceCode",
		TimestampField: "time",
		Aliases: map[string]string{
			"relHumid":      "humidity",
			"temperature":   "temp",
			"pm2_5ConcMass": "PM25",
			"pm2_5ConcNum":  "",
			"pm1ConcMass":   "",
			"pm1ConcNum":    "",
			"pm10ConcMass":  "PM10",
			"pm10ConcNum":   "",
			"no2Conc":       "NO2",
			"vocCons":       "VOC",
			"co2Conc":       "CO2",
			"time":          "timestamp",
			"deviceCode":    "dev",
			"longitude":     "longitude",
			"latitude":      "latitude",
			"_id":           "",
		},
	}
}

// DefaultTTNAliases maps TTN uplink fields to canonical keys
func DefaultTTNAliases() *AliasFile {
	return &AliasFile{
		DeviceField:    "device_id",
		TimestampField: "received_at",
		Aliases: map[string]string{
			"device_id":   "dev",
			"received_at": "timestamp",
			"celcius":     "temp",
			"humidity":    "humidity",
			"mbar":        "pressure",
			"pm_10":       "PM10",
			"pm_25":       "PM25",
			"rssi":        "RSSI",
			"gateway_id":  "gtw_id",
			"latitude":    "latitude",
			"longitude":   "longitude",
			"altitude":    "altitude",
		},
	}
}

// DefaultLoaderAliases holds the GNSS and value type aliases used by the loader
func DefaultLoaderAliases() *AliasFile {
	return &AliasFile{
		DeviceField:    "dev",
		TimestampField: "timestamp",
		GNSSAliases: map[string]string{
			"lat":       "latitude",
			"latitude":  "latitude",
			"lon":       "longitude",
			"long":      "longitude",
			"lng":       "longitude",
			"longitude": "longitude",
			"alt":       "altitude",
			"altitude":  "altitude",
		},
		TypeAliases: map[string]string{
			"temp": "temperature",
		},
	}
}

// DefaultDefraStations is the Hull area station list
func DefaultDefraStations() *StationsFile {
	return &StationsFile{
		Stations: []Station{
			{
				Name:   "Hull Freetown",
				Device: "Hull Freetown",
				Sensors: []StationSensor{
					{ID: 2127, Type: "SO2"},
					{ID: 4062, Type: "NO"},
					{ID: 594, Type: "PM10"},
					{ID: 2126, Type: "PM25"},
					{ID: 265, Type: "O3"},
					{ID: 263, Type: "NO2"},
					{ID: 264, Type: "NOXasNO2"},
				},
			},
			{
				Name:   "Hull Holderness Road",
				Device: "Hull Holderness Road",
				Sensors: []StationSensor{
					{ID: 4063, Type: "NO"},
					{ID: 268, Type: "PM10"},
					{ID: 269, Type: "NO2"},
					{ID: 270, Type: "NOXasNO2"},
				},
			},
			{
				Name:   "Immingham Woodlands Avenue",
				Device: "Immingham Woodlands Avenue",
				Sensors: []StationSensor{
					{ID: 4608, Type: "NO"},
					{ID: 4609, Type: "NO2"},
					{ID: 4611, Type: "NOXasNO2"},
				},
			},
		},
	}
}
