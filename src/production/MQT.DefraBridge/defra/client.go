package defra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	mqtbridge "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Bridge"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
)

const (
	Source = "defra"

	DeviceField    = "station"
	TimestampField = "timestamp"

	timespanLayout = "2006-01-02T15:04:05"
)

// StartFunc returns the instant a device's data should be requested from
type StartFunc func(ctx context.Context, device string) (time.Time, error)

// Value is one point of a DEFRA time series
type Value struct {
	Timestamp int64    `json:"timestamp"` // unix ms
	Value     *float64 `json:"value"`     // nil when the station reported no value
}

// Series is the getData response body
type Series struct {
	Values []Value `json:"values"`
}

// Client fetches DEFRA UK-AIR time series for a set of stations
type Client struct {
	mainURL      string
	appendURL    string
	devicePrefix string
	stations     []config.Station
	start        StartFunc
	httpClient   *http.Client
	logger       *logger.Logger

	Now func() time.Time
}

func NewClient(cfg *config.DefraConfig, stations []config.Station, start StartFunc, log *logger.Logger) *Client {
	return &Client{
		mainURL:      cfg.MainURL,
		appendURL:    cfg.AppendURL,
		devicePrefix: cfg.DevicePrefix,
		stations:     stations,
		start:        start,
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger:       log.WithComponent("defra-client"),
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// SeriesURL builds {main}{sensor}{append}{start}/{end}
func (c *Client) SeriesURL(sensorID int, start, end time.Time) string {
	return c.mainURL + strconv.Itoa(sensorID) + c.appendURL +
		start.UTC().Format(timespanLayout) + "/" + end.UTC().Format(timespanLayout)
}

// Series fetches one time series
func (c *Client) Series(ctx context.Context, sensorID int, start, end time.Time) (*Series, error) {
	u := c.SeriesURL(sensorID, start, end)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Logger.Info().Str("url", u).Msg("Querying DEFRA")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned status %d", u, resp.StatusCode)
	}
	var s Series
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode series %d: %w", sensorID, err)
	}
	return &s, nil
}

// Fetch collects every station's series since its mark. Sensors that fail are
// logged and skipped; null and negative values mean "not available yet" and are dropped.
func (c *Client) Fetch(ctx context.Context) ([]mqtmodels.RawReading, error) {
	groups := mqtbridge.NewReadingGroups()
	now := c.Now()

	for _, st := range c.stations {
		device := st.Device
		start, err := c.start(ctx, c.devicePrefix+device)
		if err != nil {
			return nil, err
		}
		log := c.logger.WithField("station", st.Name)

		for _, sensor := range st.Sensors {
			series, err := c.Series(ctx, sensor.ID, start, now)
			if err != nil {
				log.Logger.Warn().Err(err).Int("sensor", sensor.ID).Str("type", sensor.Type).Msg("No data for sensor")
				continue
			}
			kept := 0
			for _, v := range series.Values {
				if v.Value == nil || *v.Value < 0 {
					continue
				}
				groups.Add(device, time.UnixMilli(v.Timestamp), sensor.Type, *v.Value)
				kept++
			}
			log.Logger.Debug().Int("sensor", sensor.ID).Int("values", len(series.Values)).Int("kept", kept).Msg("Collected series")
		}
	}

	if groups.Len() == 0 {
		return nil, fmt.Errorf("%w: no station returned values", mqtbridge.ErrNoData)
	}
	return groups.RawReadings(Source, DeviceField, TimestampField), nil
}

// Aliases maps every configured sensor type to itself, then applies the file's overrides
func Aliases(sf *config.StationsFile) *config.AliasFile {
	aliases := make(map[string]string)
	for _, st := range sf.Stations {
		for _, s := range st.Sensors {
			aliases[s.Type] = s.Type
		}
	}
	for k, v := range sf.Aliases {
		aliases[k] = v
	}
	return &config.AliasFile{
		DeviceField:    DeviceField,
		TimestampField: TimestampField,
		Aliases:        aliases,
	}
}
