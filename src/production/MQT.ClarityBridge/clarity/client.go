package clarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	mqtbridge "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Bridge"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
)

const Source = "clarity"

// Device is an entry of GET /devices
type Device struct {
	Code      string `json:"code"`
	LifeStage string `json:"lifeStage"`
}

// Client talks to the Clarity data API
type Client struct {
	baseURL     string
	apiKey      string
	average     string
	windowStart time.Duration
	windowEnd   time.Duration
	httpClient  *http.Client
	logger      *logger.Logger

	// Now is the clock the measurement window is computed from
	Now func() time.Time
}

func NewClient(cfg *config.ClarityConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		average:     cfg.Average,
		windowStart: cfg.WindowStart,
		windowEnd:   cfg.WindowEnd,
		httpClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		logger:      log.WithComponent("clarity-client"),
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "aq-clarity-bridge")

	c.logger.Logger.Info().Str("url", u).Msg("Querying Clarity")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", mqtbridge.ErrNoData, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", mqtbridge.ErrNoData, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s returned status %d", mqtbridge.ErrNoData, path, resp.StatusCode)
	}
	return body, nil
}

// WorkingDevices returns the codes of devices whose lifeStage is "working"
func (c *Client) WorkingDevices(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/devices", nil)
	if err != nil {
		return nil, err
	}
	var devices []Device
	if err := json.Unmarshal(body, &devices); err != nil {
		return nil, fmt.Errorf("%w: decoding devices: %v", mqtbridge.ErrNoData, err)
	}

	codes := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.LifeStage == "working" && d.Code != "" {
			codes = append(codes, d.Code)
		}
	}
	c.logger.Logger.Info().Int("devices", len(devices)).Int("working", len(codes)).Msg("Listed Clarity devices")
	return codes, nil
}

// Measurements returns the raw measurement objects for codes in [start, end]
func (c *Client) Measurements(ctx context.Context, codes []string, start, end time.Time) ([]map[string]interface{}, error) {
	q := url.Values{}
	q.Set("code", strings.Join(codes, ","))
	q.Set("startTime", start.UTC().Format("2006-01-02T15:04:05Z"))
	q.Set("endTime", end.UTC().Format("2006-01-02T15:04:05Z"))
	q.Set("average", c.average)

	body, err := c.get(ctx, "/measurements", q)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out []map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding measurements: %v", mqtbridge.ErrNoData, err)
	}
	return out, nil
}

// Fetch lists the working devices and returns their readings for the configured window
func (c *Client) Fetch(ctx context.Context) ([]mqtmodels.RawReading, error) {
	codes, err := c.WorkingDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no working devices", mqtbridge.ErrNoData)
	}

	now := c.Now()
	measurements, err := c.Measurements(ctx, codes, now.Add(-c.windowStart), now.Add(-c.windowEnd))
	if err != nil {
		return nil, err
	}

	raws := make([]mqtmodels.RawReading, 0, len(measurements))
	for _, m := range measurements {
		raws = append(raws, mqtmodels.RawReading{Source: Source, Fields: Flatten(m)})
	}
	return raws, nil
}

// Flatten lifts location coordinates and characteristic values to top-level fields
func Flatten(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+8)
	for k, v := range m {
		switch k {
		case "location":
			loc, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			// GeoJSON order
			coords, ok := loc["coordinates"].([]interface{})
			if ok && len(coords) >= 2 {
				out[mqtmodels.KeyLongitude] = coords[0]
				out[mqtmodels.KeyLatitude] = coords[1]
			}
		case "characteristics":
			chars, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			for name, c := range chars {
				if cm, ok := c.(map[string]interface{}); ok {
					if value, ok := cm["value"]; ok {
						out[name] = value
					}
				}
			}
		default:
			out[k] = v
		}
	}
	return out
}
