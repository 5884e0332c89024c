package clarity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mqtbridge "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Bridge"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
)

const devicesJSON = `[
	{"code":"123","lifeStage":"working"},
	{"code":"456","lifeStage":"decommissioned"},
	{"code":"789","lifeStage":"working"}
]`

const measurementsJSON = `[{
	"_id":"5ff0",
	"deviceCode":"123",
	"time":"2021-01-01T10:00:00.000Z",
	"average":"hour",
	"location":{"type":"Point","coordinates":[-0.341222987,53.748781234]},
	"characteristics":{
		"relHumid":{"value":55.1,"weight":1},
		"pm2_5ConcMass":{"value":12.3456,"weight":1},
		"temperature":{"value":19.0,"weight":1},
		"pm1ConcMass":{"value":4.2,"weight":1}
	}
}]`

func testConfig(baseURL string) *config.ClarityConfig {
	return &config.ClarityConfig{
		BaseURL:      baseURL,
		APIKey:       "secret",
		DevicePrefix: "CL-",
		WindowStart:  2 * time.Hour,
		WindowEnd:    time.Hour,
		Average:      "hour",
		HTTPTimeout:  time.Second,
	}
}

type requestLog struct {
	mu   sync.Mutex
	urls []*url.URL
}

func (l *requestLog) all() []*url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*url.URL(nil), l.urls...)
}

func newServer(t *testing.T, status int) (*httptest.Server, *requestLog) {
	t.Helper()
	seen := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.urls = append(seen.urls, r.URL)
		seen.mu.Unlock()
		if r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		switch r.URL.Path {
		case "/v1/devices":
			w.Write([]byte(devicesJSON))
		case "/v1/measurements":
			w.Write([]byte(measurementsJSON))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestFetch(t *testing.T) {
	srv, seen := newServer(t, http.StatusOK)
	c := NewClient(testConfig(srv.URL+"/v1/"), logger.Nop())
	c.Now = func() time.Time { return time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC) }

	raws, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, raws, 1)

	urls := seen.all()
	require.Len(t, urls, 2)
	q := urls[1].Query()
	assert.Equal(t, "123,789", q.Get("code"))
	assert.Equal(t, "2021-01-01T10:00:00Z", q.Get("startTime"))
	assert.Equal(t, "2021-01-01T11:00:00Z", q.Get("endTime"))
	assert.Equal(t, "hour", q.Get("average"))

	f := raws[0].Fields
	assert.Equal(t, Source, raws[0].Source)
	assert.Equal(t, "123", f["deviceCode"])
	assert.Equal(t, json.Number("55.1"), f["relHumid"])
	assert.Equal(t, json.Number("53.748781234"), f["latitude"])
	assert.Equal(t, json.Number("-0.341222987"), f["longitude"])
	assert.NotContains(t, f, "characteristics")
	assert.NotContains(t, f, "location")
}

func TestFetchMapsToCanonicalMessage(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK)
	cfg := testConfig(srv.URL + "/v1")
	raws, err := NewClient(cfg, logger.Nop()).Fetch(context.Background())
	require.NoError(t, err)

	r, err := mqtbridge.NewFieldMapper(config.DefaultClarityAliases(), cfg.DevicePrefix).Map(raws[0])
	require.NoError(t, err)

	payload, err := json.Marshal(r.Message())
	require.NoError(t, err)
	assert.Equal(t,
		`{"dev":"CL-123","humidity":55.1,"latitude":53.748781234,"longitude":-0.341222987,"PM25":12.35,"temp":19.0,"timestamp":"2021-01-01T10:00:00Z"}`,
		string(payload))
}

func TestFetchNon200IsNoData(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError)
	_, err := NewClient(testConfig(srv.URL+"/v1"), logger.Nop()).Fetch(context.Background())
	assert.ErrorIs(t, err, mqtbridge.ErrNoData)
	assert.ErrorContains(t, err, "500")
}

func TestFetchBadKeyIsNoData(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK)
	cfg := testConfig(srv.URL + "/v1")
	cfg.APIKey = "wrong"
	_, err := NewClient(cfg, logger.Nop()).Fetch(context.Background())
	assert.ErrorIs(t, err, mqtbridge.ErrNoData)
}

func TestFetchNoWorkingDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"code":"1","lifeStage":"retired"}]`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), logger.Nop()).Fetch(context.Background())
	assert.ErrorIs(t, err, mqtbridge.ErrNoData)
}

func TestFetchUnreachableIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewClient(testConfig(base), logger.Nop()).Fetch(context.Background())
	assert.ErrorIs(t, err, mqtbridge.ErrNoData)
}
