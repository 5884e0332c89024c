package mqtbridge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mqtbroker "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Broker"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
	metrics "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
	implementation "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
)

type staticFetcher struct {
	raws []mqtmodels.RawReading
	err  error
}

func (f staticFetcher) Fetch(context.Context) ([]mqtmodels.RawReading, error) {
	return f.raws, f.err
}

type recordingPublisher struct {
	payloads []string
	failAt   int
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	if p.err != nil && len(p.payloads) == p.failAt {
		return p.err
	}
	p.payloads = append(p.payloads, string(payload))
	return nil
}

func newRunner(t *testing.T, store interfaces.MarkStore, f Fetcher, p Publisher) *Runner {
	t.Helper()
	return &Runner{
		Source:    "clarity",
		Topic:     "airquality/data",
		Fetcher:   f,
		Mapper:    NewFieldMapper(config.DefaultClarityAliases(), "CL-"),
		Dedup:     NewDeduplicator(store, ScopeSource, "clarity", time.Date(2018, 8, 1, 0, 0, 0, 0, time.UTC), logger.Nop()),
		Publisher: p,
		Metrics:   metrics.NewBridgeMetrics(prometheus.NewRegistry(), "clarity"),
		Logger:    logger.Nop(),
	}
}

func TestClarityRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := implementation.NewFileMarkStore(filepath.Join(t.TempDir(), "clarity_last_seen.txt"))
	require.NoError(t, store.Save(ctx, "", nine))

	fetcher := staticFetcher{raws: []mqtmodels.RawReading{clarityRaw()}}
	pub := &recordingPublisher{}

	res, err := newRunner(t, store, fetcher, pub).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	require.Len(t, pub.payloads, 1)
	assert.Equal(t,
		`{"dev":"CL-123","humidity":55.1,"PM25":12.35,"temp":19.0,"timestamp":"2021-01-01T10:00:00Z"}`,
		pub.payloads[0])

	mark, ok, err := store.Load(ctx, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2021, 1, 1, 10, 0, 0, 0, time.UTC), mark)

	// a fresh process sees the saved mark and publishes nothing
	res, err = newRunner(t, store, fetcher, pub).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Published)
	assert.Equal(t, 1, res.Duplicates)
	assert.Len(t, pub.payloads, 1)
}

func TestRunPublishesInTimestampOrder(t *testing.T) {
	late := clarityRaw()
	late.Fields["time"] = "2021-01-01T11:00:00Z"
	early := clarityRaw()
	early.Fields["deviceCode"] = "456"

	pub := &recordingPublisher{}
	r := newRunner(t, implementation.NewMemoryMarkStore(), staticFetcher{raws: []mqtmodels.RawReading{late, early}}, pub)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)
	assert.Contains(t, pub.payloads[0], `"dev":"CL-456"`)
	assert.Contains(t, pub.payloads[1], `"dev":"CL-123"`)
}

func TestRunSkipsRejectedReadings(t *testing.T) {
	bad := clarityRaw()
	delete(bad.Fields, "deviceCode")

	pub := &recordingPublisher{}
	r := newRunner(t, implementation.NewMemoryMarkStore(), staticFetcher{raws: []mqtmodels.RawReading{bad, clarityRaw()}}, pub)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Metrics.MappingErrors))
}

func TestRunNoData(t *testing.T) {
	r := newRunner(t, implementation.NewMemoryMarkStore(), staticFetcher{}, &recordingPublisher{})
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoData)

	r = newRunner(t, implementation.NewMemoryMarkStore(), staticFetcher{err: ErrNoData}, &recordingPublisher{})
	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
}

func TestPublishTimeoutLeavesMark(t *testing.T) {
	ctx := context.Background()
	store := implementation.NewMemoryMarkStore()
	require.NoError(t, store.Save(ctx, "clarity", nine))

	second := clarityRaw()
	second.Fields["time"] = "2021-01-01T11:00:00Z"
	pub := &recordingPublisher{failAt: 1, err: mqtbroker.ErrPublishTimeout}
	r := newRunner(t, store, staticFetcher{raws: []mqtmodels.RawReading{clarityRaw(), second}}, pub)

	res, err := r.Run(ctx)
	assert.True(t, errors.Is(err, ErrPublishTimeout))
	assert.Equal(t, 1, res.Published)

	mark, _, _ := store.Load(ctx, "clarity")
	assert.Equal(t, nine, mark)
}

func TestDryRunKeepsMark(t *testing.T) {
	ctx := context.Background()
	store := implementation.NewMemoryMarkStore()
	r := newRunner(t, store, staticFetcher{raws: []mqtmodels.RawReading{clarityRaw()}}, NewDryRunPublisher(logger.Nop()))
	r.DryRun = true

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)

	_, ok, _ := store.Load(ctx, "clarity")
	assert.False(t, ok)
}
