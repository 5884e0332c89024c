package mqtbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
	metrics "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
)

// Fetcher pulls one cycle of raw readings from a vendor
type Fetcher interface {
	Fetch(ctx context.Context) ([]mqtmodels.RawReading, error)
}

// Result summarises one cycle
type Result struct {
	Fetched    int
	Rejected   int
	Duplicates int
	Published  int
}

// Runner drives fetch, map, dedup and publish for one source
type Runner struct {
	Source    string
	Topic     string
	Fetcher   Fetcher
	Mapper    *FieldMapper
	Dedup     *Deduplicator
	Publisher Publisher
	Metrics   *metrics.BridgeMetrics
	Logger    *logger.Logger

	// DryRun leaves marks untouched
	DryRun bool
}

// Run performs one pull cycle. A fetch that yields nothing returns ErrNoData.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() {
		r.Metrics.RunDurationSec.Set(time.Since(start).Seconds())
	}()

	raws, err := r.Fetcher.Fetch(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(raws) == 0 {
		return Result{}, ErrNoData
	}

	res, err := r.Process(ctx, raws)
	if err != nil {
		return res, err
	}
	r.Metrics.LastSuccess.SetToCurrentTime()
	return res, nil
}

// Process maps, deduplicates and publishes raws in timestamp order, then commits the marks.
// A publish failure stops processing and leaves the marks where they were.
func (r *Runner) Process(ctx context.Context, raws []mqtmodels.RawReading) (Result, error) {
	res := Result{Fetched: len(raws)}
	r.Metrics.Fetched.Add(float64(len(raws)))

	readings := make([]mqtmodels.Reading, 0, len(raws))
	for _, raw := range raws {
		reading, err := r.Mapper.Map(raw)
		if err != nil {
			res.Rejected++
			r.Metrics.MappingErrors.Inc()
			r.Logger.Logger.Warn().Err(err).Interface("fields", raw.Fields).Msg("Skipping reading")
			continue
		}
		readings = append(readings, reading)
	}
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})

	if err := r.Dedup.Prime(ctx, readings); err != nil {
		return res, err
	}

	for _, reading := range readings {
		r.Dedup.Observe(reading)
		if !r.Dedup.ShouldPublish(reading) {
			res.Duplicates++
			r.Metrics.Duplicates.Inc()
			continue
		}

		payload, err := json.Marshal(reading.Message())
		if err != nil {
			res.Rejected++
			r.Metrics.MappingErrors.Inc()
			r.Logger.Logger.Warn().Err(err).Str("dev", reading.DeviceCode).Msg("Unable to encode reading")
			continue
		}
		if err := r.Publisher.Publish(ctx, r.Topic, payload); err != nil {
			return res, fmt.Errorf("publish %s at %s: %w", reading.DeviceCode, reading.Timestamp.Format(time.RFC3339), err)
		}
		res.Published++
		r.Metrics.Published.Inc()
		r.Logger.Logger.Debug().Str("dev", reading.DeviceCode).RawJSON("payload", payload).Msg("Published reading")
	}

	if r.DryRun {
		return res, nil
	}
	if err := r.Dedup.Commit(ctx); err != nil {
		return res, err
	}
	return res, nil
}
