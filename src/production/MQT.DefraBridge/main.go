package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	mqtbridge "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Bridge"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	container "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Container"
	"gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.DefraBridge/defra"
)

func main() {
	ctr, err := container.NewDefraContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger().WithSource(defra.Source)
	cfg := ctr.GetConfig()
	ctr.WritePIDFile(cfg.Process.PIDFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stations, err := config.LoadStationsFile(cfg.StationsFile)
	if err != nil {
		logger.FatalWithError(err, "Failed to load stations file")
	}
	marks, err := ctr.GetMarkStore(ctx)
	if err != nil {
		ctr.Shutdown(context.Background())
		logger.FatalWithError(err, "Failed to open mark store")
	}

	publisher, err := ctr.GetPublisher(ctx)
	if err != nil {
		ctr.Shutdown(context.Background())
		logger.FatalWithError(err, "Failed to connect to MQTT broker")
	}

	// Each station is fetched from its own mark onwards
	dedup := mqtbridge.NewDeduplicator(marks, mqtbridge.ScopeDevice, defra.Source, cfg.Mark.Fallback, logger)
	runner := &mqtbridge.Runner{
		Source:    defra.Source,
		Topic:     cfg.MQTT.Topic,
		Fetcher:   defra.NewClient(cfg, stations.Stations, dedup.Mark, logger),
		Mapper:    mqtbridge.NewFieldMapper(defra.Aliases(stations), cfg.DevicePrefix),
		Dedup:     dedup,
		Publisher: publisher,
		Metrics:   ctr.GetMetrics(),
		Logger:    logger,
		DryRun:    ctr.DryRun(),
	}

	res, err := runner.Run(ctx)

	pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctr.PushMetrics(pushCtx)

	switch {
	case errors.Is(err, mqtbridge.ErrNoData):
		logger.Logger.Info().Err(err).Msg("No data this cycle")
	case err != nil:
		ctr.Shutdown(context.Background())
		logger.FatalWithError(err, "Run aborted")
	default:
		logger.Logger.Info().
			Int("stations", len(stations.Stations)).
			Int("fetched", res.Fetched).
			Int("duplicates", res.Duplicates).
			Int("published", res.Published).
			Msg("Run complete")
	}
}
