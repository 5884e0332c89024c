package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	mqtbridge "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Bridge"
	"gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.ClarityBridge/clarity"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	container "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Container"
)

func main() {
	ctr, err := container.NewClarityContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger().WithSource(clarity.Source)
	cfg := ctr.GetConfig()
	ctr.WritePIDFile(cfg.Process.PIDFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	aliases, err := config.LoadAliasFile(cfg.AliasFile, config.DefaultClarityAliases())
	if err != nil {
		logger.FatalWithError(err, "Failed to load alias file")
	}
	marks, err := ctr.GetMarkStore(ctx)
	if err != nil {
		logger.FatalWithError(err, "Failed to open mark store")
	}

	// Connect before fetching so a dead broker costs no API call
	publisher, err := ctr.GetPublisher(ctx)
	if err != nil {
		ctr.Shutdown(context.Background())
		logger.FatalWithError(err, "Failed to connect to MQTT broker")
	}

	runner := &mqtbridge.Runner{
		Source:    clarity.Source,
		Topic:     cfg.MQTT.Topic,
		Fetcher:   clarity.NewClient(cfg, logger),
		Mapper:    mqtbridge.NewFieldMapper(aliases, cfg.DevicePrefix),
		Dedup:     mqtbridge.NewDeduplicator(marks, mqtbridge.ScopeSource, clarity.Source, cfg.Mark.Fallback, logger),
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
			Int("fetched", res.Fetched).
			Int("rejected", res.Rejected).
			Int("duplicates", res.Duplicates).
			Int("published", res.Published).
			Msg("Run complete")
	}
}
