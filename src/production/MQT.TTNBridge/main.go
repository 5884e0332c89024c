package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	mqtbridge "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Bridge"
	mqtbroker "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Broker"
	config "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Config"
	container "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Container"
	mqtloader "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Loader"
	"gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.TTNBridge/ttn"
)

// offline stands in for the publish session in dry-run mode
type offline struct{}

func (offline) IsConnected() bool { return true }

func (offline) AwaitState(context.Context, mqtbroker.State, time.Duration) error { return nil }

func main() {
	ctr, err := container.NewTTNContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger().WithSource(ttn.Source)
	cfg := ctr.GetConfig()
	logger.Info("Starting TTN bridge")
	ctr.WritePIDFile(cfg.Process.PIDFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	aliases, err := config.LoadAliasFile(cfg.AliasFile, config.DefaultTTNAliases())
	if err != nil {
		logger.FatalWithError(err, "Failed to load alias file")
	}
	marks, err := ctr.GetMarkStore(ctx)
	if err != nil {
		logger.FatalWithError(err, "Failed to open mark store")
	}

	publisher, err := ctr.GetPublisher(ctx)
	if err != nil {
		ctr.Shutdown(context.Background())
		logger.FatalWithError(err, "Failed to connect to MQTT broker")
	}
	var state mqtloader.BrokerState = offline{}
	if !ctr.DryRun() {
		state = ctr.GetSession()
	}

	runner := &mqtbridge.Runner{
		Source:    ttn.Source,
		Topic:     cfg.MQTT.Topic,
		Mapper:    mqtbridge.NewFieldMapper(aliases, cfg.DevicePrefix),
		Dedup:     mqtbridge.NewDeduplicator(marks, mqtbridge.ScopeDevice, ttn.Source, time.Time{}, logger),
		Publisher: publisher,
		Metrics:   ctr.GetMetrics(),
		Logger:    logger,
		DryRun:    ctr.DryRun(),
	}

	queue := ctr.GetQueue()
	upstream := ctr.GetUpstream()
	sub := mqtloader.NewSubscriber(queue, nil, logger)
	if err := sub.Start(ctx, upstream, cfg.Upstream.Topic); err != nil {
		ctr.Shutdown(context.Background())
		logger.FatalWithError(err, "Failed to subscribe to TTN")
	}
	if err := upstream.Connect(ctx); err != nil {
		ctr.Shutdown(context.Background())
		logger.FatalWithError(err, "Failed to connect to TTN")
	}
	logger.Logger.Info().Str("topic", cfg.Upstream.Topic).Msg("Subscribed to uplinks")

	bridge := ttn.NewBridge(queue, runner, state, cfg.PollInterval, cfg.MQTT.ConnectTimeout, logger)
	if err := bridge.Run(ctx); err != nil {
		ctr.Shutdown(context.Background())
		logger.FatalWithError(err, "TTN bridge stopped")
	}
	logger.Info("Shutting down...")
}
