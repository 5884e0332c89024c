package ttn

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtbridge "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Bridge"
	mqtbroker "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Broker"
	mqtloader "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Loader"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
	jobqueue "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Queue"
)

// Bridge republishes TTN uplinks on the shared topic. Uplinks are queued by the
// subscription callback and handled one at a time by Run.
type Bridge struct {
	queue          *jobqueue.Queue
	runner         *mqtbridge.Runner
	publisher      mqtloader.BrokerState
	pollInterval   time.Duration
	connectTimeout time.Duration
	logger         *logger.Logger
}

func NewBridge(q *jobqueue.Queue, runner *mqtbridge.Runner, publisher mqtloader.BrokerState, pollInterval, connectTimeout time.Duration, log *logger.Logger) *Bridge {
	return &Bridge{
		queue:          q,
		runner:         runner,
		publisher:      publisher,
		pollInterval:   pollInterval,
		connectTimeout: connectTimeout,
		logger:         log.WithComponent("ttn-bridge"),
	}
}

// Run handles queued uplinks until ctx is cancelled. It returns an error when
// the publishing broker is lost for longer than the connect timeout.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if !b.publisher.IsConnected() {
			if err := b.publisher.AwaitState(ctx, mqtbroker.StateConnected, b.connectTimeout); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("publish broker did not reconnect: %w", err)
			}
		}

		job, ok := b.queue.Get(b.pollInterval)
		if !ok {
			continue
		}
		if err := b.handle(ctx, job); err != nil {
			return err
		}
	}
}

func (b *Bridge) handle(ctx context.Context, job jobqueue.Job) error {
	log := b.logger.WithJob(job.Seq)

	raw, err := Decode(job.Payload)
	if err != nil {
		log.Logger.Warn().Err(err).Str("topic", job.Topic).Msg("Dropping message")
		return nil
	}

	res, err := b.runner.Process(ctx, []mqtmodels.RawReading{raw})
	switch {
	case err == nil:
		log.Logger.Info().Interface("device", raw.Fields["device_id"]).Int("published", res.Published).Int("duplicates", res.Duplicates).Msg("Uplink handled")
		return nil
	case errors.Is(err, mqtbridge.ErrPublishTimeout):
		return err
	case errors.Is(err, mqtbroker.ErrNotConnected):
		// picked up by the reconnect wait on the next pass
		log.Logger.Warn().Err(err).Msg("Uplink lost while broker disconnected")
		return nil
	default:
		log.Logger.Error().Err(err).Msg("Failed to handle uplink")
		return nil
	}
}
