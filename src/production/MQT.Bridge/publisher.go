package mqtbridge

import (
	"context"

	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
)

// Publisher delivers one canonical message and returns once it is acknowledged
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// DryRunPublisher logs messages instead of sending them
type DryRunPublisher struct {
	logger *logger.Logger
}

func NewDryRunPublisher(log *logger.Logger) *DryRunPublisher {
	return &DryRunPublisher{logger: log.WithComponent("dry-run")}
}

func (p *DryRunPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.logger.Logger.Info().Str("topic", topic).RawJSON("payload", payload).Msg("Would publish")
	return nil
}
