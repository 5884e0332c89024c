package mqtloader

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	mqtbroker "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Broker"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
	jobqueue "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Queue"
)

// Subscription is the part of the broker session the subscriber needs
type Subscription interface {
	Subscribe(topic string, handler mqtbroker.MessageHandler) error
}

// Subscriber moves inbound broker messages onto the job queue and does nothing else
type Subscriber struct {
	queue    *jobqueue.Queue
	received prometheus.Counter
	logger   *logger.Logger
	ctx      context.Context
}

// NewSubscriber creates a subscriber. received may be nil.
func NewSubscriber(q *jobqueue.Queue, received prometheus.Counter, log *logger.Logger) *Subscriber {
	return &Subscriber{queue: q, received: received, logger: log.WithComponent("subscriber")}
}

// Start subscribes to topic. Enqueueing stops blocking once ctx is done.
func (s *Subscriber) Start(ctx context.Context, session Subscription, topic string) error {
	s.ctx = ctx
	return session.Subscribe(topic, s.onMessage)
}

func (s *Subscriber) onMessage(topic string, payload []byte) {
	body := make([]byte, len(payload))
	copy(body, payload)

	job, err := s.queue.Put(s.ctx, topic, body)
	if err != nil {
		s.logger.Logger.Warn().Err(err).Str("topic", topic).Msg("Dropping message during shutdown")
		return
	}
	if s.received != nil {
		s.received.Inc()
	}
	s.logger.WithJob(job.Seq).Logger.Debug().Str("topic", topic).Int("bytes", len(body)).Msg("Queued message")
}
