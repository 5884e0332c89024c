package mqtloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtbroker "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Broker"
	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
	metrics "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Metrics"
	jobqueue "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Queue"
	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
)

var ErrStoreUnavailable = errors.New("reading store unavailable")

// BrokerState is the part of the broker session the worker watches
type BrokerState interface {
	IsConnected() bool
	AwaitState(ctx context.Context, want mqtbroker.State, timeout time.Duration) error
}

// Pinger checks store liveness
type Pinger interface {
	Ping(ctx context.Context) error
}

// WorkerConfig holds the worker's timing knobs
type WorkerConfig struct {
	PollInterval   time.Duration
	PingAttempts   int
	PingDelay      time.Duration
	ConnectTimeout time.Duration
	// DryRun logs each job instead of writing it
	DryRun bool
}

// Worker is the single consumer of the job queue
type Worker struct {
	cfg        WorkerConfig
	queue      *jobqueue.Queue
	normalizer *RecordNormalizer
	store      Pinger
	broker     BrokerState
	metrics    *metrics.LoaderMetrics
	logger     *logger.Logger
}

func NewWorker(cfg WorkerConfig, q *jobqueue.Queue, n *RecordNormalizer, store Pinger, broker BrokerState, m *metrics.LoaderMetrics, log *logger.Logger) *Worker {
	return &Worker{
		cfg:        cfg,
		queue:      q,
		normalizer: n,
		store:      store,
		broker:     broker,
		metrics:    m,
		logger:     log.WithComponent("worker"),
	}
}

// Run processes jobs until ctx is cancelled. It returns an error when the broker
// or the store stays unreachable; the caller is expected to exit.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker stopping")
			return nil
		}

		if !w.broker.IsConnected() {
			w.logger.Warn("Broker disconnected, waiting for reconnect")
			if err := w.broker.AwaitState(ctx, mqtbroker.StateConnected, w.cfg.ConnectTimeout); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("broker did not reconnect: %w", err)
			}
			w.logger.Info("Broker reconnected")
		}

		job, ok := w.queue.Get(w.cfg.PollInterval)
		w.metrics.QueueDepth.Set(float64(w.queue.Len()))
		if !ok {
			continue
		}

		if err := w.pingStore(ctx); err != nil {
			return err
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) pingStore(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= w.cfg.PingAttempts; attempt++ {
		if err = w.store.Ping(ctx); err == nil {
			return nil
		}
		w.logger.Logger.Warn().Err(err).Int("attempt", attempt).Msg("Store ping failed")
		if attempt < w.cfg.PingAttempts {
			select {
			case <-time.After(w.cfg.PingDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrStoreUnavailable, w.cfg.PingAttempts, err)
}

func (w *Worker) handle(ctx context.Context, job jobqueue.Job) {
	log := w.logger.WithJob(job.Seq)
	if w.cfg.DryRun {
		w.metrics.JobsProcessed.WithLabelValues(metrics.OutcomeDryRun).Inc()
		log.Logger.Info().Str("topic", job.Topic).Str("payload", string(job.Payload)).Msg("Dry run, reading not stored")
		return
	}
	start := time.Now()

	rec, err := w.normalizer.Store(ctx, job.Seq, job.Payload)
	w.metrics.ProcessingSeconds.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		w.metrics.JobsProcessed.WithLabelValues(metrics.OutcomeStored).Inc()
		w.metrics.ValuesStored.Add(float64(len(rec.Values)))
		log.Logger.Debug().Int64("reading_id", rec.ID).Int("values", len(rec.Values)).Msg("Reading stored")
	case errors.Is(err, interfaces.ErrDeviceNotFound):
		w.metrics.JobsProcessed.WithLabelValues(metrics.OutcomeUnknownDevice).Inc()
		log.Logger.Warn().Err(err).Msg("Dropping reading from unregistered device")
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrMissingDevice):
		w.metrics.JobsProcessed.WithLabelValues(metrics.OutcomeMalformed).Inc()
		log.Logger.Warn().Err(err).Str("payload", string(job.Payload)).Msg("Dropping malformed reading")
	default:
		w.metrics.JobsProcessed.WithLabelValues(metrics.OutcomeFailed).Inc()
		log.Logger.Error().Err(err).Msg("Failed to store reading")
	}
}
