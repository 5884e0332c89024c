package jobqueue

import (
	"context"
	"sync"
	"time"

	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
)

// Job is one inbound message waiting for the worker
type Job struct {
	Seq        int
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Queue is a bounded FIFO between a broker callback and a single worker
type Queue struct {
	jobs   chan Job
	logger *logger.Logger

	mu     sync.Mutex
	seq    int
	maxSeq int
}

// New creates a queue holding at most capacity jobs. Sequence numbers run 1..maxSeq and then wrap.
func New(capacity, maxSeq int, log *logger.Logger) *Queue {
	return &Queue{
		jobs:   make(chan Job, capacity),
		logger: log.WithComponent("jobqueue"),
		maxSeq: maxSeq,
	}
}

func (q *Queue) nextSeq() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	if q.seq > q.maxSeq {
		q.seq = 1
	}
	return q.seq
}

func (q *Queue) stamp(topic string, payload []byte) Job {
	return Job{
		Seq:        q.nextSeq(),
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
}

// Put appends a job. When the queue is full it logs a warning and blocks until
// there is room or ctx is done.
func (q *Queue) Put(ctx context.Context, topic string, payload []byte) (Job, error) {
	job := q.stamp(topic, payload)
	select {
	case q.jobs <- job:
		return job, nil
	default:
	}

	q.logger.Logger.Warn().Int("capacity", cap(q.jobs)).Int("job", job.Seq).Msg("Job queue full, waiting for the worker")
	select {
	case q.jobs <- job:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// TryPut appends a job without blocking. It returns false when the queue is full.
func (q *Queue) TryPut(topic string, payload []byte) (Job, bool) {
	job := q.stamp(topic, payload)
	select {
	case q.jobs <- job:
		return job, true
	default:
		return Job{}, false
	}
}

// Get waits up to timeout for the next job
func (q *Queue) Get(timeout time.Duration) (Job, bool) {
	select {
	case job := <-q.jobs:
		return job, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case job := <-q.jobs:
		return job, true
	case <-timer.C:
		return Job{}, false
	}
}

// Len returns the number of queued jobs
func (q *Queue) Len() int { return len(q.jobs) }

// Cap returns the queue capacity
func (q *Queue) Cap() int { return cap(q.jobs) }
