// Package memory provides the in-process queue implementation, backed by a
// watermill GoChannel pub/sub. Suitable for tests and single-node setups.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/fluxway/fluxway/pkg/queue"
)

const topic = "fluxway.execution.jobs"

// Queue delivers jobs through an in-process watermill channel. Delayed jobs
// are held by timers and published when due, so redelivery works the same
// way as in the durable implementations.
type Queue struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewQueue creates an in-process queue.
func NewQueue(logger *slog.Logger) *Queue {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 1000,
			Persistent:          false,
		},
		watermill.NewSlogLogger(logger),
	)

	return &Queue{
		pubSub: pubSub,
		logger: logger.With("module", "memory_queue"),
		timers: make(map[string]*time.Timer),
	}
}

func (q *Queue) Enqueue(ctx context.Context, jobID, executionID string) error {
	job := queue.Job{
		JobID:       jobID,
		ExecutionID: executionID,
		Attempt:     1,
		EnqueuedAt:  time.Now().UTC(),
	}

	return q.publish(job)
}

func (q *Queue) EnqueueDelayed(ctx context.Context, jobID, executionID string, notBefore time.Time) error {
	job := queue.Job{
		JobID:       jobID,
		ExecutionID: executionID,
		Attempt:     1,
		NotBefore:   notBefore,
		EnqueuedAt:  time.Now().UTC(),
	}

	q.schedule(job, time.Until(notBefore))

	return nil
}

// schedule publishes the job once its delay elapses.
func (q *Queue) schedule(job queue.Job, delay time.Duration) {
	if delay <= 0 {
		err := q.publish(job)
		if err != nil {
			q.logger.Error("Failed to publish delayed job", "job_id", job.JobID, "error", err)
		}

		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.timers[job.JobID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, job.JobID)
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return
		}

		err := q.publish(job)
		if err != nil {
			q.logger.Error("Failed to publish delayed job", "job_id", job.JobID, "error", err)
		}
	})
}

func (q *Queue) publish(job queue.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	msg := message.NewMessage(job.JobID, payload)

	err = q.pubSub.Publish(topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	return nil
}

func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	messages, err := q.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to job topic: %w", err)
	}

	for msg := range messages {
		var job queue.Job

		err := json.Unmarshal(msg.Payload, &job)
		if err != nil {
			q.logger.Error("Dropping malformed job payload", "message_id", msg.UUID, "error", err)
			msg.Ack()

			continue
		}

		err = handler(ctx, job)
		if err != nil {
			// The underlying message is acked either way; redelivery is
			// a fresh publish so the delay is honored.
			redelivered := job
			redelivered.Attempt++
			redelivered.NotBefore = queue.RedeliverAt(err, time.Now().UTC())

			q.schedule(redelivered, time.Until(redelivered.NotBefore))
		}

		msg.Ack()
	}

	return nil
}

func (q *Queue) Close() error {
	q.mu.Lock()

	q.closed = true

	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}

	q.mu.Unlock()

	return q.pubSub.Close()
}
