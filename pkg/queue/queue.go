// Package queue defines the durable job queue abstraction the engine runs
// on. Implementations provide at-least-once delivery; the coordinator is
// responsible for idempotency via its persisted-state re-check.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is the payload carried through the queue. Jobs are identified by
// JobID; the persisted execution records the job id it expects, so stale
// redeliveries can be detected and dropped.
type Job struct {
	JobID       string    `json:"job_id"`
	ExecutionID string    `json:"execution_id"`
	Attempt     int       `json:"attempt"`
	NotBefore   time.Time `json:"not_before,omitzero"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Handler processes one delivered job. Returning nil acknowledges the job.
// Returning a RedeliverError negatively acknowledges it with the requested
// delay; any other error negatively acknowledges with the default delay.
type Handler func(ctx context.Context, job Job) error

// Queue is the durable job queue contract. Callers assign job ids with
// NewJobID and persist the id on the execution before enqueueing; a
// delivery can then never race the write that records the id it is
// matched against.
type Queue interface {
	// Enqueue makes the job deliverable immediately.
	Enqueue(ctx context.Context, jobID, executionID string) error

	// EnqueueDelayed makes the job deliverable no earlier than notBefore.
	EnqueueDelayed(ctx context.Context, jobID, executionID string, notBefore time.Time) error

	// Consume delivers jobs to the handler until ctx is cancelled.
	Consume(ctx context.Context, handler Handler) error

	Close() error
}

// NewJobID returns a fresh queue job identifier.
func NewJobID() string {
	return "job-" + uuid.New().String()
}

// DefaultRedeliverDelay is applied when a handler fails without requesting a
// specific redelivery time.
const DefaultRedeliverDelay = 5 * time.Second

// RedeliverError asks the queue to redeliver the job no earlier than After.
type RedeliverError struct {
	After time.Time
}

func (e *RedeliverError) Error() string {
	return fmt.Sprintf("redeliver after %s", e.After.Format(time.RFC3339))
}

// Redeliver builds a RedeliverError for the given delay from now.
func Redeliver(after time.Time) error {
	return &RedeliverError{After: after}
}

// RedeliverAt extracts the requested redelivery time from a handler error.
func RedeliverAt(err error, now time.Time) time.Time {
	var redeliver *RedeliverError
	if errors.As(err, &redeliver) {
		return redeliver.After
	}

	return now.Add(DefaultRedeliverDelay)
}
