// Package redisq provides the Redis-backed durable queue implementation.
//
// Layout per queue name:
//   - <name>:ready      list of ready job payloads (LPUSH/BLMOVE)
//   - <name>:delayed    zset of delayed payloads scored by due time
//   - <name>:processing list of in-flight payloads, one consumer each
//   - <name>:claims     hash payload -> claim deadline, used by the reaper
//
// Jobs survive process restarts; a crashed consumer's in-flight job is
// requeued by the reaper once its claim deadline passes, which is what makes
// delivery at-least-once rather than at-most-once.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/fluxway/fluxway/pkg/queue"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultQueueName = "fluxway:executions"
	claimTimeout     = 5 * time.Minute
	promoteInterval  = 1 * time.Second
	reapInterval     = 30 * time.Second
	popTimeout       = 1 * time.Second
)

// Config configures the Redis queue.
type Config struct {
	Addr      string
	Password  string
	DB        int
	QueueName string
}

// Queue implements queue.Queue on Redis.
type Queue struct {
	client redis.UniversalClient
	name   string
	logger *slog.Logger

	// orphans tracks processing entries seen without a claim, written only
	// by the reaper goroutine.
	orphans map[string]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewQueue connects to Redis and verifies the connection.
func NewQueue(ctx context.Context, cfg Config, logger *slog.Logger) (*Queue, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	if cfg.QueueName == "" {
		cfg.QueueName = defaultQueueName
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", cfg.Addr, "db", cfg.DB, "queue", cfg.QueueName)

	return &Queue{
		client:  client,
		name:    cfg.QueueName,
		logger:  logger.With("module", "redis_queue", "queue", cfg.QueueName),
		orphans: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}, nil
}

func (q *Queue) readyKey() string      { return q.name + ":ready" }
func (q *Queue) delayedKey() string    { return q.name + ":delayed" }
func (q *Queue) processingKey() string { return q.name + ":processing" }
func (q *Queue) claimsKey() string     { return q.name + ":claims" }

func (q *Queue) Enqueue(ctx context.Context, jobID, executionID string) error {
	job := queue.Job{
		JobID:       jobID,
		ExecutionID: executionID,
		Attempt:     1,
		EnqueuedAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.client.LPush(ctx, q.readyKey(), payload).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

func (q *Queue) EnqueueDelayed(ctx context.Context, jobID, executionID string, notBefore time.Time) error {
	job := queue.Job{
		JobID:       jobID,
		ExecutionID: executionID,
		Attempt:     1,
		NotBefore:   notBefore,
		EnqueuedAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal delayed job: %w", err)
	}

	err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(notBefore.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue delayed job: %w", err)
	}

	return nil
}

// Consume runs the promoter and reaper in the background and the consumer
// loop in the calling goroutine, blocking until ctx is cancelled or Close
// is called.
func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	q.wg.Add(2)

	go q.promoteLoop(ctx)
	go q.reapLoop(ctx)

	q.consumeLoop(ctx, handler)

	return nil
}

// promoteLoop moves due delayed jobs onto the ready list.
func (q *Queue) promoteLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := q.promoteDue(ctx)
			if err != nil {
				q.logger.ErrorContext(ctx, "Failed to promote delayed jobs", "error", err)
			}
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)

	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to range delayed jobs: %w", err)
	}

	for _, payload := range due {
		// Only the remover promotes: ZRem returning 0 means another worker
		// already claimed this job.
		removed, err := q.client.ZRem(ctx, q.delayedKey(), payload).Result()
		if err != nil {
			return fmt.Errorf("failed to remove delayed job: %w", err)
		}

		if removed == 0 {
			continue
		}

		err = q.client.LPush(ctx, q.readyKey(), payload).Err()
		if err != nil {
			return fmt.Errorf("failed to push promoted job: %w", err)
		}
	}

	return nil
}

// reapLoop requeues in-flight jobs whose claim deadline passed, covering
// consumers that crashed between pop and ack.
func (q *Queue) reapLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := q.reapStale(ctx)
			if err != nil {
				q.logger.ErrorContext(ctx, "Failed to reap stale jobs", "error", err)
			}
		}
	}
}

func (q *Queue) reapStale(ctx context.Context) error {
	claims, err := q.client.HGetAll(ctx, q.claimsKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to read claims: %w", err)
	}

	now := time.Now().UTC().UnixMilli()

	for payload, deadlineStr := range claims {
		deadline, err := strconv.ParseInt(deadlineStr, 10, 64)
		if err != nil || deadline > now {
			continue
		}

		removed, err := q.client.LRem(ctx, q.processingKey(), 1, payload).Result()
		if err != nil {
			return fmt.Errorf("failed to remove stale job: %w", err)
		}

		_ = q.client.HDel(ctx, q.claimsKey(), payload).Err()

		if removed > 0 {
			q.logger.WarnContext(ctx, "Requeueing stale in-flight job")

			err = q.client.LPush(ctx, q.readyKey(), payload).Err()
			if err != nil {
				return fmt.Errorf("failed to requeue stale job: %w", err)
			}
		}
	}

	// A consumer that crashed between moving the payload into processing and
	// recording its claim leaves an entry the claims sweep above never sees.
	// Such entries get one full sweep of grace, then go back to ready.
	processing, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read processing list: %w", err)
	}

	requeue, next := unclaimedOrphans(q.orphans, processing, claims)
	q.orphans = next

	for _, payload := range requeue {
		removed, err := q.client.LRem(ctx, q.processingKey(), 1, payload).Result()
		if err != nil {
			return fmt.Errorf("failed to remove unclaimed job: %w", err)
		}

		if removed > 0 {
			q.logger.WarnContext(ctx, "Requeueing unclaimed in-flight job")

			err = q.client.LPush(ctx, q.readyKey(), payload).Err()
			if err != nil {
				return fmt.Errorf("failed to requeue unclaimed job: %w", err)
			}
		}
	}

	return nil
}

// unclaimedOrphans splits processing entries that have no claim into those
// already seen unclaimed on the previous sweep, due for requeueing now, and
// first sightings that get grace until the next sweep.
func unclaimedOrphans(
	previous map[string]struct{},
	processing []string,
	claims map[string]string,
) (requeue []string, next map[string]struct{}) {
	next = make(map[string]struct{})

	for _, payload := range processing {
		if _, claimed := claims[payload]; claimed {
			continue
		}

		if _, seen := previous[payload]; seen {
			requeue = append(requeue, payload)

			continue
		}

		next[payload] = struct{}{}
	}

	return requeue, next
}

func (q *Queue) consumeLoop(ctx context.Context, handler queue.Handler) {
	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			err := q.processOne(ctx, handler)
			if err != nil {
				q.logger.ErrorContext(ctx, "Error processing job", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (q *Queue) processOne(ctx context.Context, handler queue.Handler) error {
	payload, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", popTimeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop job: %w", err)
	}

	deadline := time.Now().UTC().Add(claimTimeout).UnixMilli()

	err = q.client.HSet(ctx, q.claimsKey(), payload, deadline).Err()
	if err != nil {
		return fmt.Errorf("failed to record claim: %w", err)
	}

	var job queue.Job

	err = json.Unmarshal([]byte(payload), &job)
	if err != nil {
		q.logger.ErrorContext(ctx, "Dropping malformed job payload", "error", err)
		q.ack(ctx, payload)

		return nil
	}

	handlerErr := handler(ctx, job)

	q.ack(ctx, payload)

	if handlerErr != nil {
		// Redeliver the same job id after the requested delay.
		redelivered := job
		redelivered.Attempt++
		redelivered.NotBefore = queue.RedeliverAt(handlerErr, time.Now().UTC())

		redeliveredPayload, err := json.Marshal(redelivered)
		if err != nil {
			return fmt.Errorf("failed to marshal redelivered job: %w", err)
		}

		err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(redelivered.NotBefore.UnixMilli()),
			Member: redeliveredPayload,
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to requeue job: %w", err)
		}
	}

	return nil
}

// ack removes the in-flight payload and its claim.
func (q *Queue) ack(ctx context.Context, payload string) {
	err := q.client.LRem(ctx, q.processingKey(), 1, payload).Err()
	if err != nil {
		q.logger.ErrorContext(ctx, "Failed to ack job", "error", err)
	}

	err = q.client.HDel(ctx, q.claimsKey(), payload).Err()
	if err != nil {
		q.logger.ErrorContext(ctx, "Failed to clear claim", "error", err)
	}
}

func (q *Queue) Close() error {
	close(q.stopCh)
	q.wg.Wait()

	return q.client.Close()
}
