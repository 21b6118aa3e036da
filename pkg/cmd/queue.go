package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/fluxway/fluxway/pkg/queue"
	"github.com/fluxway/fluxway/pkg/queue/memory"
	"github.com/fluxway/fluxway/pkg/queue/redisq"
)

// NewQueue selects the job queue from the queue URL scheme. Redis URLs
// get the durable queue; anything else the in-memory queue, which is only
// suitable for a single process.
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL string) queue.Queue {
	if !strings.HasPrefix(queueURL, "redis://") {
		return memory.NewQueue(logger)
	}

	parsed, err := url.Parse(queueURL)
	if err != nil {
		panic(fmt.Errorf("invalid queue URL: %w", err))
	}

	cfg := redisq.Config{Addr: parsed.Host}

	if password, ok := parsed.User.Password(); ok {
		cfg.Password = password
	}

	if db := strings.TrimPrefix(parsed.Path, "/"); db != "" {
		cfg.DB, err = strconv.Atoi(db)
		if err != nil {
			panic(fmt.Errorf("invalid redis database in queue URL: %w", err))
		}
	}

	redisQueue, err := redisq.NewQueue(ctx, cfg, logger)
	if err != nil {
		panic(fmt.Errorf("failed to initialize redis queue: %w", err))
	}

	return redisQueue
}
