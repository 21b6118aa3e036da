// Package scheduler submits workflow executions on cron cadences. It polls
// the schedule store; multiple scheduler instances are safe because due
// times are advanced before submission.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/fluxway/fluxway/pkg/log"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/services"
)

const defaultPollInterval = 30 * time.Second

type Scheduler struct {
	persistence  persistence.Persistence
	executions   *services.Executions
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewScheduler(persist persistence.Persistence, executions *services.Executions) *Scheduler {
	return &Scheduler{
		persistence:  persist,
		executions:   executions,
		pollInterval: defaultPollInterval,
		logger:       log.WithModule("scheduler"),
	}
}

// WithPollInterval overrides the polling cadence. Intended for tests.
func (s *Scheduler) WithPollInterval(interval time.Duration) *Scheduler {
	s.pollInterval = interval

	return s
}

// Run polls for due schedules until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Scheduler started", "poll_interval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every due schedule once. The due time is advanced and saved
// before the execution is submitted, so a crash between the two leans
// toward skipping a run rather than duplicating it.
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.persistence.ScheduleRepository().DueSchedules(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query due schedules", "error", err)

		return
	}

	for _, schedule := range due {
		logger := s.logger.With("schedule_id", schedule.ID, "workflow_id", schedule.WorkflowID)

		err := schedule.UpdateNextDueAt()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to compute next due time, deactivating schedule", "error", err)

			schedule.Active = false
		}

		err = s.persistence.ScheduleRepository().SaveSchedule(ctx, schedule)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to save schedule", "error", err)

			continue
		}

		if !schedule.Active {
			continue
		}

		execution, err := s.executions.Submit(ctx, schedule.WorkflowID, schedule.Owner, nil)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to submit scheduled execution", "error", err)

			continue
		}

		logger.InfoContext(ctx, "Scheduled execution submitted",
			"execution_id", execution.ID,
			"next_due_at", schedule.NextDueAt,
		)
	}
}
