package file

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxway/fluxway/pkg/models"
)

const schedulesDir = "schedules"

// ScheduleRepository handles schedule file operations.
type ScheduleRepository struct {
	p *Persistence
}

func (r *ScheduleRepository) Schedules(_ context.Context) ([]*models.Schedule, error) {
	ids, err := r.p.listIDs(schedulesDir)
	if err != nil {
		return nil, err
	}

	schedules := make([]*models.Schedule, 0, len(ids))

	for _, id := range ids {
		schedule := &models.Schedule{}

		err := r.p.readEntity(schedulesDir, id, schedule)
		if err != nil {
			return nil, fmt.Errorf("failed to load schedule %s: %w", id, err)
		}

		schedules = append(schedules, schedule)
	}

	return schedules, nil
}

func (r *ScheduleRepository) SaveSchedule(_ context.Context, schedule *models.Schedule) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.writeEntity(schedulesDir, schedule.ID, schedule)
}

func (r *ScheduleRepository) DueSchedules(ctx context.Context) ([]*models.Schedule, error) {
	schedules, err := r.Schedules(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	due := make([]*models.Schedule, 0)

	for _, schedule := range schedules {
		if schedule.IsDue(now) {
			due = append(due, schedule)
		}
	}

	return due, nil
}
