package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/google/uuid"
)

// LogRepository handles append-only execution log operations. Seq assignment
// happens in the insert itself so concurrent writers still produce a
// monotonic sequence per execution.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *LogRepository) AppendLog(ctx context.Context, entry *models.ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	dataJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal log data: %w", err)
	}

	query := `
		INSERT INTO execution_logs (id, execution_id, seq, step_order, level, message, data, timestamp)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7
		FROM execution_logs WHERE execution_id = $2
		RETURNING seq
	`

	err = r.db.QueryRowContext(ctx, query,
		entry.ID, entry.ExecutionID, entry.StepOrder, entry.Level, entry.Message, dataJSON, entry.Timestamp,
	).Scan(&entry.Seq)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}

	return nil
}

func (r *LogRepository) LogsForExecution(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	query := `
		SELECT id, execution_id, seq, step_order, level, message, data, timestamp
		FROM execution_logs
		WHERE execution_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.ExecutionLog, 0)

	for rows.Next() {
		entry := &models.ExecutionLog{}

		var dataJSON []byte

		err := rows.Scan(&entry.ID, &entry.ExecutionID, &entry.Seq, &entry.StepOrder,
			&entry.Level, &entry.Message, &dataJSON, &entry.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}

		if len(dataJSON) > 0 {
			err = json.Unmarshal(dataJSON, &entry.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal log data: %w", err)
			}
		}

		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}

	return entries, nil
}
