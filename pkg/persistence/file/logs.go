package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/google/uuid"
)

const logsDir = "logs"

// LogRepository stores execution logs as one JSON-lines file per execution,
// which keeps entries append-only and ordered by assigned Seq.
type LogRepository struct {
	p *Persistence
}

func (r *LogRepository) logPath(executionID string) string {
	return filepath.Join(r.p.root, logsDir, executionID+".jsonl")
}

func (r *LogRepository) AppendLog(ctx context.Context, entry *models.ExecutionLog) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	err := os.MkdirAll(filepath.Join(r.p.root, logsDir), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	existing, err := r.logsLocked(entry.ExecutionID)
	if err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	entry.Seq = int64(len(existing)) + 1

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	f, err := os.OpenFile(r.logPath(entry.ExecutionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	return nil
}

func (r *LogRepository) LogsForExecution(_ context.Context, executionID string) ([]*models.ExecutionLog, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.logsLocked(executionID)
}

func (r *LogRepository) logsLocked(executionID string) ([]*models.ExecutionLog, error) {
	data, err := os.ReadFile(r.logPath(executionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	entries := make([]*models.ExecutionLog, 0)
	decoder := json.NewDecoder(bytes.NewReader(data))

	for decoder.More() {
		entry := &models.ExecutionLog{}

		err := decoder.Decode(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to decode log entry: %w", err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
