package eventbus

import (
	"context"
	"log/slog"

	"github.com/fluxway/fluxway/pkg/events"
)

// AuditLogger consumes the lifecycle event stream and writes one
// structured log line per event, so the execution history stays
// observable even when no external consumer is attached to the bus.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.With("module", "audit")}
}

// Register attaches the audit handler to every lifecycle event type.
// Subscribe still has to be called on the bus afterwards.
func (a *AuditLogger) Register(bus EventSubscriber) error {
	for _, eventType := range events.AllTypes() {
		err := bus.Handle(eventType, a.handle)
		if err != nil {
			return err
		}
	}

	return nil
}

type auditableEvent interface {
	GetType() events.EventType
	Base() events.BaseEvent
}

func (a *AuditLogger) handle(ctx context.Context, event any) error {
	auditable, ok := event.(auditableEvent)
	if !ok {
		return nil
	}

	base := auditable.Base()

	a.logger.InfoContext(ctx, "Execution event",
		"event_type", string(auditable.GetType()),
		"execution_id", base.ExecutionID,
		"workflow_id", base.WorkflowID,
		"worker_id", base.WorkerID,
	)

	return nil
}
