package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluxway/fluxway/pkg/connections"
	"github.com/fluxway/fluxway/pkg/coordinator"
	"github.com/fluxway/fluxway/pkg/eventbus"
	"github.com/fluxway/fluxway/pkg/log"
	"github.com/fluxway/fluxway/pkg/otelhelper"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/queue"
	"github.com/fluxway/fluxway/pkg/runner"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Worker ties the coordinator to its queue and handles graceful shutdown.
type Worker struct {
	id          string
	coordinator *coordinator.Coordinator
}

func NewWorker(
	ctx context.Context,
	id string,
	persist persistence.Persistence,
	jobQueue queue.Queue,
	eventBus eventbus.EventBus,
) *Worker {
	logger := log.WithModule("worker").With("worker_id", id)

	var tracer trace.Tracer

	tracer, err := otelhelper.NewTracer(ctx, "fluxway-worker")
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)

		tracer = noop.NewTracerProvider().Tracer("fluxway-worker")
	}

	resolver := connections.NewStoreResolver(persist.ConnectionRepository())
	stepRunner := runner.NewRunner(resolver)

	return &Worker{
		id: id,
		coordinator: coordinator.NewCoordinator(
			id,
			persist,
			jobQueue,
			eventBus,
			stepRunner,
			tracer,
		),
	}
}

// Run consumes jobs until SIGINT or SIGTERM.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := w.coordinator.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
