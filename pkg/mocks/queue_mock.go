// Package mocks provides testify-based mocks for the engine's interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/fluxway/fluxway/pkg/queue"
	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of the queue.Queue interface.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, jobID, executionID string) error {
	args := m.Called(ctx, jobID, executionID)

	return args.Error(0)
}

func (m *MockQueue) EnqueueDelayed(ctx context.Context, jobID, executionID string, notBefore time.Time) error {
	args := m.Called(ctx, jobID, executionID, notBefore)

	return args.Error(0)
}

func (m *MockQueue) Consume(ctx context.Context, handler queue.Handler) error {
	args := m.Called(ctx, handler)

	return args.Error(0)
}

func (m *MockQueue) Close() error {
	args := m.Called()

	return args.Error(0)
}
