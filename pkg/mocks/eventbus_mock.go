package mocks

import (
	"context"
	"sync"

	"github.com/fluxway/fluxway/pkg/eventbus"
)

// CapturingPublisher records published events so tests can assert on the
// event stream without a real bus.
type CapturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func NewCapturingPublisher() *CapturingPublisher {
	return &CapturingPublisher{}
}

func (p *CapturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

// Events returns a snapshot of everything published so far.
func (p *CapturingPublisher) Events() []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make([]eventbus.Event, len(p.events))
	copy(snapshot, p.events)

	return snapshot
}

// Types returns the event types in publish order.
func (p *CapturingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]string, len(p.events))
	for i, event := range p.events {
		types[i] = string(event.GetType())
	}

	return types
}
