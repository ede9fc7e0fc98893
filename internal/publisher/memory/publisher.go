// Package memory contains an in-memory Enqueuer for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/insfound/internal/inspiration"
)

// Publisher records enqueued tasks for inspection.
type Publisher struct {
	mu    sync.RWMutex
	tasks []inspiration.Task
	err   error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Enqueue records the task, or returns the injected failure.
func (p *Publisher) Enqueue(_ context.Context, task inspiration.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

// FailWith makes subsequent Enqueue calls return err. Pass nil to recover.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Tasks returns the recorded tasks.
func (p *Publisher) Tasks() []inspiration.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]inspiration.Task, len(p.tasks))
	copy(out, p.tasks)
	return out
}
