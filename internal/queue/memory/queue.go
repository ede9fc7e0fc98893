// Package memory provides the in-process work queue used by the development worker.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/insfound/internal/inspiration"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory task queue with context-aware operations.
// The task channel is never closed; shutdown is signalled on done so a blocked
// Enqueue never races a channel close.
type Queue struct {
	ch        chan inspiration.Task
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan inspiration.Task, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a task, blocking while the queue is full until ctx ends or
// the queue is closed.
func (q *Queue) Enqueue(ctx context.Context, task inspiration.Task) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation. Buffered tasks
// are still handed out after Close.
func (q *Queue) Dequeue(ctx context.Context) (inspiration.Task, error) {
	select {
	case task := <-q.ch:
		return task, nil
	default:
	}
	select {
	case <-ctx.Done():
		return inspiration.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task := <-q.ch:
		return task, nil
	case <-q.done:
		select {
		case task := <-q.ch:
			return task, nil
		default:
			return inspiration.Task{}, ErrClosed
		}
	}
}

// Len reports the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting tasks and wakes blocked callers. Buffered tasks can
// still be drained.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
