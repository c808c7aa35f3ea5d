// ============================================================================
// Department work queue
// ============================================================================
//
// Package: internal/worker
// File: source.go
// Purpose: the shared queue of department codes the workers drain.
//
// Every department is handed to exactly one worker. Pop is atomic across
// workers; an implementation backed by Redis lets several processes share
// one queue.
//
// ============================================================================

package worker

import (
	"context"
	"sync"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// WorkQueue is the shared source of department codes.
type WorkQueue interface {
	// Pop removes and returns the next department. ok is false when the queue
	// is empty.
	Pop(ctx context.Context) (code types.DepartmentCode, ok bool, err error)

	// Len reports the number of departments not yet handed out.
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is an in-process FIFO WorkQueue.
type MemoryQueue struct {
	mu    sync.Mutex
	items []types.DepartmentCode
}

// NewMemoryQueue returns a queue holding codes in order.
func NewMemoryQueue(codes ...types.DepartmentCode) *MemoryQueue {
	q := &MemoryQueue{}
	q.items = append(q.items, codes...)
	return q
}

// Push appends codes to the tail.
func (q *MemoryQueue) Push(_ context.Context, codes ...types.DepartmentCode) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, codes...)
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (types.DepartmentCode, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false, nil
	}
	code := q.items[0]
	q.items = q.items[1:]
	return code, true, nil
}

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
