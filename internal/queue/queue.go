package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/models"
	"github.com/nordaqua/fieldsync/internal/store"
)

// Listener is notified when queue contents change: after an enqueue
// (offline-originated data exists) and after a terminal transition
// (queue count changed). Consumed by UI badges.
type Listener func(stats models.QueueStats)

// Queue is the durable work queue: an append-only log of pending write
// operations with status and retry bookkeeping, persisted through the
// client store.
type Queue struct {
	store      store.Store
	logger     *events.Logger
	maxRetries int

	mu        sync.Mutex
	listeners []Listener
}

// New creates a queue manager. maxRetries bounds the retry budget
// before an operation becomes terminally failed.
func New(st store.Store, maxRetries int, logger *events.Logger) *Queue {
	return &Queue{
		store:      st,
		maxRetries: maxRetries,
		logger:     logger.WithField("component", "queue"),
	}
}

// MaxRetries returns the retry budget.
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Subscribe registers a change listener and returns a disposer.
func (q *Queue) Subscribe(fn Listener) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.listeners = append(q.listeners, fn)
	idx := len(q.listeners) - 1
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.listeners[idx] = nil
	}
}

func (q *Queue) notify(scope models.Scope) {
	stats, err := q.store.CountOps(scope)
	if err != nil {
		q.logger.WithError(err).Warn("Failed to count queue operations")
		return
	}

	q.mu.Lock()
	listeners := append([]Listener(nil), q.listeners...)
	q.mu.Unlock()

	for _, fn := range listeners {
		if fn != nil {
			fn(stats)
		}
	}
}

// Enqueue appends an operation in pending state. A store failure is
// returned to the caller; the original write must fail visibly rather
// than be silently lost.
func (q *Queue) Enqueue(op *models.Operation) (int64, error) {
	op.Status = models.OpPending
	op.RetryCount = 0
	op.Timestamp = time.Now().UTC()

	id, err := q.store.EnqueueOp(op)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", op.Type, err)
	}

	q.logger.WithFields(map[string]interface{}{
		"op_id":    id,
		"type":     op.Type,
		"priority": op.Priority,
	}).Debug("Operation queued")

	q.notify(op.Scope)
	return id, nil
}

// Pending returns pending operations in drain order: priority
// descending, then enqueue time ascending.
func (q *Queue) Pending(scope models.Scope) ([]*models.Operation, error) {
	return q.store.ListOps(scope, models.OpPending)
}

// Failed returns terminally failed operations for inspection.
func (q *Queue) Failed(scope models.Scope) ([]*models.Operation, error) {
	return q.store.ListOps(scope, models.OpFailed)
}

// MarkSyncing transitions an operation to syncing.
func (q *Queue) MarkSyncing(id int64) error {
	op, err := q.store.GetOp(id)
	if err != nil {
		return err
	}
	op.Status = models.OpSyncing
	return q.store.UpdateOp(op)
}

// MarkCompleted removes a successfully synced operation.
func (q *Queue) MarkCompleted(id int64) error {
	op, err := q.store.GetOp(id)
	if err != nil {
		return err
	}
	if err := q.store.DeleteOp(id); err != nil {
		return err
	}

	q.logger.WithFields(map[string]interface{}{
		"op_id": id,
		"type":  op.Type,
	}).Debug("Operation completed")

	q.notify(op.Scope)
	return nil
}

// MarkFailed records a failed attempt. The operation returns to pending
// while the retry budget lasts; once retryCount reaches the budget it
// becomes terminally failed and is retained for manual inspection.
func (q *Queue) MarkFailed(id int64, cause error) error {
	op, err := q.store.GetOp(id)
	if err != nil {
		return err
	}

	op.RetryCount++
	op.LastError = cause.Error()
	if op.RetryCount >= q.maxRetries {
		op.Status = models.OpFailed
	} else {
		op.Status = models.OpPending
	}

	if err := q.store.UpdateOp(op); err != nil {
		return err
	}

	q.logger.WithFields(map[string]interface{}{
		"op_id":       id,
		"type":        op.Type,
		"retry_count": op.RetryCount,
		"status":      op.Status,
		"error":       op.LastError,
	}).Warn("Operation failed")

	if op.Status == models.OpFailed {
		q.notify(op.Scope)
	}
	return nil
}

// RecoverStalled returns operations stranded in the syncing state to
// pending. A crash between MarkSyncing and the terminal mark leaves the
// row syncing with nothing driving it; each pass calls this before
// draining, and passes never run concurrently, so a syncing row seen
// here is always stale.
func (q *Queue) RecoverStalled(scope models.Scope) (int, error) {
	ops, err := q.store.ListOps(scope, models.OpSyncing)
	if err != nil {
		return 0, err
	}

	for _, op := range ops {
		op.Status = models.OpPending
		if err := q.store.UpdateOp(op); err != nil {
			return 0, err
		}
		q.logger.WithFields(map[string]interface{}{
			"op_id": op.ID,
			"type":  op.Type,
		}).Warn("Recovered operation stranded mid-sync")
	}

	if len(ops) > 0 {
		q.notify(scope)
	}
	return len(ops), nil
}

// Retry resets a failed operation back to pending, e.g. from a manual
// re-trigger. The retry budget starts over.
func (q *Queue) Retry(id int64) error {
	op, err := q.store.GetOp(id)
	if err != nil {
		return err
	}
	if op.Status != models.OpFailed {
		return fmt.Errorf("operation %d is %s, not failed", id, op.Status)
	}

	op.Status = models.OpPending
	op.RetryCount = 0
	op.LastError = ""
	if err := q.store.UpdateOp(op); err != nil {
		return err
	}

	q.notify(op.Scope)
	return nil
}

// Stats summarizes queue contents.
func (q *Queue) Stats(scope models.Scope) (models.QueueStats, error) {
	return q.store.CountOps(scope)
}
