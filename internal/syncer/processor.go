// Package syncer drains offline work once connectivity returns: first
// the domain records created offline (which need identifier
// reconciliation), then the generic durable work queue.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nordaqua/fieldsync/internal/connectivity"
	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/models"
	"github.com/nordaqua/fieldsync/internal/queue"
	"github.com/nordaqua/fieldsync/internal/store"
	"github.com/nordaqua/fieldsync/internal/transport"
)

// parentSpec wires an offline-creatable store to its create endpoint
// and dependent child store.
type parentSpec struct {
	store         models.StoreName
	endpoint      string
	childStore    models.StoreName
	childEndpoint func(parentID string) string
}

// parentSpecs is ordered; parents sync before the queue drains.
var parentSpecs = []parentSpec{
	{
		store:      models.StoreCleanings,
		endpoint:   "/api/v1/cleaning-records",
		childStore: models.StorePhotos,
		childEndpoint: func(parentID string) string {
			return "/api/v1/cleaning-records/" + parentID + "/photos"
		},
	},
	{
		store:      models.StoreExecutions,
		endpoint:   "/api/v1/maintenance-executions",
		childStore: models.StoreExecItems,
		childEndpoint: func(parentID string) string {
			return "/api/v1/maintenance-executions/" + parentID + "/items"
		},
	},
}

// PassResult aggregates one processor pass for observability.
type PassResult struct {
	Total     int
	Succeeded int
	Failed    int
	Errors    []error
	Duration  time.Duration
}

func (r *PassResult) success(n int) {
	r.Total += n
	r.Succeeded += n
}

func (r *PassResult) failure(err error) {
	r.Total++
	r.Failed++
	r.Errors = append(r.Errors, err)
}

// Processor performs synchronization passes. It never runs two passes
// concurrently; the Coordinator enforces that.
type Processor struct {
	store     store.Store
	queue     *queue.Queue
	transport transport.Transport
	monitor   connectivity.Monitor
	tokens    transport.TokenSource
	retry     RetryPolicy
	logger    *events.Logger

	// callTimeout bounds each network call in a pass so one hung call
	// cannot stall the remaining items forever.
	callTimeout time.Duration
}

// NewProcessor creates a processor.
func NewProcessor(
	st store.Store,
	q *queue.Queue,
	tr transport.Transport,
	monitor connectivity.Monitor,
	tokens transport.TokenSource,
	retry RetryPolicy,
	callTimeout time.Duration,
	logger *events.Logger,
) *Processor {
	return &Processor{
		store:       st,
		queue:       q,
		transport:   tr,
		monitor:     monitor,
		tokens:      tokens,
		retry:       retry,
		callTimeout: callTimeout,
		logger:      logger.WithField("component", "sync_processor"),
	}
}

// RunPass executes one complete drain for the scope. Individual
// failures never abort the pass; it stops early only when connectivity
// drops or the context ends.
func (p *Processor) RunPass(ctx context.Context, scope models.Scope) (*PassResult, error) {
	start := time.Now()
	result := &PassResult{}

	if p.tokens != nil {
		if _, err := p.tokens.Token(); err != nil {
			return result, fmt.Errorf("credential check: %w", err)
		}
	}

	p.logger.WithField("scope", scope.Key()).Info("Starting sync pass")

	for _, spec := range parentSpecs {
		if err := p.syncParents(ctx, scope, spec, result); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
	}

	if err := p.drainQueue(ctx, scope, result); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	result.Duration = time.Since(start)
	p.logger.WithFields(map[string]interface{}{
		"total":     result.Total,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"duration":  result.Duration,
	}).Info("Sync pass finished")

	return result, nil
}

// stopEarly reports whether the pass should halt without touching the
// remaining items.
func (p *Processor) stopEarly(ctx context.Context) bool {
	return ctx.Err() != nil || !p.monitor.Online()
}

// syncParents submits offline-created parents of one store, rekeys on
// success, then submits each parent's dependent children with the
// resolved identifier. A failed parent stays unsynced and its children
// are skipped this pass.
func (p *Processor) syncParents(ctx context.Context, scope models.Scope, spec parentSpec, result *PassResult) error {
	parents, err := p.store.ListLocal(spec.store, scope)
	if err != nil {
		return err
	}

	// Children submitted in this call; the orphan sweep below must not
	// re-submit one that already failed moments ago.
	attempted := make(map[string]bool)

	for _, parent := range parents {
		if p.stopEarly(ctx) {
			p.logger.Warn("Connectivity lost, stopping pass early")
			return nil
		}

		if !models.IsTempID(parent.Key) {
			// Already holds a server ID; sync state is leftover.
			if err := p.store.SetSyncState(spec.store, parent.Key, models.SyncNone); err != nil {
				result.failure(err)
			}
			continue
		}

		serverID, err := p.createRemote(ctx, spec.store, spec.endpoint, parent)
		if err != nil {
			result.failure(err)
			if stateErr := p.store.SetSyncState(spec.store, parent.Key, models.SyncFailed); stateErr != nil {
				p.logger.WithError(stateErr).Warn("Failed to record parent sync failure")
			}
			continue
		}

		if err := p.store.Rekey(spec.store, parent.Key, serverID); err != nil {
			// The server accepted the record but the local migration
			// failed; surface loudly, the next pass must not re-create.
			result.failure(fmt.Errorf("rekey %s %s: %w", spec.store, parent.Key, err))
			continue
		}
		result.success(1)

		p.logger.WithFields(map[string]interface{}{
			"store":     spec.store,
			"temp_id":   parent.Key,
			"server_id": serverID,
		}).Info("Parent record reconciled")

		p.syncChildren(ctx, spec, serverID, result, attempted)
	}

	// Children whose parent reconciled in an earlier pass but whose own
	// upload failed are still local; pick them up again.
	orphans, err := p.store.ListLocal(spec.childStore, scope)
	if err != nil {
		return err
	}
	for _, child := range orphans {
		if p.stopEarly(ctx) {
			return nil
		}
		if models.IsTempID(child.ParentKey) {
			continue // parent still unsynced, its turn comes first
		}
		if attempted[child.Key] {
			continue
		}
		p.syncChild(ctx, spec, child, result)
	}

	return nil
}

func (p *Processor) syncChildren(ctx context.Context, spec parentSpec, parentID string, result *PassResult, attempted map[string]bool) {
	children, err := p.store.ListChildren(spec.childStore, parentID)
	if err != nil {
		result.failure(err)
		return
	}

	for _, child := range children {
		if p.stopEarly(ctx) {
			return
		}
		if !child.IsLocal() {
			continue
		}
		attempted[child.Key] = true
		p.syncChild(ctx, spec, child, result)
	}
}

func (p *Processor) syncChild(ctx context.Context, spec parentSpec, child *models.Envelope, result *PassResult) {
	serverID, err := p.createRemote(ctx, spec.childStore, spec.childEndpoint(child.ParentKey), child)
	if err != nil {
		result.failure(err)
		if stateErr := p.store.SetSyncState(spec.childStore, child.Key, models.SyncFailed); stateErr != nil {
			p.logger.WithError(stateErr).Warn("Failed to record child sync failure")
		}
		return
	}

	if err := p.store.Rekey(spec.childStore, child.Key, serverID); err != nil {
		result.failure(fmt.Errorf("rekey %s %s: %w", spec.childStore, child.Key, err))
		return
	}
	result.success(1)
}

// createRemote submits one create call and returns the server-assigned
// identifier. A 2xx without a usable identifier is a reconciliation
// error: a partially synced parent with unresolved children is unsafe,
// so it counts as a failure and the record stays local.
func (p *Processor) createRemote(ctx context.Context, name models.StoreName, endpoint string, env *models.Envelope) (string, error) {
	if err := p.store.SetSyncState(name, env.Key, models.SyncSyncing); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	raw, err := p.transport.Request(callCtx, http.MethodPost, endpoint, json.RawMessage(env.Payload))
	if err != nil {
		return "", fmt.Errorf("create %s %s: %w", name, env.Key, err)
	}

	obj, err := transport.DecodeObject(raw)
	if err != nil {
		return "", &models.ReconcileError{Store: name, TempID: env.Key, Reason: "unparseable response"}
	}

	serverID, _ := obj["id"].(string)
	if serverID == "" {
		return "", &models.ReconcileError{Store: name, TempID: env.Key, Reason: "response carries no id"}
	}
	if models.IsTempID(serverID) {
		return "", &models.ReconcileError{Store: name, TempID: env.Key, Reason: "server echoed temporary id"}
	}

	return serverID, nil
}

// drainQueue processes pending operations in priority order. A failed
// item that still has retry budget stays pending for the next pass; the
// pass waits the retry delay before continuing with the next item.
func (p *Processor) drainQueue(ctx context.Context, scope models.Scope, result *PassResult) error {
	if _, err := p.queue.RecoverStalled(scope); err != nil {
		return err
	}

	ops, err := p.queue.Pending(scope)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if p.stopEarly(ctx) {
			p.logger.Warn("Connectivity lost, stopping pass early")
			return nil
		}

		if err := p.queue.MarkSyncing(op.ID); err != nil {
			result.failure(err)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		_, err := p.transport.Request(callCtx, op.Method, op.Endpoint, json.RawMessage(op.Data))
		cancel()

		if err == nil {
			if err := p.queue.MarkCompleted(op.ID); err != nil {
				result.failure(err)
				continue
			}
			result.success(1)
			continue
		}

		opErr := fmt.Errorf("%s op %d: %w", op.Type, op.ID, err)
		result.failure(opErr)
		if markErr := p.queue.MarkFailed(op.ID, err); markErr != nil {
			p.logger.WithError(markErr).Warn("Failed to record operation failure")
			continue
		}

		if op.RetryCount+1 < p.queue.MaxRetries() {
			if waitErr := p.retry.Wait(ctx, op.RetryCount+1); waitErr != nil {
				return nil // context ended during backoff
			}
		}
	}

	return nil
}
