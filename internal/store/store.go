package store

import (
	"time"

	"github.com/nordaqua/fieldsync/internal/models"
)

// Store is the persistent client store: a scoped, typed local database
// of cached envelopes and queued operations. It is the only shared
// mutable resource in the engine; every component goes through these
// primitives so scope filtering and rekeying stay centrally enforced.
// Each call executes as a single transaction. The store never talks to
// the network.
type Store interface {
	// Get retrieves one envelope. Returns models.ErrEnvelopeNotFound if
	// absent or owned by a different scope.
	Get(store models.StoreName, key string, scope models.Scope) (*models.Envelope, error)

	// GetAll returns every envelope of a store visible to the scope.
	GetAll(store models.StoreName, scope models.Scope) ([]*models.Envelope, error)

	// Put inserts or fully replaces an envelope.
	Put(env *models.Envelope) error

	// Delete removes one envelope. Used only by explicit domain
	// deletion flows, never by the sync engine.
	Delete(store models.StoreName, key string, scope models.Scope) error

	// Rekey atomically migrates an envelope from a temporary key to the
	// server-assigned key, clears its sync state, and patches every
	// dependent envelope and queued operation that references the old
	// key. After Rekey no envelope under oldKey survives.
	Rekey(store models.StoreName, oldKey, newKey string) error

	// IsStale reports whether the newest cache entry for the scope is
	// older than maxAge. An empty store is stale.
	IsStale(store models.StoreName, scope models.Scope, maxAge time.Duration) (bool, error)

	// ListLocal returns envelopes that originated offline and still
	// await a server identifier, oldest first.
	ListLocal(store models.StoreName, scope models.Scope) ([]*models.Envelope, error)

	// ListChildren returns envelopes whose parent reference equals key.
	ListChildren(store models.StoreName, parentKey string) ([]*models.Envelope, error)

	// SetSyncState updates the sync state of a local envelope.
	SetSyncState(store models.StoreName, key string, state models.SyncState) error

	// Queue rows. The durable work queue is built on these.

	// EnqueueOp persists a queue operation and returns its assigned ID.
	EnqueueOp(op *models.Operation) (int64, error)

	// GetOp retrieves one operation. Returns models.ErrOpNotFound.
	GetOp(id int64) (*models.Operation, error)

	// ListOps returns operations in drain order: priority descending,
	// enqueue time ascending. An empty status list matches everything.
	ListOps(scope models.Scope, statuses ...models.OpStatus) ([]*models.Operation, error)

	// UpdateOp rewrites an operation row.
	UpdateOp(op *models.Operation) error

	// DeleteOp removes a completed operation.
	DeleteOp(id int64) error

	// CountOps summarizes the queue by status.
	CountOps(scope models.Scope) (models.QueueStats, error)

	// Close releases resources.
	Close() error
}
