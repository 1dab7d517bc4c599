package store

import (
	"sort"
	"sync"
	"time"

	"github.com/nordaqua/fieldsync/internal/models"
)

// MemoryStore is an in-memory Store with the same semantics as the
// SQLite implementation. Used in tests and as a scratch store.
type MemoryStore struct {
	mu        sync.RWMutex
	envelopes map[string]map[string]*models.Envelope // store -> key -> envelope
	ops       map[int64]*models.Operation
	nextOpID  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		envelopes: make(map[string]map[string]*models.Envelope),
		ops:       make(map[int64]*models.Operation),
		nextOpID:  1,
	}
}

// bucket creates the store's map if missing. Callers must hold the
// write lock; readers use readBucket.
func (s *MemoryStore) bucket(store models.StoreName) map[string]*models.Envelope {
	b, ok := s.envelopes[string(store)]
	if !ok {
		b = make(map[string]*models.Envelope)
		s.envelopes[string(store)] = b
	}
	return b
}

// readBucket never mutates; a missing store reads as empty.
func (s *MemoryStore) readBucket(store models.StoreName) map[string]*models.Envelope {
	return s.envelopes[string(store)]
}

func copyEnvelope(env *models.Envelope) *models.Envelope {
	cp := *env
	cp.Payload = append([]byte(nil), env.Payload...)
	return &cp
}

// Get retrieves one envelope for the caller's scope.
func (s *MemoryStore) Get(store models.StoreName, key string, scope models.Scope) (*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.readBucket(store)[key]
	if !ok || env.Scope != scope {
		return nil, models.ErrEnvelopeNotFound
	}
	return copyEnvelope(env), nil
}

// GetAll returns every envelope of a store visible to the scope.
func (s *MemoryStore) GetAll(store models.StoreName, scope models.Scope) ([]*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var envs []*models.Envelope
	for _, env := range s.readBucket(store) {
		if env.Scope == scope {
			envs = append(envs, copyEnvelope(env))
		}
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Key < envs[j].Key })
	return envs, nil
}

// Put inserts or fully replaces an envelope.
func (s *MemoryStore) Put(env *models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyEnvelope(env)
	if cp.CachedAt.IsZero() {
		cp.CachedAt = time.Now().UTC()
	}
	s.bucket(env.Store)[env.Key] = cp
	return nil
}

// Delete removes one envelope.
func (s *MemoryStore) Delete(store models.StoreName, key string, scope models.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if env, ok := s.bucket(store)[key]; ok && env.Scope == scope {
		delete(s.bucket(store), key)
	}
	return nil
}

// Rekey migrates an envelope to its server-assigned key and patches
// dependents, mirroring the SQLite transaction.
func (s *MemoryStore) Rekey(store models.StoreName, oldKey, newKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucket(store)
	env, ok := bucket[oldKey]
	if !ok {
		return models.ErrEnvelopeNotFound
	}

	patched, _, err := rewriteRefs(env.Payload, oldKey, newKey)
	if err != nil {
		return &models.StoreError{Op: "rekey", Store: store, Err: err}
	}

	delete(bucket, oldKey)
	delete(bucket, newKey) // a prior fetch may have cached the server copy
	env.Key = newKey
	env.Payload = patched
	env.SyncState = models.SyncNone
	bucket[newKey] = env

	for _, b := range s.envelopes {
		for _, child := range b {
			if child.ParentKey != oldKey {
				continue
			}
			child.ParentKey = newKey
			data, _, err := rewriteRefs(child.Payload, oldKey, newKey)
			if err != nil {
				return &models.StoreError{Op: "rekey", Store: child.Store, Err: err}
			}
			child.Payload = data
		}
	}

	for _, op := range s.ops {
		if op.TempID == oldKey {
			op.TempID = newKey
		}
		data, _, err := rewriteRefs(op.Data, oldKey, newKey)
		if err != nil {
			return &models.StoreError{Op: "rekey", Store: store, Err: err}
		}
		op.Data = data
	}

	return nil
}

// IsStale reports whether the newest entry for the scope is older than
// maxAge. An empty store is stale.
func (s *MemoryStore) IsStale(store models.StoreName, scope models.Scope, maxAge time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest time.Time
	for _, env := range s.readBucket(store) {
		if env.Scope == scope && env.CachedAt.After(newest) {
			newest = env.CachedAt
		}
	}
	if newest.IsZero() {
		return true, nil
	}
	return time.Since(newest) > maxAge, nil
}

// ListLocal returns unsynced local envelopes, oldest first.
func (s *MemoryStore) ListLocal(store models.StoreName, scope models.Scope) ([]*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var envs []*models.Envelope
	for _, env := range s.readBucket(store) {
		if env.Scope == scope && env.SyncState != models.SyncNone {
			envs = append(envs, copyEnvelope(env))
		}
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].CachedAt.Before(envs[j].CachedAt) })
	return envs, nil
}

// ListChildren returns envelopes referencing parentKey.
func (s *MemoryStore) ListChildren(store models.StoreName, parentKey string) ([]*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var envs []*models.Envelope
	for _, env := range s.readBucket(store) {
		if env.ParentKey == parentKey {
			envs = append(envs, copyEnvelope(env))
		}
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].CachedAt.Before(envs[j].CachedAt) })
	return envs, nil
}

// SetSyncState updates the sync state of a local envelope.
func (s *MemoryStore) SetSyncState(store models.StoreName, key string, state models.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.bucket(store)[key]
	if !ok {
		return models.ErrEnvelopeNotFound
	}
	env.SyncState = state
	return nil
}

// EnqueueOp persists a queue operation.
func (s *MemoryStore) EnqueueOp(op *models.Operation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *op
	cp.ID = s.nextOpID
	s.nextOpID++
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	if cp.Status == "" {
		cp.Status = models.OpPending
	}
	cp.Data = append([]byte(nil), op.Data...)
	s.ops[cp.ID] = &cp

	op.ID = cp.ID
	return cp.ID, nil
}

// GetOp retrieves one operation.
func (s *MemoryStore) GetOp(id int64) (*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.ops[id]
	if !ok {
		return nil, models.ErrOpNotFound
	}
	cp := *op
	return &cp, nil
}

// ListOps returns operations in drain order.
func (s *MemoryStore) ListOps(scope models.Scope, statuses ...models.OpStatus) ([]*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := func(op *models.Operation) bool {
		if !scope.IsZero() && op.Scope != scope {
			return false
		}
		if len(statuses) == 0 {
			return true
		}
		for _, st := range statuses {
			if op.Status == st {
				return true
			}
		}
		return false
	}

	var ops []*models.Operation
	for _, op := range s.ops {
		if match(op) {
			cp := *op
			ops = append(ops, &cp)
		}
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority > ops[j].Priority
		}
		if !ops[i].Timestamp.Equal(ops[j].Timestamp) {
			return ops[i].Timestamp.Before(ops[j].Timestamp)
		}
		return ops[i].ID < ops[j].ID
	})
	return ops, nil
}

// UpdateOp rewrites an operation row.
func (s *MemoryStore) UpdateOp(op *models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ops[op.ID]; !ok {
		return models.ErrOpNotFound
	}
	cp := *op
	cp.Data = append([]byte(nil), op.Data...)
	s.ops[op.ID] = &cp
	return nil
}

// DeleteOp removes an operation.
func (s *MemoryStore) DeleteOp(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ops, id)
	return nil
}

// CountOps summarizes the queue by status.
func (s *MemoryStore) CountOps(scope models.Scope) (models.QueueStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats models.QueueStats
	for _, op := range s.ops {
		if !scope.IsZero() && op.Scope != scope {
			continue
		}
		switch op.Status {
		case models.OpPending:
			stats.Pending++
		case models.OpSyncing:
			stats.Syncing++
		case models.OpFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
