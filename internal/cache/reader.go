// Package cache implements the cache-aware read path: per-entity-type
// accessors that decide, on every read, whether to serve from cache,
// fetch fresh, or fall back to cache on failure.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nordaqua/fieldsync/internal/config"
	"github.com/nordaqua/fieldsync/internal/connectivity"
	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/models"
	"github.com/nordaqua/fieldsync/internal/store"
	"github.com/nordaqua/fieldsync/internal/transport"
)

// Reader serves reads for one entity store.
type Reader struct {
	name     models.StoreName
	endpoint string

	store     store.Store
	transport transport.Transport
	monitor   connectivity.Monitor
	cfg       config.CacheConfig
	logger    *events.Logger
}

// NewReader creates a read-path accessor for one store.
func NewReader(
	name models.StoreName,
	endpoint string,
	st store.Store,
	tr transport.Transport,
	monitor connectivity.Monitor,
	cfg config.CacheConfig,
	logger *events.Logger,
) *Reader {
	return &Reader{
		name:      name,
		endpoint:  endpoint,
		store:     st,
		transport: tr,
		monitor:   monitor,
		cfg:       cfg,
		logger:    logger.WithField("store", string(name)),
	}
}

// Store returns the entity store this reader serves.
func (r *Reader) Store() models.StoreName {
	return r.name
}

// Read returns envelopes for the scope, consulting cache and network
// per the offline-first algorithm:
//
//  1. Offline: serve cache, or fail with ErrNoOfflineData when empty.
//  2. Fresh cache without forceRefresh: serve cache.
//  3. Otherwise fetch with a bounded timeout; success replaces the
//     cached set and serves the fresh data.
//  4. Fetch failure falls back to cache; the network error propagates
//     only when the cache is also empty.
func (r *Reader) Read(ctx context.Context, scope models.Scope, filters Filters, forceRefresh bool) ([]*models.Envelope, error) {
	if !r.monitor.Online() {
		return r.fromCache(scope, filters)
	}

	if !forceRefresh && !r.stale(scope) {
		return r.fromCache(scope, filters)
	}

	fresh, err := r.fetch(ctx, scope)
	if err != nil {
		r.logger.WithError(err).Warn("Network read failed, falling back to cache")

		envs, cacheErr := r.fromCache(scope, filters)
		if cacheErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", r.name, err)
		}
		return envs, nil
	}

	if err := r.replace(scope, fresh); err != nil {
		// A failed cache write means offline reads would diverge from
		// what this call served; fail the read instead.
		return nil, err
	}

	return filters.Apply(fresh), nil
}

// IsStale exposes per-store staleness for the preload orchestrator.
func (r *Reader) IsStale(scope models.Scope) bool {
	return r.stale(scope)
}

// fromCache serves the scope's cached envelopes.
func (r *Reader) fromCache(scope models.Scope, filters Filters) ([]*models.Envelope, error) {
	envs, err := r.store.GetAll(r.name, scope)
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("%s: %w", r.name, models.ErrNoOfflineData)
	}
	return filters.Apply(envs), nil
}

// stale checks cache age with a short timeout so a slow local-store
// query never blocks the read path; on timeout the cache is treated as
// stale and the read proceeds to the network.
func (r *Reader) stale(scope models.Scope) bool {
	type result struct {
		stale bool
		err   error
	}
	ch := make(chan result, 1)

	go func() {
		stale, err := r.store.IsStale(r.name, scope, r.cfg.MaxAge)
		ch <- result{stale, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			r.logger.WithError(res.err).Warn("Staleness check failed")
			return true
		}
		return res.stale
	case <-time.After(r.cfg.StaleTimeout):
		r.logger.Debug("Staleness check timed out")
		return true
	}
}

// fetch pulls the full entity list from the server.
func (r *Reader) fetch(ctx context.Context, scope models.Scope) ([]*models.Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	raw, err := r.transport.GetJSON(ctx, r.endpoint)
	if err != nil {
		return nil, err
	}

	items, err := transport.DecodeList(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s list: %w", r.name, err)
	}

	now := time.Now().UTC()
	envs := make([]*models.Envelope, 0, len(items))
	for _, item := range items {
		var ident struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &ident); err != nil || ident.ID == "" {
			return nil, fmt.Errorf("decode %s item: missing id", r.name)
		}

		envs = append(envs, &models.Envelope{
			Store:    r.name,
			Key:      ident.ID,
			Payload:  item,
			CachedAt: now,
			Scope:    scope,
		})
	}
	return envs, nil
}

// replace swaps the scope's cached set for the fresh one. Full replace,
// not merge: read-through entities mirror the server. Locally created
// records awaiting sync are never touched.
func (r *Reader) replace(scope models.Scope, fresh []*models.Envelope) error {
	existing, err := r.store.GetAll(r.name, scope)
	if err != nil {
		return err
	}

	freshKeys := make(map[string]bool, len(fresh))
	for _, env := range fresh {
		freshKeys[env.Key] = true
	}

	for _, env := range existing {
		if env.IsLocal() || freshKeys[env.Key] {
			continue
		}
		if err := r.store.Delete(r.name, env.Key, scope); err != nil {
			return err
		}
	}

	for _, env := range fresh {
		if err := r.store.Put(env); err != nil {
			return err
		}
	}
	return nil
}
