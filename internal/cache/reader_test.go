package cache_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordaqua/fieldsync/internal/cache"
	"github.com/nordaqua/fieldsync/internal/config"
	"github.com/nordaqua/fieldsync/internal/connectivity"
	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/models"
	"github.com/nordaqua/fieldsync/internal/store"
	"github.com/nordaqua/fieldsync/internal/transport"
)

var testScope = models.Scope{UserID: "user-1", OrgID: "org-1"}

type readerFixture struct {
	store     *store.MemoryStore
	transport *transport.MockTransport
	monitor   *connectivity.ManualMonitor
	reader    *cache.Reader
}

func newReaderFixture(t *testing.T) *readerFixture {
	t.Helper()
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)

	st := store.NewMemoryStore()
	mock := transport.NewMockTransport()
	monitor := connectivity.NewManualMonitor(true)

	cfg := config.CacheConfig{
		MaxAge:       15 * time.Minute,
		StaleTimeout: time.Second,
		ReadTimeout:  5 * time.Second,
	}

	return &readerFixture{
		store:     st,
		transport: mock,
		monitor:   monitor,
		reader:    cache.NewReader(models.StoreMachines, "/api/v1/machines", st, mock, monitor, cfg, logger),
	}
}

func (f *readerFixture) cacheMachine(t *testing.T, id, name string) {
	t.Helper()
	env, err := models.NewEnvelope(models.StoreMachines, id, testScope,
		&models.Machine{ID: id, Name: name, Active: true})
	require.NoError(t, err)
	require.NoError(t, f.store.Put(env))
}

func TestReadOfflineServesCache(t *testing.T) {
	f := newReaderFixture(t)
	f.cacheMachine(t, "m-1", "Pressure washer")
	f.monitor.SetOnline(false)

	envs, err := f.reader.Read(context.Background(), testScope, cache.Filters{}, false)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Empty(t, f.transport.Calls, "offline read must not touch the network")
}

func TestReadOfflineEmptyCacheFails(t *testing.T) {
	f := newReaderFixture(t)
	f.monitor.SetOnline(false)

	_, err := f.reader.Read(context.Background(), testScope, cache.Filters{}, false)
	assert.ErrorIs(t, err, models.ErrNoOfflineData)
}

func TestReadFreshCacheSkipsNetwork(t *testing.T) {
	f := newReaderFixture(t)
	f.cacheMachine(t, "m-1", "Pressure washer")

	envs, err := f.reader.Read(context.Background(), testScope, cache.Filters{}, false)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Empty(t, f.transport.Calls)
}

func TestReadStaleCacheFetchesAndReplaces(t *testing.T) {
	f := newReaderFixture(t)

	// Stale copy of a machine the server no longer returns.
	old, err := models.NewEnvelope(models.StoreMachines, "m-old", testScope,
		&models.Machine{ID: "m-old", Name: "Retired unit"})
	require.NoError(t, err)
	old.CachedAt = time.Now().Add(-time.Hour)
	require.NoError(t, f.store.Put(old))

	f.transport.Respond("GET", "/api/v1/machines", []map[string]interface{}{
		{"id": "m-1", "name": "Pressure washer", "active": true},
		{"id": "m-2", "name": "Feed pump", "active": true},
	})

	envs, err := f.reader.Read(context.Background(), testScope, cache.Filters{}, false)
	require.NoError(t, err)
	assert.Len(t, envs, 2)

	// The removed machine is gone from the cache too.
	_, err = f.store.Get(models.StoreMachines, "m-old", testScope)
	assert.ErrorIs(t, err, models.ErrEnvelopeNotFound)

	_, err = f.store.Get(models.StoreMachines, "m-2", testScope)
	assert.NoError(t, err)
}

func TestReadNetworkFailureFallsBackToCache(t *testing.T) {
	f := newReaderFixture(t)
	f.cacheMachine(t, "m-1", "Pressure washer")

	f.transport.Fail("GET", "/api/v1/machines", errors.New("connection reset"))

	envs, err := f.reader.Read(context.Background(), testScope, cache.Filters{}, true)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "m-1", envs[0].Key)
}

func TestReadNetworkFailureWithEmptyCachePropagates(t *testing.T) {
	f := newReaderFixture(t)
	f.transport.Fail("GET", "/api/v1/machines", errors.New("connection reset"))

	_, err := f.reader.Read(context.Background(), testScope, cache.Filters{}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestReplaceKeepsLocalRecords(t *testing.T) {
	f := newReaderFixture(t)

	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	cfg := config.CacheConfig{MaxAge: 15 * time.Minute, StaleTimeout: time.Second, ReadTimeout: 5 * time.Second}
	reader := cache.NewReader(models.StoreCleanings, "/api/v1/cleaning-records",
		f.store, f.transport, f.monitor, cfg, logger)

	local, err := models.NewEnvelope(models.StoreCleanings, "tmp-1", testScope,
		&models.CleaningRecord{ID: "tmp-1", Notes: "awaiting sync"})
	require.NoError(t, err)
	local.SyncState = models.SyncPending
	require.NoError(t, f.store.Put(local))

	f.transport.Respond("GET", "/api/v1/cleaning-records", []map[string]interface{}{
		{"id": "srv-1", "notes": "already on server"},
	})

	_, err = reader.Read(context.Background(), testScope, cache.Filters{}, true)
	require.NoError(t, err)

	// The unsynced record survived the full replace.
	kept, err := f.store.Get(models.StoreCleanings, "tmp-1", testScope)
	require.NoError(t, err)
	assert.True(t, kept.IsLocal())
}

func TestReadItemWithoutIDFails(t *testing.T) {
	f := newReaderFixture(t)
	f.transport.Respond("GET", "/api/v1/machines", []map[string]interface{}{
		{"name": "nameless"},
	})

	_, err := f.reader.Read(context.Background(), testScope, cache.Filters{}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}

func TestFiltersSearchFoldsCase(t *testing.T) {
	machines := func(names ...string) []*models.Envelope {
		envs := make([]*models.Envelope, 0, len(names))
		for i, name := range names {
			env, _ := models.NewEnvelope(models.StoreMachines, name, testScope,
				&models.Machine{ID: name, Name: name, Active: i%2 == 0})
			envs = append(envs, env)
		}
		return envs
	}

	out := cache.Filters{Search: "WASHER"}.Apply(machines("Pressure washer", "Feed pump"))
	require.Len(t, out, 1)
	assert.Equal(t, "Pressure washer", out[0].Key)
}

func TestFiltersActiveOnly(t *testing.T) {
	active, _ := models.NewEnvelope(models.StoreMachines, "m-1", testScope,
		&models.Machine{ID: "m-1", Name: "Washer", Active: true})
	inactive, _ := models.NewEnvelope(models.StoreMachines, "m-2", testScope,
		&models.Machine{ID: "m-2", Name: "Old pump", Active: false})

	out := cache.Filters{ActiveOnly: true}.Apply([]*models.Envelope{active, inactive})
	require.Len(t, out, 1)
	assert.Equal(t, "m-1", out[0].Key)
}

func TestFiltersPagination(t *testing.T) {
	envs := make([]*models.Envelope, 5)
	for i := range envs {
		envs[i] = &models.Envelope{Key: string(rune('a' + i)), Payload: []byte(`{}`)}
	}

	out := cache.Filters{Offset: 1, Limit: 2}.Apply(envs)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Key)
	assert.Equal(t, "c", out[1].Key)

	assert.Empty(t, cache.Filters{Offset: 10}.Apply(envs))
}
