package store_test

import (
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/models"
	"github.com/nordaqua/fieldsync/internal/store"
)

var testScope = models.Scope{UserID: "user-1", OrgID: "org-1"}

// stores builds both implementations so every test runs against the
// same contract.
func stores(t *testing.T) map[string]store.Store {
	t.Helper()
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)

	sqlite, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]store.Store{
		"sqlite": sqlite,
		"memory": store.NewMemoryStore(),
	}
}

func putRecord(t *testing.T, st store.Store, name models.StoreName, key string, scope models.Scope, payload interface{}) *models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(name, key, scope, payload)
	require.NoError(t, err)
	require.NoError(t, st.Put(env))
	return env
}

func TestStoreGetPut(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			machine := &models.Machine{ID: "m-1", Name: "Pressure washer", Hours: 120, Active: true}
			putRecord(t, st, models.StoreMachines, "m-1", testScope, machine)

			env, err := st.Get(models.StoreMachines, "m-1", testScope)
			require.NoError(t, err)

			var got models.Machine
			require.NoError(t, env.Decode(&got))
			assert.Equal(t, "Pressure washer", got.Name)
			assert.Equal(t, 120.0, got.Hours)

			_, err = st.Get(models.StoreMachines, "missing", testScope)
			assert.ErrorIs(t, err, models.ErrEnvelopeNotFound)
		})
	}
}

func TestStoreScopeIsolation(t *testing.T) {
	other := models.Scope{UserID: "user-2", OrgID: "org-2"}

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			putRecord(t, st, models.StoreNets, "n-1", testScope, &models.Net{ID: "n-1", Name: "North cage"})
			putRecord(t, st, models.StoreNets, "n-2", other, &models.Net{ID: "n-2", Name: "South cage"})

			// A scope never sees another scope's rows.
			_, err := st.Get(models.StoreNets, "n-2", testScope)
			assert.ErrorIs(t, err, models.ErrEnvelopeNotFound)

			mine, err := st.GetAll(models.StoreNets, testScope)
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, "n-1", mine[0].Key)

			theirs, err := st.GetAll(models.StoreNets, other)
			require.NoError(t, err)
			require.Len(t, theirs, 1)
			assert.Equal(t, "n-2", theirs[0].Key)
		})
	}
}

func TestStoreSuperAdminIsDistinctScope(t *testing.T) {
	admin := models.Scope{UserID: "user-1", OrgID: "org-1", SuperAdmin: true}

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			putRecord(t, st, models.StoreUsers, "u-1", testScope, &models.User{ID: "u-1", Name: "Kim"})

			// Same user and org, elevated flag: separate cache partition.
			_, err := st.Get(models.StoreUsers, "u-1", admin)
			assert.ErrorIs(t, err, models.ErrEnvelopeNotFound)
		})
	}
}

func TestStoreRekeyMigratesEverything(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			record := &models.CleaningRecord{ID: "tmp-1", NetID: "n-1", UserID: "user-1"}
			parent := putRecord(t, st, models.StoreCleanings, "tmp-1", testScope, record)
			parent.SyncState = models.SyncPending
			require.NoError(t, st.Put(parent))

			photo := &models.CleaningPhoto{ID: "tmp-2", RecordID: "tmp-1", FileName: "net.jpg"}
			child := putRecord(t, st, models.StorePhotos, "tmp-2", testScope, photo)
			child.ParentKey = "tmp-1"
			child.SyncState = models.SyncPending
			require.NoError(t, st.Put(child))

			opData, _ := json.Marshal(map[string]string{"record_id": "tmp-1"})
			opID, err := st.EnqueueOp(&models.Operation{
				Type:      models.OpUploadCleaningPhoto,
				Endpoint:  "/api/v1/cleaning-records",
				Method:    "POST",
				Data:      opData,
				TempID:    "tmp-1",
				Scope:     testScope,
				Priority:  models.PriorityNormal,
				Timestamp: time.Now().UTC(),
				Status:    models.OpPending,
			})
			require.NoError(t, err)

			require.NoError(t, st.Rekey(models.StoreCleanings, "tmp-1", "srv-42"))

			// Old key is gone.
			_, err = st.Get(models.StoreCleanings, "tmp-1", testScope)
			assert.ErrorIs(t, err, models.ErrEnvelopeNotFound)

			// New key holds the record with a patched payload and
			// cleared sync state.
			migrated, err := st.Get(models.StoreCleanings, "srv-42", testScope)
			require.NoError(t, err)
			assert.Equal(t, models.SyncNone, migrated.SyncState)
			var gotRecord models.CleaningRecord
			require.NoError(t, migrated.Decode(&gotRecord))
			assert.Equal(t, "srv-42", gotRecord.ID)

			// The dependent photo follows its parent.
			gotChild, err := st.Get(models.StorePhotos, "tmp-2", testScope)
			require.NoError(t, err)
			assert.Equal(t, "srv-42", gotChild.ParentKey)
			var gotPhoto models.CleaningPhoto
			require.NoError(t, gotChild.Decode(&gotPhoto))
			assert.Equal(t, "srv-42", gotPhoto.RecordID)

			// The queued operation references the server ID now.
			op, err := st.GetOp(opID)
			require.NoError(t, err)
			assert.Equal(t, "srv-42", op.TempID)
			assert.Contains(t, string(op.Data), "srv-42")
			assert.NotContains(t, string(op.Data), "tmp-1")
		})
	}
}

func TestStoreRekeyReplacesCollidingKey(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// A stale read-through copy already sits under the server
			// key; the migrated local row must win.
			putRecord(t, st, models.StoreCleanings, "srv-42", testScope,
				&models.CleaningRecord{ID: "srv-42", Notes: "stale server copy"})

			local := putRecord(t, st, models.StoreCleanings, "tmp-9", testScope,
				&models.CleaningRecord{ID: "tmp-9", Notes: "local truth"})
			local.SyncState = models.SyncPending
			require.NoError(t, st.Put(local))

			require.NoError(t, st.Rekey(models.StoreCleanings, "tmp-9", "srv-42"))

			all, err := st.GetAll(models.StoreCleanings, testScope)
			require.NoError(t, err)
			require.Len(t, all, 1)

			var got models.CleaningRecord
			require.NoError(t, all[0].Decode(&got))
			assert.Equal(t, "local truth", got.Notes)
		})
	}
}

func TestStoreListLocal(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// Read-through copy, no sync state.
			putRecord(t, st, models.StoreCleanings, "srv-1", testScope,
				&models.CleaningRecord{ID: "srv-1"})

			local := putRecord(t, st, models.StoreCleanings, "tmp-1", testScope,
				&models.CleaningRecord{ID: "tmp-1"})
			local.SyncState = models.SyncPending
			require.NoError(t, st.Put(local))

			locals, err := st.ListLocal(models.StoreCleanings, testScope)
			require.NoError(t, err)
			require.Len(t, locals, 1)
			assert.Equal(t, "tmp-1", locals[0].Key)
		})
	}
}

func TestStoreIsStale(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// Empty store is always stale.
			stale, err := st.IsStale(models.StoreStock, testScope, time.Hour)
			require.NoError(t, err)
			assert.True(t, stale)

			putRecord(t, st, models.StoreStock, "s-1", testScope,
				&models.StockItem{ID: "s-1", PartName: "Impeller"})

			stale, err = st.IsStale(models.StoreStock, testScope, time.Hour)
			require.NoError(t, err)
			assert.False(t, stale)

			stale, err = st.IsStale(models.StoreStock, testScope, -time.Second)
			require.NoError(t, err)
			assert.True(t, stale)
		})
	}
}

func TestStoreListOpsDrainOrder(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().UTC()
			enqueue := func(priority int, offset time.Duration) int64 {
				id, err := st.EnqueueOp(&models.Operation{
					Type:      models.OpRecordMachineHours,
					Endpoint:  "/api/v1/machines/m-1/hours",
					Method:    "POST",
					Data:      json.RawMessage(`{}`),
					Scope:     testScope,
					Priority:  priority,
					Timestamp: base.Add(offset),
					Status:    models.OpPending,
				})
				require.NoError(t, err)
				return id
			}

			first := enqueue(1, 0)
			second := enqueue(5, time.Second)
			third := enqueue(1, 2*time.Second)

			ops, err := st.ListOps(testScope, models.OpPending)
			require.NoError(t, err)
			require.Len(t, ops, 3)

			// Priority first, then enqueue order.
			assert.Equal(t, second, ops[0].ID)
			assert.Equal(t, first, ops[1].ID)
			assert.Equal(t, third, ops[2].ID)
		})
	}
}

func TestStoreOpLifecycle(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := st.EnqueueOp(&models.Operation{
				Type:      models.OpAdjustStock,
				Endpoint:  "/api/v1/stock/s-1/adjust",
				Method:    "POST",
				Data:      json.RawMessage(`{"delta":-2}`),
				Scope:     testScope,
				Priority:  models.PriorityHigh,
				Timestamp: time.Now().UTC(),
				Status:    models.OpPending,
			})
			require.NoError(t, err)

			op, err := st.GetOp(id)
			require.NoError(t, err)
			op.Status = models.OpFailed
			op.RetryCount = 3
			op.LastError = "server error"
			require.NoError(t, st.UpdateOp(op))

			stats, err := st.CountOps(testScope)
			require.NoError(t, err)
			assert.Equal(t, 0, stats.Pending)
			assert.Equal(t, 1, stats.Failed)

			require.NoError(t, st.DeleteOp(id))
			_, err = st.GetOp(id)
			assert.ErrorIs(t, err, models.ErrOpNotFound)
		})
	}
}

func TestStoreListChildren(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"tmp-p1", "tmp-p2"} {
				env := putRecord(t, st, models.StorePhotos, "child-of-"+key, testScope,
					&models.CleaningPhoto{ID: "child-of-" + key, RecordID: key})
				env.ParentKey = key
				env.SyncState = models.SyncPending
				require.NoError(t, st.Put(env))
			}

			children, err := st.ListChildren(models.StorePhotos, "tmp-p1")
			require.NoError(t, err)
			require.Len(t, children, 1)
			assert.Equal(t, "child-of-tmp-p1", children[0].Key)
		})
	}
}
