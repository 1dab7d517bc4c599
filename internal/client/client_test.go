package client_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordaqua/fieldsync/internal/client"
	"github.com/nordaqua/fieldsync/internal/config"
	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/models"
)

var testScope = models.Scope{UserID: "user-1", OrgID: "org-1"}

func newClient(t *testing.T) *client.Client {
	t.Helper()
	base := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.API.BaseURL = "http://localhost:1" // never dialed in these tests
	cfg.Storage.DataDir = base
	cfg.Storage.DBFile = filepath.Join(base, "cache.db")
	cfg.Auth.TokenFile = filepath.Join(base, "token.json")

	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	c, err := client.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	c.SetScope(testScope)
	return c
}

func TestCreateCleaningRecordIsImmediatelyVisible(t *testing.T) {
	c := newClient(t)

	id, err := c.CreateCleaningRecord(&models.CleaningRecord{NetID: "n-1", Notes: "weekly"})
	require.NoError(t, err)
	assert.True(t, models.IsTempID(id))

	records, err := c.CleaningRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].Key)
	assert.True(t, records[0].IsLocal())
}

func TestAttachCleaningPhotoLinksParent(t *testing.T) {
	c := newClient(t)

	recordID, err := c.CreateCleaningRecord(&models.CleaningRecord{NetID: "n-1"})
	require.NoError(t, err)

	photoID, err := c.AttachCleaningPhoto(recordID, &models.CleaningPhoto{FileName: "net.jpg"})
	require.NoError(t, err)
	assert.True(t, models.IsTempID(photoID))
}

func TestChecklistItemRoutesByParentState(t *testing.T) {
	c := newClient(t)

	// Unsynced execution: the item rides along as a dependent record,
	// no queue entry.
	execID, err := c.CreateMaintenanceExecution(&models.MaintenanceExecution{
		MachineID: "m-1", ProtocolID: "p-1",
	})
	require.NoError(t, err)

	require.NoError(t, c.CompleteChecklistItem(execID, &models.ExecutionItem{ItemID: "chk-1"}))

	stats, err := c.QueueStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total())

	// Synced execution: the completion is a queued operation.
	require.NoError(t, c.CompleteChecklistItem("srv-10", &models.ExecutionItem{ItemID: "chk-2"}))

	stats, err = c.QueueStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestQueueChangeNotifications(t *testing.T) {
	c := newClient(t)

	require.NoError(t, c.RecordMachineHours("m-1", 130.5))
	require.NoError(t, c.AdjustStock("s-1", -2, "used on repair"))

	var last models.QueueStats
	dispose := c.OnQueueChange(func(stats models.QueueStats) { last = stats })
	defer dispose()

	require.NoError(t, c.RecordMachineHours("m-2", 88))
	assert.Equal(t, 3, last.Pending)
}

func TestScopeSwitchHidesOtherUsersWork(t *testing.T) {
	c := newClient(t)

	_, err := c.CreateCleaningRecord(&models.CleaningRecord{NetID: "n-1"})
	require.NoError(t, err)
	require.NoError(t, c.AdjustStock("s-1", 1, "restock"))

	c.SetScope(models.Scope{UserID: "user-2", OrgID: "org-1"})

	records, err := c.CleaningRecords()
	require.NoError(t, err)
	assert.Empty(t, records)

	stats, err := c.QueueStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total())
}

func TestAuthenticatedReflectsTokenState(t *testing.T) {
	c := newClient(t)
	assert.False(t, c.Authenticated())
}

func TestCreateCleaningRecordSetsTimestamp(t *testing.T) {
	c := newClient(t)

	record := &models.CleaningRecord{NetID: "n-1"}
	_, err := c.CreateCleaningRecord(record)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), record.CleanedAt, time.Minute)
}

func TestConnectReportsUnreachableBackend(t *testing.T) {
	c := newClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.False(t, c.Connect(ctx, 50*time.Millisecond))
	assert.False(t, c.Online())
}
