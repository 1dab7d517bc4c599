package models_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordaqua/fieldsync/internal/models"
)

func TestScopeKey(t *testing.T) {
	tech := models.Scope{UserID: "u-1", OrgID: "o-1"}
	admin := models.Scope{UserID: "u-1", OrgID: "o-1", SuperAdmin: true}

	assert.NotEqual(t, tech.Key(), admin.Key(),
		"elevated access is a separate cache partition")
	assert.Equal(t, tech.Key(), models.Scope{UserID: "u-1", OrgID: "o-1"}.Key())
	assert.True(t, models.Scope{}.IsZero())
	assert.False(t, tech.IsZero())
}

func TestTempIDs(t *testing.T) {
	id := models.NewTempID()
	assert.True(t, models.IsTempID(id))
	assert.NotEqual(t, id, models.NewTempID())

	assert.False(t, models.IsTempID("srv-42"))
	assert.False(t, models.IsTempID(""))
}

func TestEnvelopeIsLocal(t *testing.T) {
	env, err := models.NewEnvelope(models.StoreCleanings, "tmp-1",
		models.Scope{UserID: "u-1", OrgID: "o-1"},
		&models.CleaningRecord{ID: "tmp-1"})
	require.NoError(t, err)

	assert.False(t, env.IsLocal(), "fresh envelopes carry no sync state")

	env.SyncState = models.SyncPending
	assert.True(t, env.IsLocal())
	env.SyncState = models.SyncFailed
	assert.True(t, env.IsLocal())
}

func TestAPIErrorRetryable(t *testing.T) {
	assert.True(t, (&models.APIError{StatusCode: 503}).IsRetryable())
	assert.True(t, (&models.APIError{StatusCode: 429}).IsRetryable())
	assert.False(t, (&models.APIError{StatusCode: 400}).IsRetryable())
	assert.False(t, (&models.APIError{StatusCode: 404}).IsRetryable())
}

func TestStoreErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := &models.StoreError{Op: "put", Store: models.StoreStock, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "put")
}
