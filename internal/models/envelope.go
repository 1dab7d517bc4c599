package models

import (
	"encoding/json"
	"time"
)

// StoreName identifies an entity-type partition in the client store.
type StoreName string

// Entity stores known to the engine. The read-through stores are warmed
// by the preload orchestrator; the offline-creatable stores additionally
// hold locally originated records awaiting identifier reconciliation.
const (
	StoreMachines   StoreName = "machines"
	StoreProtocols  StoreName = "protocols"
	StoreUsers      StoreName = "users"
	StoreFarmSites  StoreName = "farm-sites"
	StoreNets       StoreName = "nets"
	StoreStock      StoreName = "stock"
	StoreCleanings  StoreName = "cleaning-records"
	StorePhotos     StoreName = "cleaning-photos"
	StoreExecutions StoreName = "maintenance-executions"
	StoreExecItems  StoreName = "execution-items"
)

// ReadThroughStores lists the stores served purely from the server and
// refreshed by the preload orchestrator.
var ReadThroughStores = []StoreName{
	StoreMachines,
	StoreProtocols,
	StoreUsers,
	StoreFarmSites,
	StoreNets,
	StoreStock,
}

// SyncState tracks a locally originated envelope on its way to the
// server. Read-through envelopes carry no sync state.
type SyncState string

const (
	SyncNone    SyncState = ""
	SyncPending SyncState = "pending"
	SyncSyncing SyncState = "syncing"
	SyncFailed  SyncState = "failed"
)

// Envelope is one cached domain object plus its caching metadata.
type Envelope struct {
	Store    StoreName       `json:"store"`
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	CachedAt time.Time       `json:"cached_at"`
	Scope    Scope           `json:"scope"`

	// ParentKey links a dependent record (e.g. a photo) to its parent.
	// Rekeying the parent rewrites this reference atomically.
	ParentKey string `json:"parent_key,omitempty"`

	SyncState SyncState `json:"sync_state,omitempty"`
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// IsLocal reports whether the envelope originated offline and has not
// yet been assigned a server identifier.
func (e *Envelope) IsLocal() bool {
	return e.SyncState != SyncNone
}

// NewEnvelope builds an envelope for a server payload.
func NewEnvelope(store StoreName, key string, scope Scope, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Store:    store,
		Key:      key,
		Payload:  data,
		CachedAt: time.Now().UTC(),
		Scope:    scope,
	}, nil
}
