package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nordaqua/fieldsync/internal/cache"
	"github.com/nordaqua/fieldsync/internal/config"
	"github.com/nordaqua/fieldsync/internal/connectivity"
	"github.com/nordaqua/fieldsync/internal/creds"
	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/models"
	"github.com/nordaqua/fieldsync/internal/preload"
	"github.com/nordaqua/fieldsync/internal/queue"
	"github.com/nordaqua/fieldsync/internal/store"
	"github.com/nordaqua/fieldsync/internal/syncer"
	"github.com/nordaqua/fieldsync/internal/transport"
)

// probeInterval is how often the connectivity monitor checks the
// health endpoint.
const probeInterval = 30 * time.Second

// startableMonitor is a connectivity monitor with a background loop.
type startableMonitor interface {
	connectivity.Monitor
	Start(ctx context.Context)
}

// readEndpoints maps each read-through store to its list endpoint.
var readEndpoints = map[models.StoreName]string{
	models.StoreMachines:  "/api/v1/machines",
	models.StoreProtocols: "/api/v1/protocols",
	models.StoreUsers:     "/api/v1/users",
	models.StoreFarmSites: "/api/v1/farm-sites",
	models.StoreNets:      "/api/v1/nets",
	models.StoreStock:     "/api/v1/stock",
}

// Client wires the engine together: store, queue, transport,
// connectivity, read path, sync coordinator and preload. It is the
// single entry point an embedding application uses.
type Client struct {
	cfg    *config.Config
	logger *events.Logger

	tokens    *creds.TokenStore
	transport transport.Transport
	store     store.Store
	queue     *queue.Queue
	monitor   startableMonitor
	readers   map[models.StoreName]*cache.Reader

	processor   *syncer.Processor
	coordinator *syncer.Coordinator
	preloader   *preload.Orchestrator

	mu    sync.Mutex
	scope models.Scope

	cancel context.CancelFunc
	unbind func()
}

// New builds a client from configuration. Call Start to begin
// connectivity monitoring, and Close when done.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	tokens := creds.NewTokenStore(cfg.Auth.TokenFile)
	httpClient := transport.NewHTTPClient(&cfg.API, tokens, logger)

	st, err := store.NewSQLiteStore(cfg.Storage.DBFile, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	q := queue.New(st, cfg.Sync.MaxRetries, logger)

	var monitor startableMonitor
	if cfg.API.HeartbeatURL != "" {
		monitor = connectivity.NewHeartbeatMonitor(cfg.API.HeartbeatURL, tokens, logger)
	} else {
		monitor = connectivity.NewProbeMonitor(httpClient, probeInterval, logger)
	}

	readers := make(map[models.StoreName]*cache.Reader, len(readEndpoints))
	ordered := make([]*cache.Reader, 0, len(models.ReadThroughStores))
	for _, name := range models.ReadThroughStores {
		r := cache.NewReader(name, readEndpoints[name], st, httpClient, monitor, cfg.Cache, logger)
		readers[name] = r
		ordered = append(ordered, r)
	}

	processor := syncer.NewProcessor(
		st, q, httpClient, monitor, tokens,
		syncer.FixedDelay{Delay: cfg.Sync.RetryDelay},
		cfg.Sync.CallTimeout,
		logger,
	)

	c := &Client{
		cfg:         cfg,
		logger:      logger.WithField("component", "client"),
		tokens:      tokens,
		transport:   httpClient,
		store:       st,
		queue:       q,
		monitor:     monitor,
		readers:     readers,
		processor:   processor,
		coordinator: syncer.NewCoordinator(processor, logger),
		preloader:   preload.New(ordered, logger),
	}
	return c, nil
}

// Start begins connectivity monitoring and binds the sync trigger:
// every transition to online requests a pass for the current scope.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.monitor.Start(ctx)
	c.unbind = c.coordinator.Bind(c.monitor, c.Scope)
}

// Connect starts connectivity monitoring without binding the automatic
// sync trigger and waits up to wait for the first status determination.
// One-shot command runs use it; long-running embedders call Start
// instead.
func (c *Client) Connect(ctx context.Context, wait time.Duration) bool {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	first := make(chan connectivity.Event, 1)
	dispose := c.monitor.Subscribe(func(ev connectivity.Event) {
		select {
		case first <- ev:
		default:
		}
	})
	defer dispose()

	c.monitor.Start(ctx)
	if c.monitor.Online() {
		return true
	}

	select {
	case ev := <-first:
		return ev.Online
	case <-time.After(wait):
		return c.monitor.Online()
	case <-ctx.Done():
		return false
	}
}

// Close stops background work and releases the store.
func (c *Client) Close() error {
	if c.unbind != nil {
		c.unbind()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.monitor.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close connectivity monitor")
	}
	if err := c.transport.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close transport")
	}
	return c.store.Close()
}

// SetScope switches the active user scope. Cached data and queued work
// of other scopes stay in the store but become invisible.
func (c *Client) SetScope(scope models.Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scope = scope
}

// Scope returns the active scope.
func (c *Client) Scope() models.Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

// Online reports current connectivity.
func (c *Client) Online() bool {
	return c.monitor.Online()
}

// OnSyncComplete registers a callback receiving every pass result.
func (c *Client) OnSyncComplete(fn func(*syncer.PassResult)) {
	c.coordinator.OnPassComplete(fn)
}

// OnQueueChange registers a queue statistics listener. Returns the
// unsubscriber.
func (c *Client) OnQueueChange(fn func(models.QueueStats)) func() {
	return c.queue.Subscribe(fn)
}

// Login authenticates against the API and persists the issued token.
// The login call itself carries no credential.
func (c *Client) Login(ctx context.Context, email, password string) error {
	anon := transport.NewHTTPClient(&c.cfg.API, transport.StaticToken(""), c.logger)
	defer anon.Close()

	body, err := anon.Request(ctx, "POST", "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("login response carried no token")
	}
	return c.tokens.Save(resp.Token, email)
}

// Logout discards the stored token. Cached data survives for the next
// login.
func (c *Client) Logout() error {
	return c.tokens.Clear()
}

// Authenticated reports whether a usable token is stored.
func (c *Client) Authenticated() bool {
	_, err := c.tokens.Token()
	return err == nil
}

// Read serves one read-through store through the cache-aware path.
func (c *Client) Read(ctx context.Context, name models.StoreName, filters cache.Filters, forceRefresh bool) ([]*models.Envelope, error) {
	r, ok := c.readers[name]
	if !ok {
		return nil, fmt.Errorf("no read path for store %q", name)
	}
	return r.Read(ctx, c.Scope(), filters, forceRefresh)
}

// Preload warms every read-through store for the active scope.
func (c *Client) Preload(ctx context.Context) (*preload.Summary, error) {
	return c.preloader.Run(ctx, c.Scope())
}

// NeedsPreload reports whether any read-through store has gone stale.
func (c *Client) NeedsPreload() bool {
	return c.preloader.ShouldRefresh(c.Scope())
}

// SyncNow runs a synchronization pass and waits for it. Returns
// models.ErrSyncInProgress when a pass is already running.
func (c *Client) SyncNow(ctx context.Context) (*syncer.PassResult, error) {
	return c.coordinator.Sync(ctx, c.Scope())
}

// RequestSync schedules a background pass, coalescing with any running
// one.
func (c *Client) RequestSync(ctx context.Context) {
	c.coordinator.RequestSync(ctx, c.Scope())
}

// QueueStats summarizes the queue for the active scope.
func (c *Client) QueueStats() (models.QueueStats, error) {
	return c.queue.Stats(c.Scope())
}

// FailedOps lists operations that exhausted their retry budget.
func (c *Client) FailedOps() ([]*models.Operation, error) {
	return c.queue.Failed(c.Scope())
}

// RetryOp resets a failed operation's retry budget and requests a
// pass.
func (c *Client) RetryOp(ctx context.Context, id int64) error {
	if err := c.queue.Retry(id); err != nil {
		return err
	}
	c.RequestSync(ctx)
	return nil
}

// CleaningRecords lists cached cleaning records, local ones included.
func (c *Client) CleaningRecords() ([]*models.Envelope, error) {
	return c.store.GetAll(models.StoreCleanings, c.Scope())
}

// MaintenanceExecutions lists cached maintenance executions.
func (c *Client) MaintenanceExecutions() ([]*models.Envelope, error) {
	return c.store.GetAll(models.StoreExecutions, c.Scope())
}

// CreateCleaningRecord stores a cleaning record locally under a
// temporary identifier and returns that identifier. The record reaches
// the server on the next pass; its identifier is reconciled then.
func (c *Client) CreateCleaningRecord(record *models.CleaningRecord) (string, error) {
	record.ID = models.NewTempID()
	if record.CleanedAt.IsZero() {
		record.CleanedAt = time.Now().UTC()
	}
	if err := c.putLocal(models.StoreCleanings, record.ID, "", record); err != nil {
		return "", err
	}
	c.logger.WithField("temp_id", record.ID).Info("Cleaning record created offline")
	return record.ID, nil
}

// AttachCleaningPhoto stores a photo locally as a dependent of its
// record. recordKey may be a temporary or a server identifier; a
// temporary one is rewritten when the record reconciles.
func (c *Client) AttachCleaningPhoto(recordKey string, photo *models.CleaningPhoto) (string, error) {
	photo.ID = models.NewTempID()
	photo.RecordID = recordKey
	if err := c.putLocal(models.StorePhotos, photo.ID, recordKey, photo); err != nil {
		return "", err
	}
	return photo.ID, nil
}

// CreateMaintenanceExecution stores a maintenance execution locally
// under a temporary identifier and returns that identifier.
func (c *Client) CreateMaintenanceExecution(exec *models.MaintenanceExecution) (string, error) {
	exec.ID = models.NewTempID()
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	if err := c.putLocal(models.StoreExecutions, exec.ID, "", exec); err != nil {
		return "", err
	}
	c.logger.WithField("temp_id", exec.ID).Info("Maintenance execution created offline")
	return exec.ID, nil
}

// CompleteChecklistItem records a checklist item as done. For an
// execution still awaiting its server identifier the item rides along
// as a dependent record; for a synced execution it becomes a queued
// operation.
func (c *Client) CompleteChecklistItem(execKey string, item *models.ExecutionItem) error {
	item.ExecutionID = execKey
	item.Done = true
	if item.CompletedAt.IsZero() {
		item.CompletedAt = time.Now().UTC()
	}

	if models.IsTempID(execKey) {
		item.ID = models.NewTempID()
		return c.putLocal(models.StoreExecItems, item.ID, execKey, item)
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal checklist item: %w", err)
	}
	_, err = c.queue.Enqueue(&models.Operation{
		Type:     models.OpCompleteChecklist,
		Endpoint: fmt.Sprintf("/api/v1/maintenance-executions/%s/items", execKey),
		Method:   "POST",
		Data:     data,
		Scope:    c.Scope(),
		Priority: models.PriorityNormal,
	})
	return err
}

// RecordMachineHours queues a machine-hours reading.
func (c *Client) RecordMachineHours(machineID string, hours float64) error {
	data, err := json.Marshal(map[string]interface{}{
		"machine_id": machineID,
		"hours":      hours,
		"read_at":    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal hours reading: %w", err)
	}
	_, err = c.queue.Enqueue(&models.Operation{
		Type:     models.OpRecordMachineHours,
		Endpoint: fmt.Sprintf("/api/v1/machines/%s/hours", machineID),
		Method:   "POST",
		Data:     data,
		Scope:    c.Scope(),
		Priority: models.PriorityNormal,
	})
	return err
}

// AdjustStock queues a stock-count adjustment. Stock moves drain ahead
// of routine readings so counts converge quickly after reconnect.
func (c *Client) AdjustStock(itemID string, delta int, reason string) error {
	data, err := json.Marshal(map[string]interface{}{
		"item_id": itemID,
		"delta":   delta,
		"reason":  reason,
	})
	if err != nil {
		return fmt.Errorf("marshal stock adjustment: %w", err)
	}
	_, err = c.queue.Enqueue(&models.Operation{
		Type:     models.OpAdjustStock,
		Endpoint: fmt.Sprintf("/api/v1/stock/%s/adjust", itemID),
		Method:   "POST",
		Data:     data,
		Scope:    c.Scope(),
		Priority: models.PriorityHigh,
	})
	return err
}

func (c *Client) putLocal(name models.StoreName, key, parentKey string, payload interface{}) error {
	env, err := models.NewEnvelope(name, key, c.Scope(), payload)
	if err != nil {
		return err
	}
	env.ParentKey = parentKey
	env.SyncState = models.SyncPending
	return c.store.Put(env)
}
