package syncer

import (
	"context"
	"sync"

	"github.com/nordaqua/fieldsync/internal/connectivity"
	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/models"
)

// Coordinator owns the single-flight rule: at most one synchronization
// pass runs at a time. A trigger arriving mid-pass (flapping Wi-Fi, a
// second "sync now" tap) is coalesced into exactly one follow-up pass
// rather than running concurrently, because two passes racing on the
// same queue operation would double-submit a network call.
type Coordinator struct {
	processor *Processor
	logger    *events.Logger

	// onComplete, if set, receives every finished pass result.
	onComplete func(*PassResult)

	mu      sync.Mutex
	running bool
	queued  bool
}

// NewCoordinator creates a coordinator around a processor.
func NewCoordinator(processor *Processor, logger *events.Logger) *Coordinator {
	return &Coordinator{
		processor: processor,
		logger:    logger.WithField("component", "sync_coordinator"),
	}
}

// OnPassComplete registers a completion callback (UI badges).
func (c *Coordinator) OnPassComplete(fn func(*PassResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// Bind subscribes the coordinator to a connectivity monitor so every
// transition to online requests a pass. Returns the unsubscriber.
func (c *Coordinator) Bind(monitor connectivity.Monitor, scope func() models.Scope) func() {
	return monitor.Subscribe(func(ev connectivity.Event) {
		if !ev.Online {
			return
		}
		c.RequestSync(context.Background(), scope())
	})
}

// Running reports whether a pass is in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// RequestSync schedules a pass in the background. If one is already
// running the request is coalesced: one follow-up pass runs after the
// current one finishes, no matter how many requests arrived meanwhile.
func (c *Coordinator) RequestSync(ctx context.Context, scope models.Scope) {
	c.mu.Lock()
	if c.running {
		c.queued = true
		c.mu.Unlock()
		c.logger.Debug("Sync already running, request coalesced")
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.runLoop(ctx, scope)
}

// Sync runs a pass synchronously. Returns models.ErrSyncInProgress when
// a pass is already in flight.
func (c *Coordinator) Sync(ctx context.Context, scope models.Scope) (*PassResult, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, models.ErrSyncInProgress
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		queued := c.queued
		c.queued = false
		c.running = false
		c.mu.Unlock()

		// A request that arrived during the pass still gets its pass.
		if queued {
			c.RequestSync(context.Background(), scope)
		}
	}()

	result, err := c.processor.RunPass(ctx, scope)
	c.notify(result)
	return result, err
}

func (c *Coordinator) runLoop(ctx context.Context, scope models.Scope) {
	for {
		result, err := c.processor.RunPass(ctx, scope)
		if err != nil {
			c.logger.WithError(err).Warn("Sync pass aborted")
		}
		c.notify(result)

		c.mu.Lock()
		if c.queued && ctx.Err() == nil {
			c.queued = false
			c.mu.Unlock()
			continue
		}
		c.running = false
		c.mu.Unlock()
		return
	}
}

func (c *Coordinator) notify(result *PassResult) {
	if result == nil {
		return
	}
	c.mu.Lock()
	fn := c.onComplete
	c.mu.Unlock()
	if fn != nil {
		fn(result)
	}
}
