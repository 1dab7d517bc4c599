package syncer_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordaqua/fieldsync/internal/connectivity"
	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/models"
	"github.com/nordaqua/fieldsync/internal/queue"
	"github.com/nordaqua/fieldsync/internal/store"
	"github.com/nordaqua/fieldsync/internal/syncer"
	"github.com/nordaqua/fieldsync/internal/transport"
)

// gatedTransport blocks every request until released, so tests can
// hold a pass open deterministically.
type gatedTransport struct {
	*transport.MockTransport
	gate chan struct{}

	mu      sync.Mutex
	entered []chan struct{}
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{
		MockTransport: transport.NewMockTransport(),
		gate:          make(chan struct{}),
	}
}

// waitForCall returns a channel closed when the next request arrives.
func (g *gatedTransport) waitForCall() <-chan struct{} {
	ch := make(chan struct{})
	g.mu.Lock()
	g.entered = append(g.entered, ch)
	g.mu.Unlock()
	return ch
}

func (g *gatedTransport) Request(ctx context.Context, method, path string, payload interface{}) (json.RawMessage, error) {
	g.mu.Lock()
	for _, ch := range g.entered {
		close(ch)
	}
	g.entered = nil
	g.mu.Unlock()

	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MockTransport.Request(ctx, method, path, payload)
}

type coordFixture struct {
	queue       *queue.Queue
	transport   *gatedTransport
	monitor     *connectivity.ManualMonitor
	coordinator *syncer.Coordinator
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)

	st := store.NewMemoryStore()
	q := queue.New(st, 3, logger)
	gated := newGatedTransport()
	monitor := connectivity.NewManualMonitor(true)

	processor := syncer.NewProcessor(
		st, q, gated, monitor, transport.StaticToken("token"),
		syncer.NoDelay{}, 5*time.Second, logger,
	)
	return &coordFixture{
		queue:       q,
		transport:   gated,
		monitor:     monitor,
		coordinator: syncer.NewCoordinator(processor, logger),
	}
}

func (f *coordFixture) enqueue(t *testing.T) {
	t.Helper()
	_, err := f.queue.Enqueue(&models.Operation{
		Type:     models.OpRecordMachineHours,
		Endpoint: "/api/v1/machines/m-1/hours",
		Method:   "POST",
		Data:     []byte(`{}`),
		Scope:    testScope,
		Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
}

func TestSyncRejectsConcurrentPass(t *testing.T) {
	f := newCoordFixture(t)
	f.enqueue(t)

	passDone := make(chan struct{})
	f.coordinator.OnPassComplete(func(*syncer.PassResult) {
		close(passDone)
	})

	entered := f.transport.waitForCall()
	f.coordinator.RequestSync(context.Background(), testScope)
	<-entered

	// The running pass holds the slot.
	assert.True(t, f.coordinator.Running())
	_, err := f.coordinator.Sync(context.Background(), testScope)
	assert.ErrorIs(t, err, models.ErrSyncInProgress)

	close(f.transport.gate)
	select {
	case <-passDone:
	case <-time.After(5 * time.Second):
		t.Fatal("pass never completed")
	}
}

func TestRequestSyncCoalescesWhileRunning(t *testing.T) {
	f := newCoordFixture(t)
	f.enqueue(t)

	var mu sync.Mutex
	var passes int
	allDone := make(chan struct{})
	f.coordinator.OnPassComplete(func(*syncer.PassResult) {
		mu.Lock()
		passes++
		done := passes == 2
		mu.Unlock()
		if done {
			close(allDone)
		}
	})

	entered := f.transport.waitForCall()
	f.coordinator.RequestSync(context.Background(), testScope)
	<-entered

	// Three triggers during the running pass collapse into one
	// follow-up, not three.
	f.coordinator.RequestSync(context.Background(), testScope)
	f.coordinator.RequestSync(context.Background(), testScope)
	f.coordinator.RequestSync(context.Background(), testScope)

	close(f.transport.gate)
	select {
	case <-allDone:
	case <-time.After(5 * time.Second):
		t.Fatal("coalesced follow-up pass never ran")
	}

	// Give a stray third pass a moment to show itself.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, passes)
}

func TestOnlineTransitionTriggersSync(t *testing.T) {
	f := newCoordFixture(t)
	f.enqueue(t)
	close(f.transport.gate) // no blocking needed here

	passDone := make(chan struct{})
	f.coordinator.OnPassComplete(func(*syncer.PassResult) {
		close(passDone)
	})

	f.monitor.SetOnline(false)
	unbind := f.coordinator.Bind(f.monitor, func() models.Scope { return testScope })
	defer unbind()

	f.monitor.SetOnline(true)

	select {
	case <-passDone:
	case <-time.After(5 * time.Second):
		t.Fatal("online transition did not trigger a pass")
	}
	require.NotEmpty(t, f.transport.Calls)
}

func TestGoingOfflineDoesNotTriggerSync(t *testing.T) {
	f := newCoordFixture(t)
	close(f.transport.gate)

	var mu sync.Mutex
	var passes int
	f.coordinator.OnPassComplete(func(*syncer.PassResult) {
		mu.Lock()
		passes++
		mu.Unlock()
	})

	unbind := f.coordinator.Bind(f.monitor, func() models.Scope { return testScope })
	defer unbind()

	f.monitor.SetOnline(false)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, passes)
}
