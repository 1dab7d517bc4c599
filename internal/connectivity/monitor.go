// Package connectivity observes the host environment's online/offline
// signal. The monitor is the single trigger for synchronization passes;
// subscribers receive transitions through an explicit subscribe/
// unsubscribe interface so tests can simulate flapping deterministically.
package connectivity

import (
	"sync"
	"time"
)

// Event is an online/offline transition.
type Event struct {
	Online bool
	At     time.Time
}

// Monitor exposes the host connectivity status.
type Monitor interface {
	// Online is an instantaneous read of the last known status.
	Online() bool

	// Subscribe registers a transition handler and returns a disposer.
	// Handlers run on the emitting goroutine; they must not block.
	Subscribe(fn func(Event)) func()

	// Close stops the monitor.
	Close() error
}

// notifier implements subscriber bookkeeping shared by all monitors.
type notifier struct {
	mu       sync.Mutex
	handlers map[int]func(Event)
	nextID   int
}

func newNotifier() *notifier {
	return &notifier{handlers: make(map[int]func(Event))}
}

func (n *notifier) subscribe(fn func(Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.handlers[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.handlers, id)
	}
}

func (n *notifier) emit(ev Event) {
	n.mu.Lock()
	handlers := make([]func(Event), 0, len(n.handlers))
	for _, fn := range n.handlers {
		handlers = append(handlers, fn)
	}
	n.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// ManualMonitor is driven by explicit SetOnline calls. Used in tests
// and by UI layers that receive the host's own connectivity events.
type ManualMonitor struct {
	*notifier

	mu     sync.Mutex
	online bool
}

// NewManualMonitor creates a monitor with the given initial status.
func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{
		notifier: newNotifier(),
		online:   online,
	}
}

// Online reports the current status.
func (m *ManualMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a status change. Only actual transitions emit.
func (m *ManualMonitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if changed {
		m.emit(Event{Online: online, At: time.Now()})
	}
}

// Subscribe registers a transition handler.
func (m *ManualMonitor) Subscribe(fn func(Event)) func() {
	return m.subscribe(fn)
}

// Close is a no-op.
func (m *ManualMonitor) Close() error {
	return nil
}
