package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/nordaqua/fieldsync/internal/events"
)

// Pinger probes the server's health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeMonitor derives connectivity from periodic health probes.
type ProbeMonitor struct {
	*notifier

	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *events.Logger

	mu     sync.Mutex
	online bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProbeMonitor creates a probe monitor. It reports offline until the
// first successful probe.
func NewProbeMonitor(pinger Pinger, interval time.Duration, logger *events.Logger) *ProbeMonitor {
	return &ProbeMonitor{
		notifier: newNotifier(),
		pinger:   pinger,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logger.WithField("component", "probe_monitor"),
	}
}

// Start launches the probe loop.
func (m *ProbeMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)

		m.probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

func (m *ProbeMonitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(probeCtx)
	online := err == nil

	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.logger.Info("Connectivity restored")
	} else {
		m.logger.WithError(err).Warn("Connectivity lost")
	}
	m.emit(Event{Online: online, At: time.Now()})
}

// Online reports the last probed status.
func (m *ProbeMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a transition handler.
func (m *ProbeMonitor) Subscribe(fn func(Event)) func() {
	return m.subscribe(fn)
}

// Close stops the probe loop.
func (m *ProbeMonitor) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
