package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/transport"
)

// HeartbeatMonitor derives connectivity from a persistent WebSocket to
// the server: online while the socket stays open and ponging, offline
// on disconnect, reconnecting with a fixed backoff. Faster at spotting
// lost links than interval probing, so it is preferred when the server
// offers the endpoint.
type HeartbeatMonitor struct {
	*notifier

	url    string
	tokens transport.TokenSource
	logger *events.Logger

	pingInterval time.Duration
	pongTimeout  time.Duration
	redialDelay  time.Duration

	mu     sync.Mutex
	online bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeatMonitor creates a heartbeat monitor against wsURL. An
// http(s) URL is converted to ws(s).
func NewHeartbeatMonitor(wsURL string, tokens transport.TokenSource, logger *events.Logger) *HeartbeatMonitor {
	if len(wsURL) > 4 && wsURL[:4] == "http" {
		wsURL = "ws" + wsURL[4:]
	}

	return &HeartbeatMonitor{
		notifier:     newNotifier(),
		url:          wsURL,
		tokens:       tokens,
		logger:       logger.WithField("component", "heartbeat_monitor"),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
		redialDelay:  5 * time.Second,
	}
}

// Start launches the connect/heartbeat loop.
func (m *HeartbeatMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)

		for {
			if err := m.run(ctx); err != nil {
				m.logger.WithError(err).Debug("Heartbeat connection ended")
			}
			m.setOnline(false)

			select {
			case <-ctx.Done():
				return
			case <-time.After(m.redialDelay):
			}
		}
	}()
}

// run holds one connection open until it fails.
func (m *HeartbeatMonitor) run(ctx context.Context) error {
	headers := http.Header{}
	if token, err := m.tokens.Token(); err == nil && token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.url, headers)
	if err != nil {
		return err
	}
	defer conn.Close()

	m.setOnline(true)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.pingInterval + m.pongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(m.pingInterval + m.pongTimeout))

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			deadline := time.Now().Add(m.pongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		}
	}
}

func (m *HeartbeatMonitor) setOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.logger.Info("Heartbeat established")
	} else {
		m.logger.Warn("Heartbeat lost")
	}
	m.emit(Event{Online: online, At: time.Now()})
}

// Online reports the current status.
func (m *HeartbeatMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a transition handler.
func (m *HeartbeatMonitor) Subscribe(fn func(Event)) func() {
	return m.subscribe(fn)
}

// Close stops the loop and drops the connection.
func (m *HeartbeatMonitor) Close() error {
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
