package connectivity_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordaqua/fieldsync/internal/connectivity"
	"github.com/nordaqua/fieldsync/internal/events"
	"github.com/nordaqua/fieldsync/internal/transport"
)

// heartbeatServer accepts websocket connections and keeps them open
// until closed.
type heartbeatServer struct {
	*httptest.Server

	mu       sync.Mutex
	auth     []string
	conns    []*websocket.Conn
	upgrader websocket.Upgrader
}

func newHeartbeatServer(t *testing.T) *heartbeatServer {
	t.Helper()
	s := &heartbeatServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		// Keep reading so control frames are processed; the default
		// ping handler answers with pongs.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *heartbeatServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func TestHeartbeatMonitorGoesOnlineAndSendsToken(t *testing.T) {
	server := newHeartbeatServer(t)
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)

	m := connectivity.NewHeartbeatMonitor(server.URL, transport.StaticToken("hb-token"), logger)
	defer m.Close()

	online := make(chan connectivity.Event, 16)
	dispose := m.Subscribe(func(ev connectivity.Event) { online <- ev })
	defer dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	select {
	case ev := <-online:
		assert.True(t, ev.Online)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor never went online")
	}
	require.True(t, m.Online())

	server.mu.Lock()
	defer server.mu.Unlock()
	require.NotEmpty(t, server.auth)
	assert.Equal(t, "Bearer hb-token", server.auth[0])
}

func TestHeartbeatMonitorDetectsDroppedConnection(t *testing.T) {
	server := newHeartbeatServer(t)
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)

	m := connectivity.NewHeartbeatMonitor(server.URL, transport.StaticToken(""), logger)
	defer m.Close()

	transitions := make(chan connectivity.Event, 16)
	dispose := m.Subscribe(func(ev connectivity.Event) { transitions <- ev })
	defer dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	select {
	case ev := <-transitions:
		require.True(t, ev.Online)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor never went online")
	}

	server.dropConnections()

	select {
	case ev := <-transitions:
		assert.False(t, ev.Online)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor never noticed the dropped connection")
	}
}
