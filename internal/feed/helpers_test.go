package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"agent-console-go/internal/logger"
	"agent-console-go/internal/session"
	"agent-console-go/internal/types"
)

var testBackoff = Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}

// recorder is a Dispatcher that keeps every action. Domain actions fail with err when set.
type recorder struct {
	mu      sync.Mutex
	actions []session.Action
	err     error
}

func (r *recorder) Dispatch(a session.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	if _, ok := a.(session.SetFeedHealth); ok {
		return nil
	}
	return r.err
}

// domain returns the recorded actions without feed health updates.
func (r *recorder) domain() []session.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []session.Action
	for _, a := range r.actions {
		if _, ok := a.(session.SetFeedHealth); !ok {
			out = append(out, a)
		}
	}
	return out
}

func (r *recorder) health() []types.FeedHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.FeedHealth
	for _, a := range r.actions {
		if h, ok := a.(session.SetFeedHealth); ok {
			out = append(out, h.Health)
		}
	}
	return out
}

func (r *recorder) sawHealth(h types.FeedHealth) bool {
	for _, got := range r.health() {
		if got == h {
			return true
		}
	}
	return false
}

// wsServer runs handler for every websocket connection and then drains the connection
// until the client goes away.
type wsServer struct {
	*httptest.Server
	opened atomic.Int32
	closed atomic.Int32

	mu    sync.Mutex
	paths []string
}

func newWSServer(t *testing.T, handler func(n int, conn *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade websocket: %v", err)
			return
		}
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()
		n := int(s.opened.Add(1))
		defer func() {
			_ = conn.Close()
			s.closed.Add(1)
		}()
		if handler != nil {
			handler(n, conn)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) seenPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Errorf("write test message: %v", err)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func quietLog() *logger.Logger {
	return logger.Discard()
}
