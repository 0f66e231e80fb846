package console

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"agent-console-go/internal/feed"
	"agent-console-go/internal/logger"
	"agent-console-go/internal/session"
	"agent-console-go/internal/timer"
)

const (
	queuePath = "/ws/active-calls"
	waitFor   = 2 * time.Second
	pollEvery = 10 * time.Millisecond
)

// manualTicker fires only when the test says so.
type manualTicker struct {
	ch chan time.Time

	mu      sync.Mutex
	stopped int
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

func (m *manualTicker) stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type manualTickers struct {
	mu   sync.Mutex
	made []*manualTicker
}

func (f *manualTickers) New(time.Duration) timer.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	f.made = append(f.made, t)
	return t
}

func (f *manualTickers) all() []*manualTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*manualTicker(nil), f.made...)
}

func (f *manualTickers) last(t *testing.T) *manualTicker {
	t.Helper()
	var tk *manualTicker
	require.Eventually(t, func() bool {
		made := f.all()
		if len(made) == 0 {
			return false
		}
		tk = made[len(made)-1]
		return true
	}, waitFor, pollEvery)
	return tk
}

// tick fires n ticks; each send returns once the dispatch loop took the tick.
func (m *manualTicker) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case m.ch <- time.Now():
		case <-time.After(waitFor):
			t.Fatal("dispatch loop is not reading the ticker")
		}
	}
}

// feedServer plays both feeds. scripts maps a request path to the frames sent on connect.
type feedServer struct {
	*httptest.Server

	mu      sync.Mutex
	scripts map[string][]string
	opened  map[string]int
	closed  map[string]int
}

func newFeedServer(t *testing.T, scripts map[string][]string) *feedServer {
	t.Helper()
	fs := &feedServer{scripts: scripts, opened: map[string]int{}, closed: map[string]int{}}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade websocket: %v", err)
			return
		}
		path := r.URL.Path
		fs.mu.Lock()
		fs.opened[path]++
		frames := fs.scripts[path]
		fs.mu.Unlock()
		defer func() {
			_ = conn.Close()
			fs.mu.Lock()
			fs.closed[path]++
			fs.mu.Unlock()
		}()

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(fs.URL, "http") + path
}

func (fs *feedServer) counts(path string) (opened, closed int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.opened[path], fs.closed[path]
}

func callPath(id string) string {
	return "/ws/calls/" + id
}

// recordingExporter keeps every exported state.
type recordingExporter struct {
	mu     sync.Mutex
	states []session.State
}

func (r *recordingExporter) Export(st session.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
	return nil
}

func (r *recordingExporter) exported() []session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.State(nil), r.states...)
}

type harness struct {
	console *Console
	tickers *manualTickers
	server  *feedServer
}

func newHarness(t *testing.T, scripts map[string][]string, exp Exporter) *harness {
	t.Helper()
	log := logger.Discard()
	srv := newFeedServer(t, scripts)
	tickers := &manualTickers{}
	backoff := feed.Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}

	store := NewStore(StoreOptions{Log: log, Ticker: tickers.New})
	qf := feed.NewQueueFeed(feed.QueueFeedConfig{URL: srv.wsURL(queuePath), Backoff: backoff, Log: log}, store)
	cf, err := feed.NewCallFeed(feed.CallFeedConfig{URL: srv.wsURL("/ws/calls/{call_id}"), Backoff: backoff, Log: log}, store)
	require.NoError(t, err)

	c := New(store, qf, cf, Options{Log: log, Exporter: exp})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return &harness{console: c, tickers: tickers, server: srv}
}

func (h *harness) eventually(t *testing.T, cond func(st session.State) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.console.State()) }, waitFor, pollEvery)
}
