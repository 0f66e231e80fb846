package feed

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-console-go/internal/session"
	"agent-console-go/internal/types"
)

var fixedNow = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func TestParseQueueShapes(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		ids     []string
	}{
		{"bare array", `[{"id":"a"},{"id":"b"}]`, []string{"a", "b"}},
		{"calls object", `{"calls":[{"id":"c1"}]}`, []string{"c1"}},
		{"object without calls", `{"total":3}`, []string{}},
		{"calls not an array", `{"calls":"c1"}`, []string{}},
		{"number", `42`, []string{}},
		{"null", `null`, []string{}},
		{"non-object record", `["x"]`, []string{"0"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			items, err := ParseQueue([]byte(tc.payload), fixedNow)
			require.NoError(t, err)
			ids := []string{}
			for _, it := range items {
				ids = append(ids, it.ID)
			}
			assert.Equal(t, tc.ids, ids)
		})
	}
}

func TestParseQueueMalformed(t *testing.T) {
	_, err := ParseQueue([]byte(`{"calls":[`), fixedNow)
	assert.Error(t, err)
}

func TestParseQueueStatuses(t *testing.T) {
	items, err := ParseQueue([]byte(`{"calls":[{"id":"c1","status":"Transferred"},{"id":"c2","status":"weird"}]}`), fixedNow)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "c1", items[0].ID)
	assert.Equal(t, types.QueueTransferred, items[0].Status)
	assert.Equal(t, types.QueueEnded, items[1].Status)
}

func TestNormalizeRecordFallbacks(t *testing.T) {
	started := "2026-03-02T09:15:00Z"
	startedAt, _ := time.Parse(time.RFC3339, started)

	testCases := []struct {
		name string
		rec  map[string]interface{}
		want types.QueueItem
	}{
		{
			name: "all fields",
			rec: map[string]interface{}{
				"call_control_id": "v3:abc", "id": "ignored", "hospital": "St. Mary",
				"caller_name": "ignored", "agent_name": "Ada", "status": "in_progress", "started_at": started,
			},
			want: types.QueueItem{ID: "v3:abc", Hospital: "St. Mary", By: "Ada", Stamp: startedAt.Local().Format("15:04"), Status: types.QueueOngoing},
		},
		{
			name: "secondary fields",
			rec:  map[string]interface{}{"id": 17.0, "caller_name": "Lagos General", "status": "TRANSFERRING", "started_at": "yesterday"},
			want: types.QueueItem{ID: "17", Hospital: "Lagos General", By: "AI Agent", Stamp: "yesterday", Status: types.QueueTransferred},
		},
		{
			name: "nothing present",
			rec:  map[string]interface{}{},
			want: types.QueueItem{ID: "4", Hospital: "Unknown", By: "AI Agent", Stamp: fixedNow.Local().Format("15:04"), Status: types.QueueEnded},
		},
		{
			name: "empty strings fall through",
			rec:  map[string]interface{}{"call_control_id": "", "id": "c9", "hospital": "", "caller_name": "Ikeja Clinic"},
			want: types.QueueItem{ID: "c9", Hospital: "Ikeja Clinic", By: "AI Agent", Stamp: fixedNow.Local().Format("15:04"), Status: types.QueueEnded},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeRecord(tc.rec, 4, fixedNow))
		})
	}
}

func TestNormalizeRecordNilMap(t *testing.T) {
	item := NormalizeRecord(nil, 2, fixedNow)
	assert.Equal(t, "2", item.ID)
	assert.Equal(t, types.QueueEnded, item.Status)
}

func TestMapQueueStatus(t *testing.T) {
	testCases := map[string]types.QueueStatus{
		"Ongoing":      types.QueueOngoing,
		"active":       types.QueueOngoing,
		"IN_PROGRESS":  types.QueueOngoing,
		"ringing":      types.QueueOngoing,
		"Transferred":  types.QueueTransferred,
		"transferring": types.QueueTransferred,
		"ended":        types.QueueEnded,
		"completed":    types.QueueEnded,
		"weird":        types.QueueEnded,
		"":             types.QueueEnded,
	}
	for in, want := range testCases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, MapQueueStatus(in))
		})
	}
}

func TestQueueFeedDispatchesSnapshots(t *testing.T) {
	srv := newWSServer(t, func(n int, conn *websocket.Conn) {
		send(t, conn, `not json`)
		send(t, conn, `{"calls":[{"id":"c1","status":"Transferred"},{"id":"c2","status":"weird"}]}`)
	})

	rec := &recorder{}
	q := NewQueueFeed(QueueFeedConfig{URL: srv.wsURL(), Backoff: testBackoff, Log: quietLog(), Now: func() time.Time { return fixedNow }}, rec)
	sub := q.Open(context.Background())
	defer sub.Close()

	require.Eventually(t, func() bool { return len(rec.domain()) == 1 }, 2*time.Second, 10*time.Millisecond)
	set, ok := rec.domain()[0].(session.SetQueue)
	require.True(t, ok)
	require.Len(t, set.Items, 2)
	assert.Equal(t, types.QueueTransferred, set.Items[0].Status)
	assert.Equal(t, types.QueueEnded, set.Items[1].Status)

	// the malformed frame did not cost the connection
	assert.Equal(t, int32(1), srv.opened.Load())
	assert.True(t, rec.sawHealth(types.FeedOpen))
}

func TestQueueFeedReconnects(t *testing.T) {
	srv := newWSServer(t, func(n int, conn *websocket.Conn) {
		if n == 1 {
			// drop the first connection without a close frame
			_ = conn.UnderlyingConn().Close()
			return
		}
		send(t, conn, `[{"id":"after-reconnect"}]`)
	})

	rec := &recorder{}
	q := NewQueueFeed(QueueFeedConfig{URL: srv.wsURL(), Backoff: testBackoff, Log: quietLog()}, rec)
	sub := q.Open(context.Background())
	defer sub.Close()

	require.Eventually(t, func() bool { return len(rec.domain()) == 1 }, 2*time.Second, 10*time.Millisecond)
	set := rec.domain()[0].(session.SetQueue)
	assert.Equal(t, "after-reconnect", set.Items[0].ID)
	assert.GreaterOrEqual(t, srv.opened.Load(), int32(2))
	assert.True(t, rec.sawHealth(types.FeedReconnecting))
}

func TestQueueFeedRetriesDialFailures(t *testing.T) {
	rec := &recorder{}
	q := NewQueueFeed(QueueFeedConfig{URL: "ws://127.0.0.1:1/ws/active-calls", Backoff: testBackoff, Log: quietLog()}, rec)
	sub := q.Open(context.Background())

	require.Eventually(t, func() bool { return rec.sawHealth(types.FeedReconnecting) }, 2*time.Second, 10*time.Millisecond)
	sub.Close()

	h := rec.health()
	assert.Equal(t, types.FeedConnecting, h[0])
	assert.Equal(t, types.FeedClosed, h[len(h)-1])
}

func TestQueueFeedStopsOnContextCancel(t *testing.T) {
	srv := newWSServer(t, nil)
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	sub := NewQueueFeed(QueueFeedConfig{URL: srv.wsURL(), Backoff: testBackoff, Log: quietLog()}, rec).Open(ctx)

	require.Eventually(t, func() bool { return rec.sawHealth(types.FeedOpen) }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("queue feed did not stop after cancel")
	}
	require.Eventually(t, func() bool { return srv.closed.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}
