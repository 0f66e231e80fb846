package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"agent-console-go/internal/logger"
	"agent-console-go/internal/metrics"
	"agent-console-go/internal/session"
	"agent-console-go/internal/types"
)

const (
	unknownHospital = "Unknown"
	defaultAgent    = "AI Agent"
	stampLayout     = "15:04"
)

type QueueFeedConfig struct {
	URL     string
	Dialer  *websocket.Dialer
	Backoff Backoff
	Log     *logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// QueueFeed keeps the console queue in step with the active-calls feed.
type QueueFeed struct {
	cfg      QueueFeedConfig
	dispatch Dispatcher
	log      *logger.Logger
}

func NewQueueFeed(cfg QueueFeedConfig, dispatch Dispatcher) *QueueFeed {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = logger.New()
	}
	return &QueueFeed{
		cfg:      cfg,
		dispatch: dispatch,
		log:      cfg.Log.Component("feed.queue").With("feed", types.FeedQueue),
	}
}

// Open starts the subscription. It runs until ctx is cancelled or the subscription is closed.
func (q *QueueFeed) Open(ctx context.Context) *Subscription {
	st := &stream{
		name:             types.FeedQueue,
		url:              q.cfg.URL,
		dialer:           dialerOrDefault(q.cfg.Dialer),
		backoff:          q.cfg.Backoff,
		log:              q.log,
		dispatch:         q.dispatch,
		reconnectOnClose: true,
		onMessage:        q.handle,
	}
	return st.open(ctx)
}

func (q *QueueFeed) handle(payload []byte) {
	items, err := ParseQueue(payload, q.cfg.Now())
	if err != nil {
		malformed(types.FeedQueue)
		q.log.WithError(err).Warn("dropping malformed queue snapshot")
		return
	}
	metrics.QueueSize.Set(float64(len(items)))
	if err := q.dispatch.Dispatch(session.SetQueue{Items: items}); err != nil {
		q.log.WithError(err).Debug("queue snapshot not applied")
	}
}

// ParseQueue turns a queue snapshot into queue items. The snapshot is either a bare array of
// call records or an object with a calls array; any other JSON value yields an empty queue.
// Only undecodable JSON is an error.
func ParseQueue(payload []byte, now time.Time) ([]types.QueueItem, error) {
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}

	var records []interface{}
	switch v := doc.(type) {
	case []interface{}:
		records = v
	case map[string]interface{}:
		records, _ = v["calls"].([]interface{})
	}

	items := make([]types.QueueItem, 0, len(records))
	for i, raw := range records {
		rec, _ := raw.(map[string]interface{})
		items = append(items, NormalizeRecord(rec, i, now))
	}
	return items, nil
}

// NormalizeRecord maps one raw call record onto a queue item. Each field takes the first
// present source; the id falls back to the record's position in the snapshot.
func NormalizeRecord(rec map[string]interface{}, index int, now time.Time) types.QueueItem {
	id := firstString(rec, "call_control_id", "id")
	if id == "" {
		id = strconv.Itoa(index)
	}
	hospital := firstString(rec, "hospital", "caller_name")
	if hospital == "" {
		hospital = unknownHospital
	}
	by := firstString(rec, "agent_name")
	if by == "" {
		by = defaultAgent
	}
	status, _ := rec["status"].(string)

	return types.QueueItem{
		ID:       id,
		Hospital: hospital,
		By:       by,
		Stamp:    stamp(rec["started_at"], now),
		Status:   MapQueueStatus(status),
	}
}

// MapQueueStatus maps a raw status onto the three queue statuses, defaulting to Ended.
func MapQueueStatus(raw string) types.QueueStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ongoing", "active", "in_progress", "ringing":
		return types.QueueOngoing
	case "transferred", "transferring":
		return types.QueueTransferred
	default:
		return types.QueueEnded
	}
}

func firstString(rec map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func stamp(raw interface{}, now time.Time) string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			break
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.Local().Format(stampLayout)
		}
		return v
	case float64:
		// epoch values above 1e12 are milliseconds
		if v > 1e12 {
			return time.UnixMilli(int64(v)).Local().Format(stampLayout)
		}
		return time.Unix(int64(v), 0).Local().Format(stampLayout)
	}
	return now.Local().Format(stampLayout)
}
