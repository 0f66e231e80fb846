package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agent-console-go/internal/logger"
	"agent-console-go/internal/metrics"
	"agent-console-go/internal/schema"
	"agent-console-go/internal/session"
	"agent-console-go/internal/types"
)

// CallIDPlaceholder is replaced by the escaped call id in CallFeedConfig.URL.
const CallIDPlaceholder = "{call_id}"

type CallFeedConfig struct {
	// URL addresses the feed of one call, either with CallIDPlaceholder or as a base
	// the call id is appended to.
	URL     string
	Dialer  *websocket.Dialer
	Backoff Backoff
	Log     *logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID synthesizes transcript line ids; defaults to uuid.NewString.
	NewID func() string
}

// CallFeed opens the per-call feed for the selected call.
type CallFeed struct {
	cfg       CallFeedConfig
	dispatch  Dispatcher
	validator *schema.Validator
	log       *logger.Logger
}

func NewCallFeed(cfg CallFeedConfig, dispatch Dispatcher) (*CallFeed, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Log == nil {
		cfg.Log = logger.New()
	}
	v, err := schema.NewCallMessageValidator()
	if err != nil {
		return nil, err
	}
	return &CallFeed{
		cfg:       cfg,
		dispatch:  dispatch,
		validator: v,
		log:       cfg.Log.Component("feed.call").With("feed", types.FeedCall),
	}, nil
}

// CallURL builds the feed address for callID.
func CallURL(template, callID string) string {
	escaped := url.PathEscape(callID)
	if strings.Contains(template, CallIDPlaceholder) {
		return strings.ReplaceAll(template, CallIDPlaceholder, escaped)
	}
	return strings.TrimRight(template, "/") + "/" + escaped
}

// callStream holds the per-connection state of one call subscription.
type callStream struct {
	feed      *CallFeed
	callID    string
	log       *logger.Logger
	startedAt time.Time
	started   bool
}

// Open subscribes to the feed of callID. Every action it dispatches names callID.
func (c *CallFeed) Open(ctx context.Context, callID string) *Subscription {
	cs := &callStream{feed: c, callID: callID, log: c.log.With("call_id", callID)}
	st := &stream{
		name:      types.FeedCall,
		url:       CallURL(c.cfg.URL, callID),
		dialer:    dialerOrDefault(c.cfg.Dialer),
		backoff:   c.cfg.Backoff,
		log:       cs.log,
		dispatch:  c.dispatch,
		onOpen:    cs.opened,
		onMessage: cs.handle,
	}
	return st.open(ctx)
}

// opened keeps the reference of the first connection, so offsets keep counting across
// reconnects of the same subscription.
func (cs *callStream) opened() {
	if cs.started {
		return
	}
	cs.startedAt = cs.feed.cfg.Now()
	cs.started = true
}

func (cs *callStream) handle(payload []byte) {
	msg, err := DecodeCallMessage(cs.feed.validator, payload)
	if err != nil {
		malformed(types.FeedCall)
		cs.log.WithError(err).Warn("dropping malformed call message")
		return
	}

	var action session.Action
	switch m := msg.(type) {
	case StatusUpdate:
		status, ok := MapCallStatus(m.Status)
		if !ok {
			cs.log.WithField("status", m.Status).Debug("ignoring unrecognized call status")
			return
		}
		action = session.SetStatus{CallID: cs.callID, Status: status}
	case TranscriptUpdate:
		line, ok := cs.line(m)
		if !ok {
			return
		}
		action = session.PushLine{CallID: cs.callID, Line: line}
	}
	if err := cs.feed.dispatch.Dispatch(action); err != nil {
		cs.log.WithError(err).Debug("call action not applied")
		return
	}
	if _, ok := action.(session.PushLine); ok {
		metrics.TranscriptLinesTotal.Inc()
	}
}

func (cs *callStream) line(m TranscriptUpdate) (types.TranscriptLine, bool) {
	if m.Text == "" {
		return types.TranscriptLine{}, false
	}
	who := types.SpeakerCaller
	if m.From == string(types.SpeakerAI) {
		who = types.SpeakerAI
	}
	at := 0
	switch {
	case m.At != nil:
		at = *m.At
	case cs.started:
		at = int(math.Floor(cs.feed.cfg.Now().Sub(cs.startedAt).Seconds()))
	}
	id := m.ID
	if id == "" {
		id = cs.feed.cfg.NewID()
	}
	return types.TranscriptLine{ID: id, Who: who, Text: m.Text, At: at}, true
}

// MapCallStatus maps a feed status onto a session status. Unknown values report false.
func MapCallStatus(raw string) (types.CallStatus, bool) {
	switch strings.ToLower(raw) {
	case "active", "in_progress":
		return types.StatusActive, true
	case "ringing":
		return types.StatusRinging, true
	case "transferring":
		return types.StatusTransferring, true
	case "ended", "completed":
		return types.StatusEnded, true
	}
	return "", false
}

// CallMessage is one decoded per-call feed message: StatusUpdate or TranscriptUpdate.
type CallMessage interface {
	callMessage()
}

type StatusUpdate struct {
	Status string
}

type TranscriptUpdate struct {
	Text string
	From string
	// At is the server-supplied offset in seconds, nil when absent or not numeric.
	At *int
	ID string
}

func (StatusUpdate) callMessage()     {}
func (TranscriptUpdate) callMessage() {}

var errUnknownMessage = errors.New("unknown call message type")

// DecodeCallMessage validates payload against the call message schema and converts it.
func DecodeCallMessage(v *schema.Validator, payload []byte) (CallMessage, error) {
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode call message: %w", err)
	}
	if err := v.Validate(doc); err != nil {
		return nil, err
	}

	fields := doc.(map[string]interface{})
	switch fields["type"] {
	case "status":
		return StatusUpdate{Status: fields["status"].(string)}, nil
	case "transcript":
		m := TranscriptUpdate{Text: fields["text"].(string)}
		m.From, _ = fields["from"].(string)
		if at, ok := fields["at"].(float64); ok {
			n := int(math.Floor(at))
			m.At = &n
		}
		switch id := fields["id"].(type) {
		case string:
			m.ID = id
		case float64:
			m.ID = strconv.FormatFloat(id, 'f', -1, 64)
		}
		return m, nil
	}
	return nil, errUnknownMessage
}
