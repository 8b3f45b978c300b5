package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the client.
const (
	CallStarted   = "call.started"
	CallCompleted = "call.completed"
	CallFailed    = "call.failed"
	ListenLine    = "listen.line"
)

const (
	defaultBacklog   = 100
	subscriberBuffer = 256
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// CallData is the payload of the call.* events.
type CallData struct {
	CallID     string `json:"call_id"`
	API        string `json:"api"`
	Method     string `json:"method"`
	Kind       string `json:"kind,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// LineData is the payload of listen.line.
type LineData struct {
	API  string `json:"api"`
	Line string `json:"line"`
}

// Hub fans events out to subscribers and keeps the most recent ones so
// SSE clients can resume with Last-Event-ID.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	backlog []Event
	limit   int
	subs    map[chan Event]struct{}
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{
		backlog: make([]Event, 0, backlog),
		limit:   backlog,
		subs:    make(map[chan Event]struct{}),
	}
}

// Publish records data under the next ID. A nil Hub drops events.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}

	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}

	if len(h.backlog) == h.limit {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:h.limit-1]
	}
	h.backlog = append(h.backlog, ev)

	for ch := range h.subs {
		// A full subscriber misses the event; callers never block on it.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// SnapshotSince returns retained events newer than lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Event
	for _, ev := range h.backlog {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
