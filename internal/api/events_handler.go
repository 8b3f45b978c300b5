package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/keybridge/internal/events"
)

const sseKeepAlive = 15 * time.Second

// eventFilter narrows the stream. Empty fields match everything.
type eventFilter struct {
	// types are exact names or prefixes ending in "." (e.g. "call.").
	types []string
	api   string
}

func parseEventFilter(r *http.Request) eventFilter {
	var f eventFilter
	for _, t := range strings.Split(r.URL.Query().Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.types = append(f.types, t)
		}
	}
	f.api = strings.TrimSpace(r.URL.Query().Get("api"))
	return f
}

func (f eventFilter) match(ev events.Event) bool {
	if len(f.types) > 0 {
		ok := false
		for _, t := range f.types {
			if ev.Type == t || (strings.HasSuffix(t, ".") && strings.HasPrefix(ev.Type, t)) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.api == "" {
		return true
	}
	var payload struct {
		API string `json:"api"`
	}
	return json.Unmarshal(ev.Data, &payload) == nil && payload.API == f.api
}

// handleEvents handles GET /events as a server-sent event stream.
// Query: type=call.,listen.line  api=chat. Last-Event-ID resumes after a reconnect.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	filter := parseEventFilter(r)

	// Subscribe before the snapshot so nothing published in between is lost;
	// live events already covered by the snapshot are skipped by ID.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sent := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.events.SnapshotSince(sent) {
		if filter.match(ev) {
			if err := writeSSE(w, ev); err != nil {
				return
			}
		}
		sent = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= sent {
				continue
			}
			sent = ev.ID
			if !filter.match(ev) {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE writes one frame. Data is single-line JSON, so one data: line suffices.
func writeSSE(w io.Writer, ev events.Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
