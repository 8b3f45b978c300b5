package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/keybridge/internal/events"
)

// StreamSSE connects to a gateway's /events endpoint and forwards each event
// to out until the connection ends or ctx is done. It does not close out.
func StreamSSE(ctx context.Context, baseURL, token string, out chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/events", nil)
	if err != nil {
		return fmt.Errorf("build events request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("events endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	err = readSSE(resp.Body, func(ev events.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// readSSE parses SSE frames from r and calls emit for each; emit returning
// false stops the read.
func readSSE(r io.Reader, emit func(events.Event) bool) error {
	br := bufio.NewReader(r)
	var (
		current events.Event
		data    strings.Builder
	)

	for {
		line, err := br.ReadString('\n')
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		switch {
		case line == "" && err == nil:
			if data.Len() > 0 {
				current.Data = []byte(data.String())
				if current.At.IsZero() {
					current.At = time.Now()
				}
				if !emit(current) {
					return nil
				}
			}
			current = events.Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		case strings.HasPrefix(line, "id: "):
			if id, perr := strconv.ParseInt(line[4:], 10, 64); perr == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(line[6:])
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
