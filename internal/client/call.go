package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/keybridge/internal/events"
	"github.com/mattjoyce/keybridge/internal/failure"
	"github.com/mattjoyce/keybridge/internal/journal"
	"github.com/mattjoyce/keybridge/internal/log"
	"github.com/mattjoyce/keybridge/internal/proc"
	"github.com/mattjoyce/keybridge/internal/protocol"
)

// APICall is one "<api> api" request.
type APICall struct {
	API     string
	Method  string
	Options any
	// Timeout of zero falls back to the API's configured timeout.
	Timeout time.Duration
}

// Call sends one request envelope to "<binary> <api> api" and returns the
// formatted result. Runner failures are returned unchanged; an error field in
// the response becomes a failure.KindApplication error.
func (c *Client) Call(ctx context.Context, call APICall) (any, error) {
	if !c.Initialized() {
		return nil, failure.NotInitialized()
	}
	if call.API == "" || call.Method == "" {
		return nil, fmt.Errorf("api and method are required")
	}
	version, ok := c.versions[call.API]
	if !ok {
		return nil, fmt.Errorf("unknown api %q: no protocol version configured", call.API)
	}

	callID := uuid.NewString()
	logger := log.WithCall(callID).With("api", call.API, "method", call.Method)

	options, err := c.formatter.FormatOptions(call.Options, call.API)
	if err != nil {
		return nil, fmt.Errorf("format options: %w", err)
	}

	var payload bytes.Buffer
	if err := protocol.EncodeRequest(&payload, &protocol.Request{
		Method: call.Method,
		Params: protocol.Params{Version: version, Options: options},
	}); err != nil {
		return nil, err
	}

	timeout := call.Timeout
	if timeout == 0 {
		timeout = c.timeouts[call.API]
	}
	logger.Debug("dispatching call", "request_bytes", payload.Len(), "timeout", timeout)

	c.hub.Publish(events.CallStarted, events.CallData{CallID: callID, API: call.API, Method: call.Method})
	started := time.Now()

	result, err := c.dispatch(ctx, call, payload.Bytes(), timeout)
	c.finish(ctx, callID, call, started, err)
	if err != nil {
		logger.Debug("call failed", "kind", failure.KindOf(err), "error", err)
		return nil, err
	}
	return result, nil
}

func (c *Client) dispatch(ctx context.Context, call APICall, payload []byte, timeout time.Duration) (any, error) {
	out, err := c.Exec(ctx, []string{call.API, "api"}, ExecOptions{
		Mode:    proc.ModeText,
		Stdin:   payload,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	// Decoded once here; the runner hands back raw stdout.
	resp, err := protocol.DecodeResponse(out.Stdout)
	if err != nil {
		return nil, failure.Decode(err)
	}
	if resp.HasError() {
		return nil, failure.Application(resp.ErrorMessage())
	}
	result, err := resp.ResultValue()
	if err != nil {
		return nil, failure.Decode(err)
	}
	return c.formatter.FormatResult(result, call.API, call.Method), nil
}

// finish publishes the terminal event and journals the call.
func (c *Client) finish(ctx context.Context, callID string, call APICall, started time.Time, callErr error) {
	elapsed := time.Since(started)
	data := events.CallData{
		CallID:     callID,
		API:        call.API,
		Method:     call.Method,
		DurationMS: elapsed.Milliseconds(),
	}
	entry := journal.Entry{
		ID:        callID,
		API:       call.API,
		Method:    call.Method,
		Status:    journal.StatusOK,
		Duration:  elapsed,
		CreatedAt: started,
	}

	if callErr != nil {
		data.Kind = string(failure.KindOf(callErr))
		data.Error = callErr.Error()
		entry.Status = journal.StatusFailed
		entry.Kind = data.Kind
		entry.Error = data.Error
		var fe *failure.Error
		if errors.As(callErr, &fe) && fe.Kind == failure.KindExit {
			data.ExitCode = fe.ExitCode
			entry.ExitCode = fe.ExitCode
		}
		c.hub.Publish(events.CallFailed, data)
	} else {
		c.hub.Publish(events.CallCompleted, data)
	}

	if c.journal == nil {
		return
	}
	// The call's own context may already be cancelled; the record still belongs in history.
	if err := c.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Warn("failed to journal call", "call_id", callID, "error", err)
	}
}
