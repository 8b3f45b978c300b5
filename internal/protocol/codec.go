package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// EncodeRequest serializes a Request to JSON and writes it to w.
// Returns an error if the request is incomplete or writing fails.
func EncodeRequest(w io.Writer, req *Request) error {
	if req == nil {
		return fmt.Errorf("request is nil")
	}
	if req.Method == "" {
		return fmt.Errorf("request missing required field: method")
	}
	if req.Params.Version < 1 {
		return fmt.Errorf("unsupported protocol version: %d", req.Params.Version)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	return nil
}

// MarshalRequest is EncodeRequest into a fresh byte slice.
func MarshalRequest(req *Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeRequest(&buf, req); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeResponse deserializes a Response from the binary's stdout. The
// document must be a JSON object.
func DecodeResponse(data []byte) (*Response, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("response is empty")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("response is not a JSON object")
	}

	resp := &Response{Result: fields["result"]}
	resp.Error, resp.hasError = fields["error"]
	return resp, nil
}
