package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "request without options",
			req: &Request{
				Method: "list",
				Params: Params{Version: 1},
			},
			checkFn: func(t *testing.T, output string) {
				if output != `{"method":"list","params":{"version":1}}` {
					t.Errorf("unexpected wire form: %s", output)
				}
			},
		},
		{
			name: "request with options",
			req: &Request{
				Method: "send",
				Params: Params{
					Version: 1,
					Options: map[string]any{"channel": map[string]any{"name": "alice,bob"}},
				},
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"options":{"channel":{"name":"alice,bob"}}`) {
					t.Errorf("missing options: %s", output)
				}
			},
		},
		{
			name:    "missing method",
			req:     &Request{Params: Params{Version: 1}},
			wantErr: true,
		},
		{
			name:    "zero version",
			req:     &Request{Method: "list"},
			wantErr: true,
		},
		{
			name:    "nil request",
			req:     nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)

			if (err != nil) != tt.wantErr {
				t.Errorf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, resp *Response)
	}{
		{
			name:  "result response",
			input: `{"result":{"items":[]}}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.HasError() {
					t.Fatal("unexpected error field")
				}
				v, err := resp.ResultValue()
				if err != nil {
					t.Fatalf("ResultValue: %v", err)
				}
				m, ok := v.(map[string]any)
				if !ok {
					t.Fatalf("want object result, got %T", v)
				}
				if items, ok := m["items"].([]any); !ok || len(items) != 0 {
					t.Errorf("want empty items, got %v", m["items"])
				}
			},
		},
		{
			name:  "error response",
			input: `{"error":{"code":404,"message":"not found"}}`,
			checkFn: func(t *testing.T, resp *Response) {
				if !resp.HasError() {
					t.Fatal("want error field")
				}
				if got := resp.ErrorMessage(); got != "not found" {
					t.Errorf("want message 'not found', got %q", got)
				}
			},
		},
		{
			name:  "null error is still an error",
			input: `{"error":null,"result":{"x":1}}`,
			checkFn: func(t *testing.T, resp *Response) {
				if !resp.HasError() {
					t.Fatal("want error field")
				}
				if got := resp.ErrorMessage(); got != "" {
					t.Errorf("want empty message, got %q", got)
				}
			},
		},
		{
			name:  "non-object error",
			input: `{"error":"x"}`,
			checkFn: func(t *testing.T, resp *Response) {
				if !resp.HasError() {
					t.Fatal("want error field")
				}
				if got := resp.ErrorMessage(); got != "" {
					t.Errorf("want empty message, got %q", got)
				}
			},
		},
		{
			name:  "non-string message",
			input: `{"error":{"message":7}}`,
			checkFn: func(t *testing.T, resp *Response) {
				if got := resp.ErrorMessage(); got != "" {
					t.Errorf("want empty message, got %q", got)
				}
			},
		},
		{
			name:  "neither result nor error",
			input: `{}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.HasError() {
					t.Fatal("unexpected error field")
				}
				v, err := resp.ResultValue()
				if err != nil || v != nil {
					t.Errorf("want nil result, got %v (%v)", v, err)
				}
			},
		},
		{
			name:    "invalid JSON",
			input:   `{not json}`,
			wantErr: true,
		},
		{
			name:    "null document",
			input:   `null`,
			wantErr: true,
		},
		{
			name:    "array document",
			input:   `[1]`,
			wantErr: true,
		},
		{
			name:    "empty input",
			input:   "  \n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse([]byte(tt.input))

			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeResponse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, resp)
			}
		})
	}
}

func TestMarshalRequest_MatchesEncode(t *testing.T) {
	req := &Request{Method: "list", Params: Params{Version: Versions["chat"]}}
	data, err := MarshalRequest(req)
	if err != nil {
		t.Fatalf("MarshalRequest: %v", err)
	}
	if string(data) != `{"method":"list","params":{"version":1}}` {
		t.Errorf("unexpected payload: %s", data)
	}
}
