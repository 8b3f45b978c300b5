package protocol

import "encoding/json"

// Versions maps each API name to the protocol version sent in params.version.
var Versions = map[string]int{
	"chat":    1,
	"team":    1,
	"wallet":  1,
	"kvstore": 1,
}

// Request is the envelope written to the binary's stdin for "<api> api" calls.
type Request struct {
	Method string `json:"method"`
	Params Params `json:"params"`
}

// Params carries the protocol version and the (already formatted) method options.
type Params struct {
	Version int `json:"version"`
	Options any `json:"options,omitempty"`
}

// Response is the envelope the binary writes to stdout. Error holds the raw
// value of the "error" key, which may be any JSON value including null.
type Response struct {
	Error  json.RawMessage `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	hasError bool
}

// HasError reports whether the "error" key was present, whatever its value.
func (r *Response) HasError() bool {
	return r.hasError
}

// ErrorMessage is the string under error.message, or "" when the error is not
// an object or carries no string message.
func (r *Response) ErrorMessage() string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(r.Error, &obj); err != nil {
		return ""
	}
	var msg string
	if err := json.Unmarshal(obj["message"], &msg); err != nil {
		return ""
	}
	return msg
}

// ResultValue decodes the result field into a generic value. A missing result is nil.
func (r *Response) ResultValue() (any, error) {
	if len(r.Result) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r.Result, &v); err != nil {
		return nil, err
	}
	return v, nil
}
