// Package format rewrites option and result objects between Go-side
// camelCase keys and the snake_case / kebab-case keys the keybase binary uses.
package format

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Formatter converts request options and response results for one API.
type Formatter interface {
	FormatOptions(options any, api string) (any, error)
	FormatResult(result any, api, method string) any
}

// Default is the Formatter backed by Options and Result.
type Default struct{}

func (Default) FormatOptions(options any, api string) (any, error) { return Options(options, api) }

func (Default) FormatResult(result any, api, method string) any { return Result(result, api, method) }

// kebabAPIs take kebab-case option keys.
var kebabAPIs = map[string]bool{
	"wallet": true,
}

// opaqueKeys lists, per API, result keys whose subtree is passed through untouched.
// Their children are keyed by data (emoji, usernames), not by field names.
var opaqueKeys = map[string]map[string]bool{
	"chat": {
		"reactions": true,
		"emojis":    true,
	},
}

// Options converts options to a generic JSON value and rewrites its object
// keys to the case the API expects. nil stays nil.
func Options(options any, api string) (any, error) {
	if options == nil {
		return nil, nil
	}

	data, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("normalize options: %w", err)
	}

	sep := '_'
	if kebabAPIs[api] {
		sep = '-'
	}
	return rewriteKeys(generic, func(k string) string { return fromCamel(k, sep) }, nil), nil
}

// Result rewrites the object keys of a decoded result to camelCase.
func Result(result any, api, method string) any {
	return rewriteKeys(result, toCamel, opaqueKeys[api])
}

func rewriteKeys(v any, rename func(string) string, opaque map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if opaque[k] {
				out[rename(k)] = child
				continue
			}
			out[rename(k)] = rewriteKeys(child, rename, opaque)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = rewriteKeys(child, rename, opaque)
		}
		return out
	default:
		return v
	}
}

// fromCamel turns "convID" into "conv_id" (or "conv-id" with sep '-').
func fromCamel(s string, sep rune) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteRune(sep)
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// toCamel turns "conv_id" and "conv-id" into "convId". Keys without a
// separator are returned unchanged.
func toCamel(s string) string {
	if !strings.ContainsAny(s, "_-") {
		return s
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' })
	if len(parts) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}
