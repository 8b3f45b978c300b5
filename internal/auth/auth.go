// Package auth resolves gateway bearer tokens to scoped principals.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Scopes understood by the gateway. A token may also hold "call:<api>",
// which allows calls to that one API only.
const (
	ScopeAll       = "*"
	ScopeCallRW    = "call:rw"
	ScopeJournalRO = "journal:ro"
	ScopeEventsRO  = "events:ro"

	callAPIPrefix = "call:"
)

// CallScope returns the scope that allows calls to a single API.
func CallScope(api string) string {
	return callAPIPrefix + api
}

// ValidScope reports whether s is a scope the gateway can enforce.
func ValidScope(s string) bool {
	switch s {
	case ScopeAll, ScopeCallRW, ScopeJournalRO, ScopeEventsRO:
		return true
	}
	api, ok := strings.CutPrefix(s, callAPIPrefix)
	return ok && api != "" && !strings.ContainsAny(api, ":/ ")
}

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is an authenticated caller.
type Principal struct {
	Scopes map[string]bool
}

// Has reports whether p holds scope, directly or through "*".
func (p Principal) Has(scope string) bool {
	return p.Scopes[ScopeAll] || p.Scopes[scope]
}

// CanCall reports whether p may dispatch calls to api.
func (p Principal) CanCall(api string) bool {
	return p.Has(ScopeCallRW) || p.Scopes[CallScope(api)]
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("invalid Authorization header format")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

// Authenticator holds the configured credentials.
type Authenticator struct {
	apiKey string
	tokens []TokenConfig
}

// NewAuthenticator rejects tokens carrying scopes it cannot enforce.
func NewAuthenticator(apiKey string, tokens []TokenConfig) (*Authenticator, error) {
	for i, t := range tokens {
		for _, s := range t.Scopes {
			if s = strings.TrimSpace(s); s != "" && !ValidScope(s) {
				return nil, fmt.Errorf("token %d: unknown scope %q", i, s)
			}
		}
	}
	return &Authenticator{apiKey: apiKey, tokens: tokens}, nil
}

// Authenticate resolves a presented token. The api key grants every scope.
func (a *Authenticator) Authenticate(presented string) (Principal, bool) {
	if tokenEqual(presented, a.apiKey) {
		return Principal{Scopes: map[string]bool{ScopeAll: true}}, true
	}
	for _, t := range a.tokens {
		if tokenEqual(presented, t.Token) {
			return Principal{Scopes: expandScopes(t.Scopes)}, true
		}
	}
	return Principal{}, false
}

func tokenEqual(presented, configured string) bool {
	if presented == "" || configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

// expandScopes trims scopes and adds the read scopes implied by any call scope:
// a caller that may issue calls may also watch them.
func expandScopes(scopes []string) map[string]bool {
	out := make(map[string]bool, len(scopes)+2)
	canCall := false
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = true
		if strings.HasPrefix(s, callAPIPrefix) {
			canCall = true
		}
	}
	if canCall {
		out[ScopeJournalRO] = true
		out[ScopeEventsRO] = true
	}
	return out
}
