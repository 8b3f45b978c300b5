package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/keybridge/internal/auth"
)

// authMiddleware resolves the bearer token to a principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := s.auth.Authenticate(token)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !principal.Has(scope) {
				s.writeError(w, http.StatusForbidden, "insufficient scope: requires "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireCallScope admits call:rw holders and call:<api> holders for their API.
func (s *Server) requireCallScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api := chi.URLParam(r, "api")
		principal, _ := auth.PrincipalFromContext(r.Context())
		if !principal.CanCall(api) {
			s.writeError(w, http.StatusForbidden, "insufficient scope: requires "+auth.ScopeCallRW+" or "+auth.CallScope(api))
			return
		}
		next.ServeHTTP(w, r)
	})
}
