package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const DomainKey contextKey = "domain"

// Domain returns the validated domain stored by RequireDomain.
func Domain(ctx context.Context) string {
	d, _ := ctx.Value(DomainKey).(string)
	return d
}

// RequireDomain rejects requests whose {domain} URL parameter is not
// supported before any handler runs.
func RequireDomain(supported func(string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			domain := chi.URLParam(r, "domain")
			if domain == "" || !supported(domain) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid sport"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), DomainKey, domain)))
		})
	}
}
