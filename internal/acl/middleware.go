package acl

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/aegisgate/aegisgate/internal/shared"
)

// Identity headers the gateway sets on forwarded requests. Services behind
// the gateway trust them because the gateway strips any client-supplied
// value before forwarding.
const (
	HeaderAuthenticatedUser = "X-Authenticated-User"
	HeaderValidatedToken    = "X-Validated-Token"
)

// Identify parses the gateway identity headers into the request context.
// Requests without an identity pass through unchanged; guards downstream
// decide whether one is required.
func Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.Header.Get(HeaderAuthenticatedUser))
		if username == "" {
			next.ServeHTTP(w, r)
			return
		}
		id := &shared.Identity{
			Username: username,
			Token:    strings.TrimSpace(r.Header.Get(HeaderValidatedToken)),
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
	})
}

// Middleware guards administrative graph endpoints with permission checks
// against the graph itself.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireAny ensures the caller identity resolved by Identify has at least
// one of the required permissions. Requests without an identity are
// rejected.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			id := shared.IdentityFromContext(r.Context())
			if id == nil || id.Username == "" {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			granted, err := m.Service.ResolveAllPermissions(r.Context(), id.Username)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("acl require any", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if hasAnyPermission(granted, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
