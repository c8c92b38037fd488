package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/aegisgate/aegisgate/internal/manifest"
	"github.com/aegisgate/aegisgate/internal/platform/httpx"
)

// Identity headers injected on forwarded requests. Inbound values are
// always stripped first so clients cannot spoof them.
const (
	HeaderAuthenticatedUser = "X-Authenticated-User"
	HeaderValidatedToken    = "X-Validated-Token"
	HeaderGatewaySource     = "X-Gateway-Source"
)

// GatewaySourceValue marks requests that passed through this gateway.
const GatewaySourceValue = "aegis-gateway"

// Handler enforces the auth pipeline on every inbound request and proxies
// allowed ones to their backend.
type Handler struct {
	pipeline *Pipeline
	proxies  map[string]*httputil.ReverseProxy
	logger   *slog.Logger
}

// NewHandler builds the proxying handler. One reverse proxy is prepared per
// backend project at construction time.
func NewHandler(pipeline *Pipeline, logger *slog.Logger) (*Handler, error) {
	proxies := make(map[string]*httputil.ReverseProxy)
	for _, m := range pipeline.router.Manifests() {
		target, err := url.Parse(m.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("gateway: backend url for %s: %w", m.Project, err)
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			if logger != nil {
				logger.Error("proxy backend", slog.String("project", m.Project), slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "")
		}
		proxies[m.Project] = proxy
	}
	return &Handler{pipeline: pipeline, proxies: proxies, logger: logger}, nil
}

// ServeHTTP applies the auth decision and forwards or rejects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	decision := h.pipeline.Authorize(r)
	if !decision.Allow {
		switch decision.Status {
		case http.StatusForbidden:
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		default:
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		}
		return
	}

	backend := decision.Backend
	if backend == nil {
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "")
		return
	}
	proxy, ok := h.proxies[backend.Project]
	if !ok {
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "")
		return
	}

	stripIdentityHeaders(r)
	if !decision.Public {
		r.Header.Set(HeaderAuthenticatedUser, decision.Username)
		r.Header.Set(HeaderValidatedToken, decision.Token)
		r.Header.Set(HeaderGatewaySource, GatewaySourceValue)
	}
	proxy.ServeHTTP(w, r)
}

// BackendFor exposes the resolved manifest for a request path, used by
// startup checks and tests.
func (h *Handler) BackendFor(path, method string) *manifest.Manifest {
	backend, _ := h.pipeline.router.Lookup(path, method)
	return backend
}

func stripIdentityHeaders(r *http.Request) {
	r.Header.Del(HeaderAuthenticatedUser)
	r.Header.Del(HeaderValidatedToken)
	r.Header.Del(HeaderGatewaySource)
}
