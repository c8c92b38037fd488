package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aegisgate/aegisgate/internal/keys"
	"github.com/aegisgate/aegisgate/internal/manifest"
	"github.com/aegisgate/aegisgate/internal/observability"
	"github.com/aegisgate/aegisgate/internal/shared"
	"github.com/aegisgate/aegisgate/internal/signedcache"
)

// Decision is the outcome of the auth pipeline for one request.
type Decision struct {
	Allow    bool
	Status   int // 401 or 403 when !Allow
	Public   bool
	Username string
	Token    string
	Backend  *manifest.Manifest
}

// Pipeline makes the per-request auth decision: extract token, consult the
// signed cache, fall back to issuer validation plus ACL resolution, and
// populate the cache. Every uncertain path denies.
type Pipeline struct {
	router   *Router
	store    *signedcache.Store
	provider *keys.Provider // gateway signing identity
	issuer   IssuerClient
	acl      ACLClient
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// PipelineParams groups Pipeline dependencies.
type PipelineParams struct {
	Router   *Router
	Store    *signedcache.Store
	Provider *keys.Provider
	Issuer   IssuerClient
	ACL      ACLClient
	CacheTTL time.Duration
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// NewPipeline constructs a Pipeline.
func NewPipeline(p PipelineParams) *Pipeline {
	if p.CacheTTL <= 0 {
		p.CacheTTL = 30 * time.Minute
	}
	return &Pipeline{
		router:   p.Router,
		store:    p.Store,
		provider: p.Provider,
		issuer:   p.Issuer,
		acl:      p.ACL,
		cacheTTL: p.CacheTTL,
		logger:   p.Logger,
		metrics:  p.Metrics,
	}
}

// Authorize runs the decision pipeline for one request.
func (p *Pipeline) Authorize(r *http.Request) Decision {
	ctx := r.Context()
	backend, route := p.router.Lookup(r.URL.Path, r.Method)

	// Public paths forward unmodified, no identity attached.
	if route.Public {
		p.record(observability.DecisionAllow)
		return Decision{Allow: true, Public: true, Backend: backend}
	}

	token, ok := bearerToken(r)
	if !ok {
		p.record(observability.DecisionUnauthenticated)
		return Decision{Status: http.StatusUnauthorized}
	}

	required := route.Permission

	entry, err := p.store.Get(ctx, token)
	if err == nil {
		p.metrics.RecordCacheLookup(true)
		decision, authoritative := p.decideFromCache(ctx, entry, required, backend)
		if authoritative {
			return decision
		}
		// Tampered or expired entry: deleted above, retry once as a miss.
	} else {
		if !errors.Is(err, shared.ErrNotFound) {
			p.log("cache read", err)
		}
		p.metrics.RecordCacheLookup(false)
	}

	return p.decideFromUpstream(ctx, token, required, backend)
}

// decideFromCache evaluates a cache hit. The second return value is false
// when the entry could not be trusted and the caller must re-run the miss
// path.
func (p *Pipeline) decideFromCache(ctx context.Context, entry *signedcache.Entry, required string, backend *manifest.Manifest) (Decision, bool) {
	if !signedcache.Verify(p.provider.Public(), entry) {
		// Tamper: never authoritative, in either direction.
		p.log("cache tamper", shared.ErrCacheTamper)
		p.record(observability.DecisionTamper)
		if err := p.store.Delete(ctx, entry.Token); err != nil {
			p.log("delete tampered entry", err)
		}
		return Decision{}, false
	}
	if entry.IsExpired(time.Now().UTC()) {
		if err := p.store.Delete(ctx, entry.Token); err != nil {
			p.log("delete expired entry", err)
		}
		return Decision{}, false
	}
	if entry.HasPermission(required) {
		p.record(observability.DecisionAllow)
		return Decision{Allow: true, Username: entry.Username, Token: entry.Token, Backend: backend}, true
	}
	// The cache encodes an authoritative permission snapshot; no
	// re-validation on a clean miss of the required permission.
	p.record(observability.DecisionForbidden)
	return Decision{Status: http.StatusForbidden, Username: entry.Username}, true
}

func (p *Pipeline) decideFromUpstream(ctx context.Context, token, required string, backend *manifest.Manifest) Decision {
	validation, err := p.issuer.Validate(ctx, token)
	if err != nil {
		p.log("issuer validate", err)
		p.record(observability.DecisionUnauthenticated)
		return Decision{Status: http.StatusUnauthorized}
	}
	if !validation.Valid {
		p.record(observability.DecisionUnauthenticated)
		return Decision{Status: http.StatusUnauthorized}
	}

	perms, err := p.acl.UserPermissions(ctx, validation.Username)
	if err != nil {
		p.log("acl resolve", err)
		p.record(observability.DecisionForbidden)
		return Decision{Status: http.StatusForbidden, Username: validation.Username}
	}

	entry, err := signedcache.Build(p.provider.Signer(), token, validation.Username, perms, p.cacheTTL)
	if err != nil {
		p.log("build cache entry", err)
		p.record(observability.DecisionForbidden)
		return Decision{Status: http.StatusForbidden, Username: validation.Username}
	}
	if err := p.store.Set(ctx, entry); err != nil {
		// The decision stands even if the write fails; the next request
		// re-validates.
		p.log("store cache entry", err)
	}

	if !entry.HasPermission(required) {
		p.record(observability.DecisionForbidden)
		return Decision{Status: http.StatusForbidden, Username: validation.Username}
	}
	p.record(observability.DecisionAllow)
	return Decision{Allow: true, Username: validation.Username, Token: token, Backend: backend}
}

func (p *Pipeline) record(outcome string) {
	p.metrics.RecordDecision(outcome)
}

func (p *Pipeline) log(msg string, err error) {
	if p.logger != nil {
		p.logger.Warn(msg, slog.Any("error", err))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
