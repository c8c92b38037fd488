package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/gateway"
	"github.com/aegisgate/aegisgate/internal/issuer"
	"github.com/aegisgate/aegisgate/internal/keys"
	"github.com/aegisgate/aegisgate/internal/manifest"
	"github.com/aegisgate/aegisgate/internal/observability"
	"github.com/aegisgate/aegisgate/internal/shared"
	"github.com/aegisgate/aegisgate/internal/signedcache"
	_ "github.com/aegisgate/aegisgate/testing"
)

type stubIssuer struct {
	calls      int
	validation issuer.Validation
	err        error
}

func (s *stubIssuer) Validate(ctx context.Context, token string) (issuer.Validation, error) {
	s.calls++
	if s.err != nil {
		return issuer.Validation{}, s.err
	}
	return s.validation, nil
}

type stubACL struct {
	calls int
	perms []string
	err   error
}

func (s *stubACL) UserPermissions(ctx context.Context, username string) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.perms, nil
}

type fixture struct {
	pipeline *gateway.Pipeline
	store    *signedcache.Store
	provider *keys.Provider
	issuer   *stubIssuer
	acl      *stubACL
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := signedcache.NewStore(client)

	provider, err := keys.Load(t.TempDir(), "gateway", 2048)
	require.NoError(t, err)

	m, err := manifest.New("service1", "http://127.0.0.1:9001", "1.0", []manifest.Route{
		{Path: "/app1/admin", Method: "GET", Permission: "SERVICE1_ADMIN_ACCESS"},
		{Path: "/app1", Method: "GET", Permission: "SERVICE1_READ"},
		{Path: "/health", Method: "GET", Public: true},
	})
	require.NoError(t, err)

	iss := &stubIssuer{validation: issuer.Validation{Valid: true, Username: "alice", ExpiresAt: time.Now().Add(time.Hour)}}
	aclStub := &stubACL{perms: []string{"SERVICE1_READ", "SERVICE1_ADMIN_ACCESS"}}

	pipeline := gateway.NewPipeline(gateway.PipelineParams{
		Router:   gateway.NewRouter(m),
		Store:    store,
		Provider: provider,
		Issuer:   iss,
		ACL:      aclStub,
		CacheTTL: 30 * time.Minute,
		Metrics:  observability.NewMetrics(),
	})
	return &fixture{pipeline: pipeline, store: store, provider: provider, issuer: iss, acl: aclStub}
}

func request(method, path, token string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestMissingTokenRejected(t *testing.T) {
	f := newFixture(t)

	d := f.pipeline.Authorize(request(http.MethodGet, "/app1", ""))
	require.False(t, d.Allow)
	require.Equal(t, http.StatusUnauthorized, d.Status)
}

func TestMalformedAuthorizationHeaderRejected(t *testing.T) {
	f := newFixture(t)

	for _, header := range []string{"Basic abc", "Bearer", "Bearer   ", "tok-1"} {
		r := httptest.NewRequest(http.MethodGet, "/app1", nil)
		r.Header.Set("Authorization", header)
		d := f.pipeline.Authorize(r)
		require.False(t, d.Allow, "header %q must be rejected", header)
		require.Equal(t, http.StatusUnauthorized, d.Status)
	}
}

func TestPublicPathForwardsWithoutIdentity(t *testing.T) {
	f := newFixture(t)

	d := f.pipeline.Authorize(request(http.MethodGet, "/health", ""))
	require.True(t, d.Allow)
	require.True(t, d.Public)
	require.Empty(t, d.Username)
	require.Zero(t, f.issuer.calls)
}

func TestCacheMissValidatesAndPopulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.pipeline.Authorize(request(http.MethodGet, "/app1", "tok-1"))
	require.True(t, d.Allow)
	require.Equal(t, "alice", d.Username)
	require.Equal(t, 1, f.issuer.calls)
	require.Equal(t, 1, f.acl.calls)

	// Exactly one entry written, self-verifying.
	entry, err := f.store.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, signedcache.Verify(f.provider.Public(), entry))
	require.Equal(t, "alice", entry.Username)
}

func TestCacheHitSkipsUpstream(t *testing.T) {
	f := newFixture(t)

	first := f.pipeline.Authorize(request(http.MethodGet, "/app1", "tok-1"))
	require.True(t, first.Allow)

	second := f.pipeline.Authorize(request(http.MethodGet, "/app1/admin", "tok-1"))
	require.True(t, second.Allow)
	// The second decision came entirely from the cache.
	require.Equal(t, 1, f.issuer.calls)
	require.Equal(t, 1, f.acl.calls)
}

func TestCacheHitLackingPermissionIsAuthoritative403(t *testing.T) {
	f := newFixture(t)
	f.acl.perms = []string{"SERVICE1_READ"}

	first := f.pipeline.Authorize(request(http.MethodGet, "/app1", "tok-1"))
	require.True(t, first.Allow)

	d := f.pipeline.Authorize(request(http.MethodGet, "/app1/admin", "tok-1"))
	require.False(t, d.Allow)
	require.Equal(t, http.StatusForbidden, d.Status)
	// No re-validation: the cache snapshot is authoritative.
	require.Equal(t, 1, f.issuer.calls)
	require.Equal(t, 1, f.acl.calls)
}

func TestUnmappedPathDenied(t *testing.T) {
	f := newFixture(t)

	d := f.pipeline.Authorize(request(http.MethodGet, "/unknown", "tok-1"))
	require.False(t, d.Allow)
	require.Equal(t, http.StatusForbidden, d.Status)
}

func TestTamperedEntryDeletedAndRetriedAsMiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.pipeline.Authorize(request(http.MethodGet, "/app1", "tok-1"))
	require.True(t, first.Allow)

	// Tamper with the stored entry: swap the username.
	entry, err := f.store.Get(ctx, "tok-1")
	require.NoError(t, err)
	entry.Username = "mallory"
	require.NoError(t, f.store.Set(ctx, entry))

	d := f.pipeline.Authorize(request(http.MethodGet, "/app1", "tok-1"))
	require.True(t, d.Allow)
	require.Equal(t, "alice", d.Username)
	// The tampered entry forced one more round trip.
	require.Equal(t, 2, f.issuer.calls)

	// And the rebuilt entry verifies again.
	rebuilt, err := f.store.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, signedcache.Verify(f.provider.Public(), rebuilt))
	require.Equal(t, "alice", rebuilt.Username)
}

func TestInvalidTokenRejected(t *testing.T) {
	f := newFixture(t)
	f.issuer.validation = issuer.Validation{Valid: false}

	d := f.pipeline.Authorize(request(http.MethodGet, "/app1", "bogus"))
	require.False(t, d.Allow)
	require.Equal(t, http.StatusUnauthorized, d.Status)
}

func TestIssuerUnreachableFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.issuer.err = shared.ErrUpstreamUnavailable

	d := f.pipeline.Authorize(request(http.MethodGet, "/app1", "tok-1"))
	require.False(t, d.Allow)
	require.Equal(t, http.StatusUnauthorized, d.Status)
}

func TestACLUnreachableFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.acl.err = shared.ErrUpstreamUnavailable

	d := f.pipeline.Authorize(request(http.MethodGet, "/app1", "tok-1"))
	require.False(t, d.Allow)
	require.Equal(t, http.StatusForbidden, d.Status)
}

func TestProactiveInvalidationBeatsTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.pipeline.Authorize(request(http.MethodGet, "/app1/admin", "tok-1"))
	require.True(t, first.Allow)

	// Role loses its permissions: the ACL now resolves an empty set and the
	// user's cache entries are proactively deleted.
	f.acl.perms = nil
	_, err := f.store.DeleteForUser(ctx, "alice")
	require.NoError(t, err)

	d := f.pipeline.Authorize(request(http.MethodGet, "/app1/admin", "tok-1"))
	require.False(t, d.Allow)
	require.Equal(t, http.StatusForbidden, d.Status)
	require.Equal(t, 2, f.issuer.calls)
}

func TestMissWithoutRequiredPermissionStillCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acl.perms = []string{"SERVICE1_READ"}

	d := f.pipeline.Authorize(request(http.MethodGet, "/app1/admin", "tok-1"))
	require.False(t, d.Allow)
	require.Equal(t, http.StatusForbidden, d.Status)

	// The snapshot is cached anyway so the next request is a hit.
	entry, err := f.store.Get(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, []string{"SERVICE1_READ"}, entry.Permissions)

	allowed := f.pipeline.Authorize(request(http.MethodGet, "/app1", "tok-1"))
	require.True(t, allowed.Allow)
	require.Equal(t, 1, f.issuer.calls)
}
