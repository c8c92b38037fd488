package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegisgate/aegisgate/internal/acl"
	"github.com/aegisgate/aegisgate/internal/gateway"
	"github.com/aegisgate/aegisgate/internal/issuer"
	"github.com/aegisgate/aegisgate/internal/keyring"
	"github.com/aegisgate/aegisgate/internal/keys"
	"github.com/aegisgate/aegisgate/internal/manifest"
	"github.com/aegisgate/aegisgate/internal/observability"
	"github.com/aegisgate/aegisgate/internal/shared"
	"github.com/aegisgate/aegisgate/internal/signedcache"
	_ "github.com/aegisgate/aegisgate/testing"
)

type userRepo struct {
	user *issuer.User
}

func (r *userRepo) FindByUsername(ctx context.Context, username string) (*issuer.User, error) {
	if r.user != nil && r.user.Username == username {
		u := *r.user
		return &u, nil
	}
	return nil, shared.ErrNotFound
}

func (r *userRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	return nil
}

type storeInvalidator struct {
	store *signedcache.Store
}

func (i storeInvalidator) InvalidateUser(ctx context.Context, username string) error {
	_, err := i.store.DeleteForUser(ctx, username)
	return err
}

func (i storeInvalidator) InvalidateAll(ctx context.Context) error {
	_, err := i.store.DeleteAll(ctx)
	return err
}

type stack struct {
	gateway    *httptest.Server
	aclService *acl.Service
	token      string
	backendHdr http.Header
}

// newStack wires the three services over real HTTP plus a recording backend.
func newStack(t *testing.T, localValidation bool) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now().UTC()
	repo := &userRepo{user: &issuer.User{
		ID: 1, Username: "alice", PasswordHash: string(hash),
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}}

	issuerKeys, err := keys.Load(t.TempDir(), "issuer", 2048)
	require.NoError(t, err)
	issuerService := issuer.NewService(repo, issuerKeys, time.Hour, logger)
	issuerRouter := chi.NewRouter()
	issuerRouter.Route("/auth", issuer.NewHandler(logger, issuerService).MountRoutes)
	issuerServer := httptest.NewServer(issuerRouter)
	t.Cleanup(issuerServer.Close)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	store := signedcache.NewStore(redisClient)

	aclService := acl.NewService(acl.NewMemoryRepository(), storeInvalidator{store: store}, logger)
	aclRouter := chi.NewRouter()
	aclRouter.Route("/acl", acl.NewHandler(logger, aclService).MountRoutes)
	aclServer := httptest.NewServer(aclRouter)
	t.Cleanup(aclServer.Close)

	s := &stack{aclService: aclService, backendHdr: http.Header{}}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.backendHdr = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	ctx := context.Background()
	m, err := manifest.New("service1", backend.URL, "1.0", []manifest.Route{
		{Path: "/app1/admin", Method: "GET", Permission: "SERVICE1_ADMIN_ACCESS"},
		{Path: "/app1", Method: "GET", Permission: "SERVICE1_READ"},
		{Path: "/health", Method: "GET", Public: true},
	})
	require.NoError(t, err)
	require.NoError(t, aclService.RegisterManifest(ctx, m))

	_, err = aclService.CreateGroup(ctx, "readers")
	require.NoError(t, err)
	_, err = aclService.CreateRole(ctx, "reader", "read-only access")
	require.NoError(t, err)
	require.NoError(t, aclService.AddUserToGroup(ctx, "alice", "readers"))
	require.NoError(t, aclService.AssignRoleToGroup(ctx, "readers", "reader"))
	result, err := aclService.AssignPermissionsToRole(ctx, "reader", "service1", []string{"SERVICE1_READ"}, "seed")
	require.NoError(t, err)
	require.Empty(t, result.Failed)

	gatewayKeys, err := keys.Load(t.TempDir(), "gateway", 2048)
	require.NoError(t, err)

	var issuerClient gateway.IssuerClient = gateway.NewIssuerClient(issuerServer.URL, time.Second)
	if localValidation {
		ring := keyring.NewClient(redisClient, &http.Client{Timeout: time.Second}, time.Hour,
			keyring.Source{Name: "issuer", URL: issuerServer.URL + "/auth/public-key"})
		issuerClient = gateway.NewLocalValidator(ring, "issuer")
	}

	pipeline := gateway.NewPipeline(gateway.PipelineParams{
		Router:   gateway.NewRouter(m),
		Store:    store,
		Provider: gatewayKeys,
		Issuer:   issuerClient,
		ACL:      gateway.NewACLClient(aclServer.URL, time.Second),
		Logger:   logger,
		Metrics:  observability.NewMetrics(),
	})
	handler, err := gateway.NewHandler(pipeline, logger)
	require.NoError(t, err)
	gatewayServer := httptest.NewServer(handler)
	t.Cleanup(gatewayServer.Close)
	s.gateway = gatewayServer

	// Login through the issuer the way a client would.
	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "password123"})
	resp, err := http.Post(issuerServer.URL+"/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	require.NotEmpty(t, login.Token)
	s.token = login.Token

	return s
}

func (s *stack) get(t *testing.T, path string, withToken bool) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.gateway.URL+path, nil)
	require.NoError(t, err)
	if withToken {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestLoginThenAccessThroughGateway(t *testing.T) {
	s := newStack(t, false)

	require.Equal(t, http.StatusOK, s.get(t, "/app1", true))
	require.Equal(t, "alice", s.backendHdr.Get(gateway.HeaderAuthenticatedUser))
	require.Equal(t, gateway.GatewaySourceValue, s.backendHdr.Get(gateway.HeaderGatewaySource))

	// Granted permission covers /app1 only.
	require.Equal(t, http.StatusForbidden, s.get(t, "/app1/admin", true))
	require.Equal(t, http.StatusUnauthorized, s.get(t, "/app1", false))
	require.Equal(t, http.StatusOK, s.get(t, "/health", false))
}

func TestGraphMutationPropagatesThroughCache(t *testing.T) {
	s := newStack(t, false)
	ctx := context.Background()

	require.Equal(t, http.StatusOK, s.get(t, "/app1", true))

	// Strip the reader role of everything; invalidation must beat the TTL.
	result, err := s.aclService.ReplaceRolePermissions(ctx, "reader", "service1", nil)
	require.NoError(t, err)
	require.Empty(t, result.Failed)

	require.Equal(t, http.StatusForbidden, s.get(t, "/app1", true))
}

func TestLocalValidationEndToEnd(t *testing.T) {
	s := newStack(t, true)

	require.Equal(t, http.StatusOK, s.get(t, "/app1", true))
	require.Equal(t, "alice", s.backendHdr.Get(gateway.HeaderAuthenticatedUser))

	// A forged token signed by nobody the keyring knows is rejected.
	s.token = s.token + "tampered"
	require.Equal(t, http.StatusUnauthorized, s.get(t, "/app1", true))
}
