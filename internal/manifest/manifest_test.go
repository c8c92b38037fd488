package manifest_test

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/manifest"
	_ "github.com/aegisgate/aegisgate/testing"
)

func testManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.New("service1", "http://127.0.0.1:9001", "1.0", []manifest.Route{
		{Path: "/app1/admin", Method: "GET", Permission: "service1.admin.access"},
		{Path: "/app1", Method: "GET", Permission: "service1.read"},
		{Path: "/app1", Method: "POST", Permission: "service1.write"},
		{Path: "/health", Method: "GET", Public: true},
	})
	require.NoError(t, err)
	return m
}

func TestLookupLongestPrefixWins(t *testing.T) {
	m := testManifest(t)

	require.Equal(t, "service1.admin.access", m.Lookup("/app1/admin/users", http.MethodGet).Permission)
	require.Equal(t, "service1.read", m.Lookup("/app1/items", http.MethodGet).Permission)
	require.Equal(t, "service1.write", m.Lookup("/app1/items", http.MethodPost).Permission)
}

func TestLookupUnmappedGetsDenySentinel(t *testing.T) {
	m := testManifest(t)

	route := m.Lookup("/somewhere/else", http.MethodGet)
	require.Equal(t, manifest.DenySentinel, route.Permission)
	require.False(t, route.Public)

	// Method mismatch on a mapped path is also unmapped.
	require.Equal(t, manifest.DenySentinel, m.Lookup("/app1", http.MethodDelete).Permission)
}

func TestLookupRespectsSegmentBoundary(t *testing.T) {
	m := testManifest(t)
	require.Equal(t, manifest.DenySentinel, m.Lookup("/app1beta", http.MethodGet).Permission)
}

func TestIsPublic(t *testing.T) {
	m := testManifest(t)
	require.True(t, m.IsPublic("/health", http.MethodGet))
	require.False(t, m.IsPublic("/app1", http.MethodGet))
}

func TestPermissionNames(t *testing.T) {
	m := testManifest(t)
	require.Equal(t, []string{"service1.admin.access", "service1.read", "service1.write"}, m.PermissionNames())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	payload := `{
		"project": "service1",
		"base_url": "http://127.0.0.1:9001",
		"version": "1.0",
		"routes": [
			{"path": "/app1", "method": "get", "permission": "service1.read"},
			{"path": "/health", "method": "GET", "public": true}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	m, err := manifest.Load(path)
	require.NoError(t, err)
	require.Equal(t, "service1", m.Project)
	require.Equal(t, "service1.read", m.Lookup("/app1", http.MethodGet).Permission)
}

func TestNewRejectsNonPublicRouteWithoutPermission(t *testing.T) {
	_, err := manifest.New("service1", "", "", []manifest.Route{
		{Path: "/app1", Method: "GET"},
	})
	require.Error(t, err)
}
