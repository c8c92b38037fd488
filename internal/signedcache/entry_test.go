package signedcache_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/signedcache"
	_ "github.com/aegisgate/aegisgate/testing"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestBuildThenVerify(t *testing.T) {
	key := testKey(t)

	entry, err := signedcache.Build(key, "tok-1", "alice", []string{"b", "a"}, time.Minute)
	require.NoError(t, err)

	require.True(t, signedcache.Verify(&key.PublicKey, entry))
	require.Equal(t, []string{"a", "b"}, entry.Permissions)
}

func TestBuildDeduplicatesPermissions(t *testing.T) {
	key := testKey(t)

	entry, err := signedcache.Build(key, "tok-1", "alice", []string{"read", "write", "read", " ", "write"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"read", "write"}, entry.Permissions)
	require.True(t, signedcache.Verify(&key.PublicKey, entry))
}

func TestVerifyDetectsTamperOnEveryField(t *testing.T) {
	key := testKey(t)

	build := func() *signedcache.Entry {
		entry, err := signedcache.Build(key, "tok-1", "alice", []string{"read", "write"}, time.Minute)
		require.NoError(t, err)
		return entry
	}

	mutations := map[string]func(*signedcache.Entry){
		"token":      func(e *signedcache.Entry) { e.Token = "tok-2" },
		"username":   func(e *signedcache.Entry) { e.Username = "mallory" },
		"permission": func(e *signedcache.Entry) { e.Permissions[0] = "admin" },
		"issued_at":  func(e *signedcache.Entry) { e.IssuedAt = e.IssuedAt.Add(-time.Second) },
		"expires_at": func(e *signedcache.Entry) { e.ExpiresAt = e.ExpiresAt.Add(time.Hour) },
		"signature":  func(e *signedcache.Entry) { e.Signature = "AAAA" + e.Signature[4:] },
	}
	for field, mutate := range mutations {
		entry := build()
		mutate(entry)
		require.False(t, signedcache.Verify(&key.PublicKey, entry), "mutated %s must not verify", field)
	}
}

func TestVerifyRejectsForeignKeypair(t *testing.T) {
	key := testKey(t)
	other := testKey(t)

	entry, err := signedcache.Build(key, "tok-1", "alice", []string{"read"}, time.Minute)
	require.NoError(t, err)
	require.False(t, signedcache.Verify(&other.PublicKey, entry))
}

func TestIsExpiredBoundary(t *testing.T) {
	key := testKey(t)

	entry, err := signedcache.Build(key, "tok-1", "alice", nil, time.Minute)
	require.NoError(t, err)

	require.False(t, entry.IsExpired(entry.ExpiresAt.Add(-time.Second)))
	// Exactly at the expiry instant counts as expired.
	require.True(t, entry.IsExpired(entry.ExpiresAt))
	require.True(t, entry.IsExpired(entry.ExpiresAt.Add(time.Second)))
}

func TestHasPermission(t *testing.T) {
	key := testKey(t)

	entry, err := signedcache.Build(key, "tok-1", "alice", []string{"users.read", "users.write"}, time.Minute)
	require.NoError(t, err)

	require.True(t, entry.HasPermission("users.read"))
	require.False(t, entry.HasPermission("users.delete"))
}
