package keys_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/keys"
	_ "github.com/aegisgate/aegisgate/testing"
)

func TestLoadGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()

	first, err := keys.Load(dir, "issuer", 2048)
	require.NoError(t, err)
	require.NotNil(t, first.Signer())

	// A second load must return the same keypair, not a fresh one.
	second, err := keys.Load(dir, "issuer", 2048)
	require.NoError(t, err)
	require.Equal(t, first.Signer().D, second.Signer().D)
	require.Equal(t, first.Public().N, second.Public().N)
}

func TestLoadEnforcesMinimumKeySize(t *testing.T) {
	dir := t.TempDir()

	p, err := keys.Load(dir, "gateway", 512)
	require.NoError(t, err)
	require.GreaterOrEqual(t, p.Public().N.BitLen(), keys.MinKeyBits)
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	dir := t.TempDir()

	p, err := keys.Load(dir, "issuer", 2048)
	require.NoError(t, err)

	pemBytes, err := p.PublicKeyPEM()
	require.NoError(t, err)

	pub, err := keys.ParsePublicPEM(pemBytes)
	require.NoError(t, err)
	require.Equal(t, p.Public().N, pub.N)
	require.Equal(t, p.Public().E, pub.E)
}

func TestParsePublicPEMRejectsGarbage(t *testing.T) {
	_, err := keys.ParsePublicPEM([]byte("not a key"))
	require.Error(t, err)
}
