package issuer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegisgate/aegisgate/internal/issuer"
	"github.com/aegisgate/aegisgate/internal/keys"
	"github.com/aegisgate/aegisgate/internal/shared"
	_ "github.com/aegisgate/aegisgate/testing"
)

type stubRepo struct {
	user    *issuer.User
	touched bool
}

func (s *stubRepo) FindByUsername(ctx context.Context, username string) (*issuer.User, error) {
	if s.user == nil || s.user.Username != username {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	s.touched = true
	return nil
}

func newService(t *testing.T, repo issuer.Repository) (*issuer.Service, *keys.Provider) {
	t.Helper()
	provider, err := keys.Load(t.TempDir(), "issuer", 2048)
	require.NoError(t, err)
	return issuer.NewService(repo, provider, time.Hour, nil), provider
}

func activeUser(t *testing.T, username, password string) *issuer.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return &issuer.User{ID: 1, Username: username, PasswordHash: string(hash), IsActive: true}
}

func TestLoginAndValidate(t *testing.T) {
	repo := &stubRepo{user: activeUser(t, "alice", "correcthorse")}
	svc, _ := newService(t, repo)

	token, err := svc.Login(context.Background(), "alice", "correcthorse")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, repo.touched)

	result := svc.Validate(context.Background(), token)
	require.True(t, result.Valid)
	require.Equal(t, "alice", result.Username)
	require.WithinDuration(t, time.Now().Add(time.Hour), result.ExpiresAt, time.Minute)
}

func TestLoginWrongPassword(t *testing.T) {
	repo := &stubRepo{user: activeUser(t, "alice", "correcthorse")}
	svc, _ := newService(t, repo)

	token, err := svc.Login(context.Background(), "alice", "wrongpassword")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	require.Empty(t, token)
}

func TestLoginUnknownUser(t *testing.T) {
	svc, _ := newService(t, &stubRepo{})

	_, err := svc.Login(context.Background(), "ghost", "whatever123")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginInactiveUser(t *testing.T) {
	user := activeUser(t, "alice", "correcthorse")
	user.IsActive = false
	svc, _ := newService(t, &stubRepo{user: user})

	_, err := svc.Login(context.Background(), "alice", "correcthorse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestValidateForeignKeypair(t *testing.T) {
	repo := &stubRepo{user: activeUser(t, "alice", "correcthorse")}
	svc, _ := newService(t, repo)
	other, _ := newService(t, repo)

	token, err := svc.Login(context.Background(), "alice", "correcthorse")
	require.NoError(t, err)

	// A token signed by a different keypair must not validate.
	result := other.Validate(context.Background(), token)
	require.False(t, result.Valid)
	require.Empty(t, result.Username)
}

func TestValidateGarbage(t *testing.T) {
	svc, _ := newService(t, &stubRepo{})
	require.False(t, svc.Validate(context.Background(), "not-a-token").Valid)
	require.False(t, svc.Validate(context.Background(), "").Valid)
}

func TestValidateWithDistributedKey(t *testing.T) {
	repo := &stubRepo{user: activeUser(t, "alice", "correcthorse")}
	svc, provider := newService(t, repo)

	token, err := svc.Login(context.Background(), "alice", "correcthorse")
	require.NoError(t, err)

	pemBytes, err := provider.PublicKeyPEM()
	require.NoError(t, err)
	pub, err := keys.ParsePublicPEM(pemBytes)
	require.NoError(t, err)

	result := issuer.ValidateWithKey(pub, token)
	require.True(t, result.Valid)
	require.Equal(t, "alice", result.Username)
}
