package issuer

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegisgate/aegisgate/internal/keys"
	"github.com/aegisgate/aegisgate/internal/shared"
)

const issuerName = "aegis-issuer"

// Service mints and validates RS256 tokens.
type Service struct {
	repo     Repository
	provider *keys.Provider
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, provider *keys.Provider, tokenTTL time.Duration, logger *slog.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &Service{repo: repo, provider: provider, tokenTTL: tokenTTL, logger: logger}
}

// Login verifies credentials and mints a signed token. Every failure path
// collapses to ErrInvalidCredentials so callers cannot probe for accounts.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return "", shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", shared.ErrInvalidCredentials
	}

	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    issuerName,
		Subject:   user.Username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.provider.Signer())
	if err != nil {
		return "", err
	}

	if err := s.repo.TouchLastLogin(ctx, user.ID, now); err != nil && s.logger != nil {
		s.logger.Warn("touch last login", slog.Any("error", err))
	}
	return token, nil
}

// Validate parses and verifies a presented token against the issuer's own
// public key. Any parse or signature error fails closed.
func (s *Service) Validate(ctx context.Context, token string) Validation {
	return ValidateWithKey(s.provider.Public(), token)
}

// ValidateWithKey verifies a token against an explicit public key. Shared
// with consumers that fetched the issuer key through the keyring.
func ValidateWithKey(pub *rsa.PublicKey, token string) Validation {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithIssuer(issuerName))
	if err != nil || !parsed.Valid {
		return Validation{}
	}
	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return Validation{Valid: true, Username: claims.Subject, ExpiresAt: expires}
}

// PublicKeyPEM exposes the verification key for distribution.
func (s *Service) PublicKeyPEM() ([]byte, error) {
	return s.provider.PublicKeyPEM()
}

// Algorithm names the token signature scheme.
func (s *Service) Algorithm() string {
	return keys.Algorithm
}
