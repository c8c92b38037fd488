package gateway

import (
	"context"
	"fmt"

	"github.com/aegisgate/aegisgate/internal/issuer"
	"github.com/aegisgate/aegisgate/internal/keyring"
)

// LocalValidator verifies tokens in-process against the issuer's public key
// instead of calling /auth/validate per miss. The key comes from the keyring
// and is cached; a signature check needs no network round trip.
type LocalValidator struct {
	ring    *keyring.Client
	service string
}

// NewLocalValidator constructs a LocalValidator for the named key source.
func NewLocalValidator(ring *keyring.Client, service string) *LocalValidator {
	return &LocalValidator{ring: ring, service: service}
}

// Validate checks the token signature and claims with the cached issuer key.
func (v *LocalValidator) Validate(ctx context.Context, token string) (issuer.Validation, error) {
	pub, err := v.ring.PublicKey(ctx, v.service)
	if err != nil {
		return issuer.Validation{}, fmt.Errorf("gateway: issuer key: %w", err)
	}
	return issuer.ValidateWithKey(pub, token), nil
}
