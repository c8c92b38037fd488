package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated indicates a missing, malformed, or expired token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnauthorized indicates a valid identity lacking the required permission.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUpstreamUnavailable indicates the issuer or ACL service could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrCacheTamper indicates a cache entry whose signature did not verify.
	ErrCacheTamper = errors.New("cache entry tampered")
	// ErrDuplicate indicates a uniqueness violation on create.
	ErrDuplicate = errors.New("duplicate entry")
)
