package acl

import "context"

// Invalidator removes cached authorization decisions after graph mutations.
// Production wires the asynq-backed jobs client; tests use Noop or a
// store-backed stub.
type Invalidator interface {
	InvalidateUser(ctx context.Context, username string) error
	InvalidateAll(ctx context.Context) error
}

// NoopInvalidator ignores invalidation requests.
type NoopInvalidator struct{}

func (NoopInvalidator) InvalidateUser(ctx context.Context, username string) error { return nil }
func (NoopInvalidator) InvalidateAll(ctx context.Context) error                   { return nil }
