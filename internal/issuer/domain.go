package issuer

import "time"

// User represents an account the issuer can authenticate.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  time.Time
}

// Validation is the outcome of checking a presented token.
type Validation struct {
	Valid     bool
	Username  string
	ExpiresAt time.Time
}
