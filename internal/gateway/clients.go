package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aegisgate/aegisgate/internal/issuer"
	"github.com/aegisgate/aegisgate/internal/shared"
)

// IssuerClient validates tokens against the issuer service.
type IssuerClient interface {
	Validate(ctx context.Context, token string) (issuer.Validation, error)
}

// ACLClient resolves a user's full permission set.
type ACLClient interface {
	UserPermissions(ctx context.Context, username string) ([]string, error)
}

// HTTPIssuerClient calls the issuer over HTTP with a bounded timeout.
type HTTPIssuerClient struct {
	baseURL string
	client  *http.Client
}

// NewIssuerClient constructs an HTTP issuer client.
func NewIssuerClient(baseURL string, timeout time.Duration) *HTTPIssuerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPIssuerClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// Validate posts the token to /auth/validate. Transport failures map to
// ErrUpstreamUnavailable so the pipeline fails closed.
func (c *HTTPIssuerClient) Validate(ctx context.Context, token string) (issuer.Validation, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return issuer.Validation{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/validate", bytes.NewReader(body))
	if err != nil {
		return issuer.Validation{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return issuer.Validation{}, fmt.Errorf("gateway: issuer validate: %w", shared.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return issuer.Validation{}, fmt.Errorf("gateway: issuer validate status %d: %w", resp.StatusCode, shared.ErrUpstreamUnavailable)
	}

	var payload struct {
		Valid     bool   `json:"valid"`
		Username  string `json:"username"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return issuer.Validation{}, fmt.Errorf("gateway: issuer validate decode: %w", err)
	}
	out := issuer.Validation{Valid: payload.Valid, Username: payload.Username}
	if payload.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(payload.ExpiresAt, 0).UTC()
	}
	return out, nil
}

// HTTPACLClient calls the ACL service over HTTP with a bounded timeout.
type HTTPACLClient struct {
	baseURL string
	client  *http.Client
}

// NewACLClient constructs an HTTP ACL client.
func NewACLClient(baseURL string, timeout time.Duration) *HTTPACLClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPACLClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// UserPermissions fetches the user's flat permission set for cache
// population.
func (c *HTTPACLClient) UserPermissions(ctx context.Context, username string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/acl/users/"+url.PathEscape(username)+"/permissions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: acl permissions: %w", shared.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway: acl permissions status %d: %w", resp.StatusCode, shared.ErrUpstreamUnavailable)
	}
	var perms []string
	if err := json.NewDecoder(resp.Body).Decode(&perms); err != nil {
		return nil, fmt.Errorf("gateway: acl permissions decode: %w", err)
	}
	return perms, nil
}
