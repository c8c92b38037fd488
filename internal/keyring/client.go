// Package keyring distributes service public keys. Consumers fetch a
// producer's verification key over HTTP and cache it in Redis; absence of a
// usable key is an error, never a silent pass.
package keyring

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/aegisgate/aegisgate/internal/keys"
	"github.com/aegisgate/aegisgate/internal/shared"
)

const cacheKeyPrefix = "pubkey:"

// DefaultTTL is how long a fetched public key stays cached.
const DefaultTTL = 24 * time.Hour

// Source names one key-producing service and where to fetch its key.
type Source struct {
	Name string
	URL  string // full URL of the public-key endpoint
}

// Client fetches and caches producer public keys.
type Client struct {
	redis   *redis.Client
	http    *http.Client
	ttl     time.Duration
	sources map[string]Source
}

// NewClient constructs a Client for the given sources.
func NewClient(redisClient *redis.Client, httpClient *http.Client, ttl time.Duration, sources ...Source) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	byName := make(map[string]Source, len(sources))
	for _, s := range sources {
		byName[s.Name] = s
	}
	return &Client{redis: redisClient, http: httpClient, ttl: ttl, sources: byName}
}

// PublicKey returns the producer's verification key, from cache when fresh.
func (c *Client) PublicKey(ctx context.Context, service string) (*rsa.PublicKey, error) {
	cached, err := c.redis.Get(ctx, cacheKeyPrefix+service).Bytes()
	if err == nil {
		if pub, err := keys.ParsePublicPEM(cached); err == nil {
			return pub, nil
		}
		// Unparseable cache content: drop it and re-fetch.
		_ = c.redis.Del(ctx, cacheKeyPrefix+service).Err()
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("keyring: cache read %s: %w", service, err)
	}
	return c.fetch(ctx, service)
}

// WarmUp fetches every configured source concurrently so the first request
// after startup does not pay the fetch latency. Fails if any source fails.
func (c *Client) WarmUp(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for name := range c.sources {
		name := name
		g.Go(func() error {
			_, err := c.PublicKey(ctx, name)
			return err
		})
	}
	return g.Wait()
}

// Refresh force-invalidates the cached key and re-fetches it.
func (c *Client) Refresh(ctx context.Context, service string) (*rsa.PublicKey, error) {
	if err := c.redis.Del(ctx, cacheKeyPrefix+service).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("keyring: invalidate %s: %w", service, err)
	}
	return c.fetch(ctx, service)
}

type publicKeyPayload struct {
	PublicKey string `json:"publicKey"`
	Algorithm string `json:"algorithm"`
}

func (c *Client) fetch(ctx context.Context, service string) (*rsa.PublicKey, error) {
	source, ok := c.sources[service]
	if !ok {
		return nil, fmt.Errorf("keyring: unknown service %q: %w", service, shared.ErrNotFound)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("keyring: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keyring: fetch %s: %w", service, shared.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keyring: fetch %s: status %d: %w", service, resp.StatusCode, shared.ErrUpstreamUnavailable)
	}
	var payload publicKeyPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("keyring: decode %s: %w", service, err)
	}
	pub, err := keys.ParsePublicPEM([]byte(payload.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("keyring: %s: %w", service, err)
	}
	if err := c.redis.Set(ctx, cacheKeyPrefix+service, []byte(payload.PublicKey), c.ttl).Err(); err != nil {
		return nil, fmt.Errorf("keyring: cache write %s: %w", service, err)
	}
	return pub, nil
}
