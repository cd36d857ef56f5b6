package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/agentid-dev/agentid-go/pkg/cache"
	"github.com/agentid-dev/agentid-go/pkg/credential"
)

// DefaultJWKSTTL is how long a fetched key set stays cached.
const DefaultJWKSTTL = time.Hour

// JWKSFetcher resolves an issuer JWKS URL to its key set.
type JWKSFetcher interface {
	Fetch(ctx context.Context, url string) (*jose.JSONWebKeySet, error)
}

// JWKSFetcherOptions configures a DefaultJWKSFetcher.
type JWKSFetcherOptions struct {
	// Cache holds fetched key sets under "jwks:<url>". Defaults to the
	// process-wide cache.
	Cache cache.Store

	// TTL overrides DefaultJWKSTTL.
	TTL time.Duration

	// HTTPClient overrides the default 10s-timeout client.
	HTTPClient *http.Client
}

// DefaultJWKSFetcher fetches issuer key sets over HTTPS, caching each set in
// the credential cache. Failures carry credential error codes so callers can
// branch the same way as on other verification failures.
type DefaultJWKSFetcher struct {
	client *http.Client
	store  cache.Store
	ttl    time.Duration
}

// NewDefaultJWKSFetcher creates a fetcher using the process-wide cache.
func NewDefaultJWKSFetcher() *DefaultJWKSFetcher {
	return NewJWKSFetcher(JWKSFetcherOptions{})
}

// NewJWKSFetcher creates a fetcher with the given options.
func NewJWKSFetcher(opts JWKSFetcherOptions) *DefaultJWKSFetcher {
	f := &DefaultJWKSFetcher{
		client: opts.HTTPClient,
		store:  opts.Cache,
		ttl:    opts.TTL,
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 10 * time.Second}
	}
	if f.store == nil {
		f.store = cache.Default()
	}
	if f.ttl == 0 {
		f.ttl = DefaultJWKSTTL
	}
	return f
}

// JWKSCacheKey returns the cache key for a JWKS URL.
func JWKSCacheKey(url string) string {
	return "jwks:" + url
}

// Fetch returns the key set for url, consulting the cache first.
func (f *DefaultJWKSFetcher) Fetch(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	if cached, ok := f.store.Get(JWKSCacheKey(url)).(*jose.JSONWebKeySet); ok && cached != nil {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, credential.WrapError(credential.ErrCodeInvalid, "failed to create JWKS request", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, credential.WrapError(credential.ErrCodeNetwork, "JWKS request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, credential.NewError(credential.ErrCodeNetwork,
			fmt.Sprintf("JWKS endpoint returned status %d", resp.StatusCode))
	}

	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, credential.WrapError(credential.ErrCodeNetwork, "malformed JWKS response", err)
	}

	f.store.Set(JWKSCacheKey(url), &jwks, f.ttl)
	return &jwks, nil
}
