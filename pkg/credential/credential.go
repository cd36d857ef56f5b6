package credential

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentid-dev/agentid-go/pkg/cache"
	"github.com/agentid-dev/agentid-go/pkg/signer"
)

// DefaultRefreshThreshold is how close to expiry a credential may get before
// it is reloaded from the verify endpoint.
const DefaultRefreshThreshold = 5 * time.Minute

// MaxCacheTTL caps how long a verified payload may be cached, regardless of
// remaining validity.
const MaxCacheTTL = time.Hour

// CacheKey returns the cache key for a credential payload.
func CacheKey(credentialID string) string {
	return "credential:" + credentialID
}

// Options configures a Credential.
type Options struct {
	// BaseURL is the AgentID API base URL. Defaults to DefaultAPIURL.
	BaseURL string

	// APIKey authenticates verify calls, if required by the deployment.
	APIKey string

	// SigningSecret enables HMAC request signatures. Empty means
	// unauthenticated digest signatures.
	SigningSecret string

	// Cache overrides the credential cache. Defaults to the process-wide
	// cache.
	Cache cache.Store

	// RefreshThreshold overrides DefaultRefreshThreshold.
	RefreshThreshold time.Duration

	// DisableAutoRefresh turns off reloading before signed requests when
	// the credential is close to expiry.
	DisableAutoRefresh bool

	// HTTPClient overrides the client used for both verify calls and
	// signed outbound requests.
	HTTPClient *http.Client

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Now overrides the current time (for testing).
	Now func() time.Time
}

// Credential is one caller-held credential reference. The payload is loaded
// lazily from the verify endpoint and cached; revocation and renewal happen
// out-of-band and are only observed here.
type Credential struct {
	id     string
	client *Client
	signer *signer.Signer
	store  cache.Store
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time

	refreshThreshold time.Duration
	autoRefresh      bool

	mu         sync.Mutex
	payload    *Payload
	status     Status
	trustScore *float64
}

// New creates a credential reference. No network call is made until Load or
// the first signed request.
func New(credentialID string, opts Options) *Credential {
	c := &Credential{
		id:               credentialID,
		client:           NewClient(opts.BaseURL, opts.APIKey),
		store:            opts.Cache,
		http:             opts.HTTPClient,
		logger:           opts.Logger,
		now:              opts.Now,
		refreshThreshold: opts.RefreshThreshold,
		autoRefresh:      !opts.DisableAutoRefresh,
		status:           StatusUnloaded,
	}
	if c.store == nil {
		c.store = cache.Default()
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	} else {
		c.client.HTTPClient = c.http
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.refreshThreshold == 0 {
		c.refreshThreshold = DefaultRefreshThreshold
	}
	c.signer = signer.New(signer.Options{Secret: opts.SigningSecret, Now: c.now})
	c.client.Logger = c.logger
	return c
}

// ID returns the credential ID.
func (c *Credential) ID() string {
	return c.id
}

// Status returns the last observed credential status.
func (c *Credential) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// TrustScore returns the server-reported trust score from the last verify
// call, or nil if none was reported.
func (c *Credential) TrustScore() *float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trustScore
}

// Payload returns the loaded payload, or nil before the first Load.
func (c *Credential) Payload() *Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload
}

// Expired reports whether the loaded credential is past valid_until. It is
// recomputed on every call, never cached.
func (c *Credential) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.payload == nil {
		return false
	}
	return !c.now().Before(c.payload.Constraints.ValidUntil)
}

// TimeToExpiry returns the remaining validity, floored at zero.
func (c *Credential) TimeToExpiry() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeToExpiryLocked()
}

func (c *Credential) timeToExpiryLocked() time.Duration {
	if c.payload == nil {
		return 0
	}
	remaining := c.payload.Constraints.ValidUntil.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NeedsRefresh reports whether the credential is within the refresh
// threshold of expiry.
func (c *Credential) NeedsRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.payload == nil {
		return true
	}
	return c.timeToExpiryLocked() < c.refreshThreshold
}

// Load returns the credential payload, consulting the cache first and
// calling the verify endpoint when the cached copy is absent or within the
// refresh threshold of expiry.
func (c *Credential) Load(ctx context.Context) (*Payload, error) {
	return c.load(ctx, false)
}

// Reload bypasses the cache and always calls the verify endpoint.
func (c *Credential) Reload(ctx context.Context) (*Payload, error) {
	return c.load(ctx, true)
}

func (c *Credential) load(ctx context.Context, force bool) (*Payload, error) {
	if !force {
		if cached, ok := c.store.Get(CacheKey(c.id)).(*Payload); ok && cached != nil {
			if c.remaining(cached) >= c.refreshThreshold {
				c.setLoaded(cached, nil)
				return cached, nil
			}
		}
	}

	resp, err := c.client.Verify(ctx, c.id)
	if err != nil {
		return nil, err
	}

	if !resp.Valid {
		return nil, c.recordFailure(resp)
	}
	if resp.Credential == nil {
		return nil, NewError(ErrCodeInvalid, "verify response is valid but carries no credential")
	}

	ttl := c.remaining(resp.Credential)
	if ttl > MaxCacheTTL {
		ttl = MaxCacheTTL
	}
	if ttl > 0 {
		c.store.Set(CacheKey(c.id), resp.Credential, ttl)
	}

	c.setLoaded(resp.Credential, resp.TrustScore)
	c.logger.Debug("credential loaded",
		zap.String("credential_id", c.id),
		zap.Duration("time_to_expiry", ttl))
	return resp.Credential, nil
}

func (c *Credential) remaining(p *Payload) time.Duration {
	remaining := p.Constraints.ValidUntil.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *Credential) setLoaded(p *Payload, trustScore *float64) {
	c.mu.Lock()
	c.payload = p
	c.status = StatusActive
	if trustScore != nil {
		c.trustScore = trustScore
	}
	c.mu.Unlock()
}

// FailureError maps a valid=false verify response onto the error taxonomy.
func FailureError(resp *VerifyResponse) *Error {
	switch resp.ErrorCode {
	case ErrCodeExpired:
		return ErrExpired
	case ErrCodeRevoked:
		return ErrRevoked
	case ErrCodeNotFound:
		return ErrNotFound
	default:
		msg := resp.Error
		if msg == "" {
			msg = "credential is invalid"
		}
		return NewError(ErrCodeInvalid, msg)
	}
}

// recordFailure maps a valid=false verify response onto the error taxonomy
// and records the observed status. The cache is never populated for a
// failed verification.
func (c *Credential) recordFailure(resp *VerifyResponse) error {
	err := FailureError(resp)

	var status Status
	switch err.Code {
	case ErrCodeExpired:
		status = StatusExpired
	case ErrCodeRevoked:
		status = StatusRevoked
	default:
		status = StatusInvalid
	}

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	return err
}

// Headers computes the signed AgentID headers for one outbound request. The
// credential must be loaded.
func (c *Credential) Headers(method, url string, body []byte) (http.Header, error) {
	c.mu.Lock()
	loaded := c.payload != nil
	c.mu.Unlock()
	if !loaded {
		return nil, NewError(ErrCodeInvalid, "credential is not loaded")
	}
	return c.signer.Headers(c.id, method, url, body), nil
}

// RequestOptions configures a signed outbound request.
type RequestOptions struct {
	// Method defaults to GET.
	Method string

	// Body is the request body, if any.
	Body []byte

	// Header carries caller-supplied headers. Signed AgentID headers take
	// precedence on conflicting names.
	Header http.Header
}

// Fetch performs a signed HTTP request. The credential is loaded on first
// use, and reloaded when auto-refresh is enabled and it is within the
// refresh threshold of expiry.
func (c *Credential) Fetch(ctx context.Context, url string, opts *RequestOptions) (*http.Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	var bodyReader *bytes.Reader
	if len(opts.Body) > 0 {
		bodyReader = bytes.NewReader(opts.Body)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for name, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	signed, err := c.Headers(method, url, opts.Body)
	if err != nil {
		return nil, err
	}
	for name := range signed {
		req.Header.Set(name, signed.Get(name))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, WrapError(ErrCodeNetwork, "signed request failed", err)
	}
	return resp, nil
}

func (c *Credential) ensureLoaded(ctx context.Context) error {
	c.mu.Lock()
	unloaded := c.payload == nil
	needsRefresh := !unloaded && c.timeToExpiryLocked() < c.refreshThreshold
	c.mu.Unlock()

	if unloaded || (c.autoRefresh && needsRefresh) {
		if _, err := c.Load(ctx); err != nil {
			return err
		}
	}
	return nil
}
