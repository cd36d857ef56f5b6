// Package credential holds credential references and the client for the
// AgentID verification API.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentid-dev/agentid-go/pkg/revocation"
)

// DefaultAPIURL is the hosted AgentID API.
const DefaultAPIURL = "https://api.agentid.dev"

// Client is an HTTP client for the AgentID verification API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewClient creates a new API client.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		Logger: zap.NewNop(),
	}
}

// Verify calls the verify endpoint for credentialID. HTTP-level failures are
// mapped onto the error taxonomy; a 200 response is returned to the caller
// regardless of the valid flag, which the Credential wrapper interprets.
func (c *Client) Verify(ctx context.Context, credentialID string) (*VerifyResponse, error) {
	if credentialID == "" {
		return nil, NewError(ErrCodeInvalid, "credential_id is required")
	}

	body, err := json.Marshal(map[string]string{"credential_id": credentialID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, WrapError(ErrCodeNetwork, "verify request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(ErrCodeNetwork, "failed to read verify response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, respBody, credentialID)
	}

	var vr VerifyResponse
	if err := json.Unmarshal(respBody, &vr); err != nil {
		return nil, WrapError(ErrCodeNetwork, "malformed verify response", err)
	}
	return &vr, nil
}

// RevocationsSince lists revocation events after the given time, optionally
// filtered to a set of credential IDs. Used by the revocation watcher's
// polling fallback.
func (c *Client) RevocationsSince(ctx context.Context, since time.Time, credentialIDs []string) ([]revocation.Event, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	if len(credentialIDs) > 0 {
		q.Set("credential_ids", strings.Join(credentialIDs, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/api/revocations?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, WrapError(ErrCodeNetwork, "revocations request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(ErrCodeNetwork, "failed to read revocations response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, respBody, "")
	}

	var parsed struct {
		Revocations []revocation.Event `json:"revocations"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, WrapError(ErrCodeNetwork, "malformed revocations response", err)
	}
	return parsed.Revocations, nil
}

// StreamURL derives the revocation stream endpoint from the API base URL.
func (c *Client) StreamURL(credentialIDs []string) string {
	base := c.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	u := base + "/revocations"
	if len(credentialIDs) > 0 {
		q := url.Values{}
		q.Set("credential_ids", strings.Join(credentialIDs, ","))
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agentid-go/1.0")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

// statusError maps non-200 responses onto the error taxonomy.
func (c *Client) statusError(resp *http.Response, respBody []byte, credentialID string) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuth

	case http.StatusNotFound:
		return NewError(ErrCodeNotFound, fmt.Sprintf("credential not found: %s", credentialID))

	case http.StatusTooManyRequests:
		e := NewError(ErrCodeRateLimited, "rate limited by server")
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, err := strconv.Atoi(after); err == nil {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return e

	default:
		return NewError(ErrCodeNetwork,
			fmt.Sprintf("server returned status %d: %s", resp.StatusCode, string(respBody)))
	}
}
