// Package gateway provides HTTP enforcement points for AgentID request
// signatures: a middleware for in-process handlers and a reverse proxy.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/agentid-dev/agentid-go/pkg/cache"
	"github.com/agentid-dev/agentid-go/pkg/credential"
	"github.com/agentid-dev/agentid-go/pkg/permission"
	"github.com/agentid-dev/agentid-go/pkg/signer"
	"github.com/agentid-dev/agentid-go/pkg/verifier"
)

// DefaultMaxBodySize bounds buffered request bodies (10MB).
const DefaultMaxBodySize = 10 << 20

// Headers forwarded to upstream handlers after verification.
const (
	HeaderAgent  = "X-AgentID-Agent"
	HeaderIssuer = "X-AgentID-Issuer"
)

// Source resolves a credential ID to its payload.
type Source interface {
	Lookup(ctx context.Context, credentialID string) (*credential.Payload, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, credentialID string) (*credential.Payload, error)

// Lookup implements Source.
func (f SourceFunc) Lookup(ctx context.Context, credentialID string) (*credential.Payload, error) {
	return f(ctx, credentialID)
}

// APISource resolves credentials through the verify endpoint, reading the
// standard credential cache first.
type APISource struct {
	Client *credential.Client
	Cache  cache.Store
}

// NewAPISource creates a Source backed by the verify endpoint.
func NewAPISource(client *credential.Client, store cache.Store) *APISource {
	if store == nil {
		store = cache.Default()
	}
	return &APISource{Client: client, Cache: store}
}

// Lookup implements Source.
func (s *APISource) Lookup(ctx context.Context, credentialID string) (*credential.Payload, error) {
	if cached, ok := s.Cache.Get(credential.CacheKey(credentialID)).(*credential.Payload); ok && cached != nil {
		return cached, nil
	}

	resp, err := s.Client.Verify(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if !resp.Valid {
		return nil, credential.FailureError(resp)
	}
	if resp.Credential == nil {
		return nil, credential.NewError(credential.ErrCodeInvalid, "verify response carries no credential")
	}
	return resp.Credential, nil
}

// Options configures the middleware.
type Options struct {
	// Verifier checks signatures and credential validity. Required.
	Verifier *verifier.Verifier

	// Source resolves credential IDs to payloads. Required.
	Source Source

	// RequestFor derives the permission request for an inbound request.
	// Nil skips permission evaluation; DefaultRequest maps HTTP methods
	// onto read/write/delete actions.
	RequestFor func(*http.Request) permission.Request

	// MaxBodySize bounds the buffered request body.
	// Defaults to DefaultMaxBodySize.
	MaxBodySize int64

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultRequest maps an inbound HTTP request onto a permission request:
// the resource is the request URL and the action follows the method.
func DefaultRequest(r *http.Request) permission.Request {
	action := "read"
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		action = "write"
	case http.MethodDelete:
		action = "delete"
	}
	return permission.Request{
		Resource: requestURL(r),
		Action:   action,
	}
}

// Middleware enforces AgentID signatures on every request before passing it
// to next, forwarding the verified agent identity upstream.
func Middleware(opts Options, next http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBody := opts.MaxBodySize
	if maxBody == 0 {
		maxBody = DefaultMaxBodySize
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		in, sig := signer.FromRequest(r, body)
		if in.CredentialID == "" || sig == "" {
			http.Error(w, "missing AgentID signature headers", http.StatusUnauthorized)
			return
		}

		if res := opts.Verifier.VerifySignature(sig, in); !res.Valid {
			logger.Debug("rejected request signature",
				zap.String("credential_id", in.CredentialID),
				zap.String("reason", res.Reason))
			http.Error(w, "invalid request signature", http.StatusUnauthorized)
			return
		}

		payload, err := opts.Source.Lookup(r.Context(), in.CredentialID)
		if err != nil {
			logger.Debug("credential lookup failed",
				zap.String("credential_id", in.CredentialID),
				zap.Error(err))
			http.Error(w, "credential rejected", statusForError(err))
			return
		}

		if err := opts.Verifier.VerifyCredential(payload); err != nil {
			http.Error(w, "credential rejected", statusForError(err))
			return
		}

		if opts.RequestFor != nil {
			decision, err := opts.Verifier.Authorize(payload, opts.RequestFor(r))
			if err != nil {
				http.Error(w, "credential rejected", statusForError(err))
				return
			}
			if !decision.Granted {
				http.Error(w, decision.Reason, http.StatusForbidden)
				return
			}
		}

		// Forward verified identity to upstream.
		r.Header.Set(HeaderAgent, payload.AgentID)
		r.Header.Set(HeaderIssuer, payload.Issuer.ID)
		next.ServeHTTP(w, r)
	})
}

// statusForError maps credential error kinds onto response codes. Transport
// failures reaching the verify endpoint surface as 502.
func statusForError(err error) int {
	var credErr *credential.Error
	if !errors.As(err, &credErr) {
		return http.StatusUnauthorized
	}
	switch credErr.Code {
	case credential.ErrCodeNetwork:
		return http.StatusBadGateway
	case credential.ErrCodeRateLimited:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func requestURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
