package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid-dev/agentid-go/pkg/credential"
	"github.com/agentid-dev/agentid-go/pkg/permission"
	"github.com/agentid-dev/agentid-go/pkg/signer"
	"github.com/agentid-dev/agentid-go/pkg/verifier"
)

const testSecret = "shared-secret"

func sourcePayload() *credential.Payload {
	return &credential.Payload{
		CredentialID: "cred_1",
		AgentID:      "agent_1",
		Issuer:       credential.Issuer{ID: "iss_1", Verified: true},
		Permissions: []permission.Permission{
			permission.Legacy("read"),
		},
		Constraints: credential.Constraints{
			ValidFrom:  time.Now().Add(-time.Hour),
			ValidUntil: time.Now().Add(time.Hour),
		},
	}
}

func staticSource(p *credential.Payload, err error) Source {
	return SourceFunc(func(context.Context, string) (*credential.Payload, error) {
		return p, err
	})
}

func guardedServer(t *testing.T, opts Options) (*httptest.Server, *http.Header) {
	t.Helper()

	var forwarded http.Header
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(Middleware(opts, next))
	t.Cleanup(srv.Close)
	return srv, &forwarded
}

func signedRequest(t *testing.T, method, url string, body []byte) *http.Request {
	t.Helper()

	s := signer.New(signer.Options{Secret: testSecret})
	req, err := http.NewRequest(method, url, strings.NewReader(string(body)))
	require.NoError(t, err)

	h := s.Headers("cred_1", method, url, body)
	for name := range h {
		req.Header.Set(name, h.Get(name))
	}
	return req
}

func TestMiddleware_AllowsSignedRequest(t *testing.T) {
	opts := Options{
		Verifier: verifier.New(verifier.Options{SigningSecret: testSecret}),
		Source:   staticSource(sourcePayload(), nil),
	}
	srv, forwarded := guardedServer(t, opts)

	resp, err := http.DefaultClient.Do(signedRequest(t, http.MethodGet, srv.URL+"/orders", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "agent_1", forwarded.Get(HeaderAgent))
	assert.Equal(t, "iss_1", forwarded.Get(HeaderIssuer))
}

func TestMiddleware_RejectsMissingHeaders(t *testing.T) {
	opts := Options{
		Verifier: verifier.New(verifier.Options{SigningSecret: testSecret}),
		Source:   staticSource(sourcePayload(), nil),
	}
	srv, _ := guardedServer(t, opts)

	resp, err := http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMiddleware_RejectsTamperedBody(t *testing.T) {
	opts := Options{
		Verifier: verifier.New(verifier.Options{SigningSecret: testSecret}),
		Source:   staticSource(sourcePayload(), nil),
	}
	srv, _ := guardedServer(t, opts)

	req := signedRequest(t, http.MethodPost, srv.URL+"/orders", []byte(`{"amount":500}`))
	req.Body = http.NoBody
	req.ContentLength = 0

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMiddleware_RejectsRevokedCredential(t *testing.T) {
	opts := Options{
		Verifier: verifier.New(verifier.Options{
			SigningSecret: testSecret,
			Revocations:   revokedSet{"cred_1"},
		}),
		Source: staticSource(sourcePayload(), nil),
	}
	srv, _ := guardedServer(t, opts)

	resp, err := http.DefaultClient.Do(signedRequest(t, http.MethodGet, srv.URL+"/orders", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type revokedSet []string

func (s revokedSet) IsRevoked(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

func TestMiddleware_PermissionDenialIs403(t *testing.T) {
	opts := Options{
		Verifier:   verifier.New(verifier.Options{SigningSecret: testSecret}),
		Source:     staticSource(sourcePayload(), nil),
		RequestFor: DefaultRequest,
	}
	srv, _ := guardedServer(t, opts)

	// The payload only grants the legacy "read" action; DELETE maps to
	// "delete" and must be denied.
	resp, err := http.DefaultClient.Do(signedRequest(t, http.MethodDelete, srv.URL+"/orders/1", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMiddleware_PermissionGrantPasses(t *testing.T) {
	opts := Options{
		Verifier:   verifier.New(verifier.Options{SigningSecret: testSecret}),
		Source:     staticSource(sourcePayload(), nil),
		RequestFor: DefaultRequest,
	}
	srv, _ := guardedServer(t, opts)

	resp, err := http.DefaultClient.Do(signedRequest(t, http.MethodGet, srv.URL+"/orders", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMiddleware_SourceNetworkFailureIs502(t *testing.T) {
	opts := Options{
		Verifier: verifier.New(verifier.Options{SigningSecret: testSecret}),
		Source:   staticSource(nil, credential.WrapError(credential.ErrCodeNetwork, "verify unreachable", nil)),
	}
	srv, _ := guardedServer(t, opts)

	resp, err := http.DefaultClient.Do(signedRequest(t, http.MethodGet, srv.URL+"/orders", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
