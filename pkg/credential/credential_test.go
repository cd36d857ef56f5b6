package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid-dev/agentid-go/pkg/cache"
	"github.com/agentid-dev/agentid-go/pkg/permission"
	"github.com/agentid-dev/agentid-go/pkg/signer"
)

// recordingStore wraps a MemoryStore and records TTLs passed to Set.
type recordingStore struct {
	*cache.MemoryStore
	lastTTL time.Duration
}

func (r *recordingStore) Set(key string, value interface{}, ttl time.Duration) {
	r.lastTTL = ttl
	r.MemoryStore.Set(key, value, ttl)
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: cache.NewMemoryStore(&cache.Config{})}
}

func testPayload(id string, validUntil time.Time) *Payload {
	return &Payload{
		CredentialID: id,
		AgentID:      "agent_1",
		AgentName:    "Test Agent",
		AgentType:    "assistant",
		Issuer:       Issuer{ID: "iss_1", Name: "AgentID", Verified: true},
		Permissions:  []permission.Permission{permission.Legacy("read")},
		Constraints: Constraints{
			ValidFrom:  validUntil.Add(-24 * time.Hour),
			ValidUntil: validUntil,
		},
	}
}

func verifyServer(t *testing.T, handler func(body map[string]string) (int, interface{})) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/verify", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		status, resp := handler(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestLoad_Success(t *testing.T) {
	now := time.Now()
	score := 0.92
	srv := verifyServer(t, func(body map[string]string) (int, interface{}) {
		assert.Equal(t, "cred_1", body["credential_id"])
		return http.StatusOK, VerifyResponse{
			Valid:      true,
			Credential: testPayload("cred_1", now.Add(30*24*time.Hour)),
			TrustScore: &score,
		}
	})
	defer srv.Close()

	store := newRecordingStore()
	cred := New("cred_1", Options{BaseURL: srv.URL, Cache: store})

	p, err := cred.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "agent_1", p.AgentID)
	assert.Equal(t, StatusActive, cred.Status())
	require.NotNil(t, cred.TrustScore())
	assert.Equal(t, 0.92, *cred.TrustScore())

	// Cache TTL is capped at one hour even with 30 days of validity left.
	assert.Equal(t, MaxCacheTTL, store.lastTTL)
	assert.NotNil(t, store.Get(CacheKey("cred_1")))
}

func TestLoad_CacheTTLTracksExpiry(t *testing.T) {
	now := time.Now()
	srv := verifyServer(t, func(map[string]string) (int, interface{}) {
		return http.StatusOK, VerifyResponse{
			Valid:      true,
			Credential: testPayload("cred_1", now.Add(10*time.Minute)),
		}
	})
	defer srv.Close()

	store := newRecordingStore()
	cred := New("cred_1", Options{BaseURL: srv.URL, Cache: store})

	_, err := cred.Load(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, store.lastTTL, 10*time.Minute)
	assert.Greater(t, store.lastTTL, 9*time.Minute)
}

func TestLoad_UsesCacheUntilRefreshThreshold(t *testing.T) {
	var calls atomic.Int32
	now := time.Now()
	srv := verifyServer(t, func(map[string]string) (int, interface{}) {
		calls.Add(1)
		return http.StatusOK, VerifyResponse{
			Valid:      true,
			Credential: testPayload("cred_1", now.Add(time.Hour)),
		}
	})
	defer srv.Close()

	store := newRecordingStore()
	cred := New("cred_1", Options{BaseURL: srv.URL, Cache: store})

	_, err := cred.Load(context.Background())
	require.NoError(t, err)
	_, err = cred.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// Reload bypasses the cache.
	_, err = cred.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoad_FailureCodes(t *testing.T) {
	cases := []struct {
		name       string
		resp       VerifyResponse
		wantErr    *Error
		wantStatus Status
	}{
		{
			name:       "expired",
			resp:       VerifyResponse{Valid: false, ErrorCode: ErrCodeExpired},
			wantErr:    ErrExpired,
			wantStatus: StatusExpired,
		},
		{
			name:       "revoked",
			resp:       VerifyResponse{Valid: false, ErrorCode: ErrCodeRevoked},
			wantErr:    ErrRevoked,
			wantStatus: StatusRevoked,
		},
		{
			name:       "not found code",
			resp:       VerifyResponse{Valid: false, ErrorCode: ErrCodeNotFound},
			wantErr:    ErrNotFound,
			wantStatus: StatusInvalid,
		},
		{
			name:       "generic invalid carries server message",
			resp:       VerifyResponse{Valid: false, Error: "schema mismatch"},
			wantErr:    ErrInvalid,
			wantStatus: StatusInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := verifyServer(t, func(map[string]string) (int, interface{}) {
				return http.StatusOK, tc.resp
			})
			defer srv.Close()

			store := newRecordingStore()
			cred := New("cred_1", Options{BaseURL: srv.URL, Cache: store})

			_, err := cred.Load(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.wantStatus, cred.Status())

			// Failed verifications never populate the cache.
			assert.Nil(t, store.Get(CacheKey("cred_1")))

			if tc.resp.Error != "" {
				credErr, ok := AsError(err)
				require.True(t, ok)
				assert.Equal(t, tc.resp.Error, credErr.Message)
			}
		})
	}
}

func TestLoad_HTTPStatusMapping(t *testing.T) {
	t.Run("404", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		cred := New("cred_1", Options{BaseURL: srv.URL, Cache: newRecordingStore()})
		_, err := cred.Load(context.Background())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("401", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		cred := New("cred_1", Options{BaseURL: srv.URL, Cache: newRecordingStore()})
		_, err := cred.Load(context.Background())
		assert.ErrorIs(t, err, ErrAuth)
	})

	t.Run("429 carries retry-after", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		cred := New("cred_1", Options{BaseURL: srv.URL, Cache: newRecordingStore()})
		_, err := cred.Load(context.Background())
		require.ErrorIs(t, err, ErrRateLimited)

		credErr, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, 30*time.Second, credErr.RetryAfter)
	})

	t.Run("network failure", func(t *testing.T) {
		cred := New("cred_1", Options{BaseURL: "http://127.0.0.1:1", Cache: newRecordingStore()})
		_, err := cred.Load(context.Background())
		assert.ErrorIs(t, err, ErrNetwork)
	})
}

type countingTransport struct {
	calls atomic.Int32
}

func (tr *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tr.calls.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func TestLoad_UsesConfiguredHTTPClient(t *testing.T) {
	now := time.Now()
	srv := verifyServer(t, func(map[string]string) (int, interface{}) {
		return http.StatusOK, VerifyResponse{
			Valid:      true,
			Credential: testPayload("cred_1", now.Add(time.Hour)),
		}
	})
	defer srv.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	tr := &countingTransport{}
	cred := New("cred_1", Options{
		BaseURL:    srv.URL,
		Cache:      newRecordingStore(),
		HTTPClient: &http.Client{Transport: tr},
	})

	// The verify call routes through the configured client.
	_, err := cred.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), tr.calls.Load())

	// So does the signed outbound request.
	resp, err := cred.Fetch(context.Background(), upstream.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(2), tr.calls.Load())
}

func TestDerivedProperties(t *testing.T) {
	now := time.Now()
	clock := now
	nowFn := func() time.Time { return clock }

	srv := verifyServer(t, func(map[string]string) (int, interface{}) {
		return http.StatusOK, VerifyResponse{
			Valid:      true,
			Credential: testPayload("cred_1", now.Add(10*time.Minute)),
		}
	})
	defer srv.Close()

	cred := New("cred_1", Options{
		BaseURL: srv.URL,
		Cache:   newRecordingStore(),
		Now:     nowFn,
	})
	_, err := cred.Load(context.Background())
	require.NoError(t, err)

	assert.False(t, cred.Expired())
	assert.InDelta(t, (10 * time.Minute).Seconds(), cred.TimeToExpiry().Seconds(), 1)
	assert.False(t, cred.NeedsRefresh())

	// Advance the clock: derived values are recomputed on access.
	clock = now.Add(6 * time.Minute)
	assert.False(t, cred.Expired())
	assert.True(t, cred.NeedsRefresh())

	clock = now.Add(11 * time.Minute)
	assert.True(t, cred.Expired())
	assert.Equal(t, time.Duration(0), cred.TimeToExpiry())
}

func TestHeaders_RequiresLoad(t *testing.T) {
	cred := New("cred_1", Options{Cache: newRecordingStore()})
	_, err := cred.Headers(http.MethodGet, "https://x/orders", nil)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestFetch_SignsAndMergesHeaders(t *testing.T) {
	now := time.Now()
	api := verifyServer(t, func(map[string]string) (int, interface{}) {
		return http.StatusOK, VerifyResponse{
			Valid:      true,
			Credential: testPayload("cred_1", now.Add(time.Hour)),
		}
	})
	defer api.Close()

	var got http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cred := New("cred_1", Options{
		BaseURL:       api.URL,
		Cache:         newRecordingStore(),
		SigningSecret: "shared-secret",
	})

	callerHeaders := http.Header{}
	callerHeaders.Set("X-Custom", "kept")
	callerHeaders.Set(signer.HeaderSignature, "caller-supplied-must-lose")

	resp, err := cred.Fetch(context.Background(), upstream.URL+"/orders", &RequestOptions{
		Method: http.MethodPost,
		Body:   []byte(`{"amount":500}`),
		Header: callerHeaders,
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "kept", got.Get("X-Custom"))
	assert.Equal(t, "cred_1", got.Get(signer.HeaderCredential))
	assert.NotEmpty(t, got.Get(signer.HeaderNonce))
	assert.NotEqual(t, "caller-supplied-must-lose", got.Get(signer.HeaderSignature))

	// The produced signature verifies against the same inputs.
	s := signer.New(signer.Options{Secret: "shared-secret"})
	res := s.Verify(got.Get(signer.HeaderSignature), signer.Input{
		Method:       http.MethodPost,
		URL:          upstream.URL + "/orders",
		Timestamp:    got.Get(signer.HeaderTimestamp),
		CredentialID: "cred_1",
		Body:         []byte(`{"amount":500}`),
	})
	assert.True(t, res.Valid)
}

func TestFetch_LoadsLazily(t *testing.T) {
	var verifyCalls atomic.Int32
	now := time.Now()
	api := verifyServer(t, func(map[string]string) (int, interface{}) {
		verifyCalls.Add(1)
		return http.StatusOK, VerifyResponse{
			Valid:      true,
			Credential: testPayload("cred_1", now.Add(time.Hour)),
		}
	})
	defer api.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cred := New("cred_1", Options{BaseURL: api.URL, Cache: newRecordingStore()})

	resp, err := cred.Fetch(context.Background(), upstream.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = cred.Fetch(context.Background(), upstream.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), verifyCalls.Load())
}

func TestFetch_RevokedCredentialFailsClosed(t *testing.T) {
	api := verifyServer(t, func(map[string]string) (int, interface{}) {
		return http.StatusOK, VerifyResponse{Valid: false, ErrorCode: ErrCodeRevoked}
	})
	defer api.Close()

	cred := New("cred_1", Options{BaseURL: api.URL, Cache: newRecordingStore()})

	_, err := cred.Fetch(context.Background(), "https://upstream.example.com", nil)
	assert.ErrorIs(t, err, ErrRevoked)
	assert.Equal(t, StatusRevoked, cred.Status())
}
