// Package signer creates and verifies AgentID request signatures.
//
// A signature covers the request method, URL, timestamp, credential ID and a
// SHA-256 hash of the body. With a shared secret configured the signature is
// an HMAC-SHA256; without one it degrades to a plain digest, which is
// tamper-evident but not authenticated. Verifiers can require the
// authenticated mode via Authenticated.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request headers produced by the signer and consumed by verifying services.
const (
	HeaderCredential = "X-AgentID-Credential"
	HeaderTimestamp  = "X-AgentID-Timestamp"
	HeaderNonce      = "X-AgentID-Nonce"
	HeaderSignature  = "X-AgentID-Signature"
)

// DefaultMaxAge is the default signature validity window.
const DefaultMaxAge = 300 * time.Second

// Verification failure reasons.
const (
	ReasonTimestampMalformed = "timestamp is not a unix millisecond value"
	ReasonTimestampStale     = "timestamp outside the max-age window"
	ReasonSignatureMismatch  = "signature does not match signing input"
)

// Input identifies one request to sign or verify.
type Input struct {
	Method       string
	URL          string
	Timestamp    string // unix milliseconds, as carried in X-AgentID-Timestamp
	CredentialID string
	Body         []byte
}

// Result is the outcome of signature verification. Invalid signatures are a
// normal outcome, not an error.
type Result struct {
	Valid  bool
	Reason string
}

// Options configures a Signer.
type Options struct {
	// Secret enables HMAC-SHA256 signing. Empty means unauthenticated
	// digest mode.
	Secret string

	// MaxAge is the accepted clock distance for verification.
	// Defaults to DefaultMaxAge.
	MaxAge time.Duration

	// Now overrides the current time (for testing).
	Now func() time.Time
}

// Signer signs and verifies request metadata.
type Signer struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// New creates a Signer.
func New(opts Options) *Signer {
	s := &Signer{
		maxAge: opts.MaxAge,
		now:    opts.Now,
	}
	if opts.Secret != "" {
		s.secret = []byte(opts.Secret)
	}
	if s.maxAge == 0 {
		s.maxAge = DefaultMaxAge
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Authenticated reports whether the signer holds a shared secret. Digest-only
// signers produce tamper-evident but unauthenticated signatures.
func (s *Signer) Authenticated() bool {
	return len(s.secret) > 0
}

// Sign produces the base64 signature for in.
func (s *Signer) Sign(in Input) string {
	msg := signingString(in)
	if len(s.secret) > 0 {
		mac := hmac.New(sha256.New, s.secret)
		mac.Write([]byte(msg))
		return base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}
	sum := sha256.Sum256([]byte(msg))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Verify recomputes the expected signature for in and compares it against
// signature in constant time. The timestamp must be within the max-age window
// of the current time.
func (s *Signer) Verify(signature string, in Input) Result {
	ms, err := strconv.ParseInt(strings.TrimSpace(in.Timestamp), 10, 64)
	if err != nil {
		return Result{Reason: ReasonTimestampMalformed}
	}

	issued := time.UnixMilli(ms)
	age := s.now().Sub(issued)
	if age < 0 {
		age = -age
	}
	if age > s.maxAge {
		return Result{Reason: ReasonTimestampStale}
	}

	expected := s.Sign(in)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return Result{Reason: ReasonSignatureMismatch}
	}
	return Result{Valid: true}
}

// Headers builds the outbound AgentID headers for one request, using the
// current time as the signing timestamp and a fresh nonce.
func (s *Signer) Headers(credentialID, method, url string, body []byte) http.Header {
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	sig := s.Sign(Input{
		Method:       method,
		URL:          url,
		Timestamp:    timestamp,
		CredentialID: credentialID,
		Body:         body,
	})

	h := make(http.Header, 4)
	h.Set(HeaderCredential, credentialID)
	h.Set(HeaderTimestamp, timestamp)
	h.Set(HeaderNonce, uuid.NewString())
	h.Set(HeaderSignature, sig)
	return h
}

// FromRequest extracts the signing input and signature from an inbound
// request. The body must be supplied by the caller, which is responsible for
// buffering it.
func FromRequest(r *http.Request, body []byte) (Input, string) {
	return Input{
		Method:       r.Method,
		URL:          requestURL(r),
		Timestamp:    r.Header.Get(HeaderTimestamp),
		CredentialID: r.Header.Get(HeaderCredential),
		Body:         body,
	}, r.Header.Get(HeaderSignature)
}

func requestURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
}

// BodyHash returns the base64 SHA-256 hash of body, or the empty string when
// body is absent.
func BodyHash(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func signingString(in Input) string {
	return strings.Join([]string{
		in.Method,
		in.URL,
		in.Timestamp,
		in.CredentialID,
		BodyHash(in.Body),
	}, "\n")
}
