package verifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-jose/go-jose/v4"

	"github.com/agentid-dev/agentid-go/pkg/canonical"
	"github.com/agentid-dev/agentid-go/pkg/credential"
)

// ProofVerifier checks the issuer's signature over a credential payload
// without contacting the verify endpoint. The payload's signature field is a
// detached compact JWS ("<protected>..<signature>") over the canonical JSON
// of the payload with the signature field removed.
type ProofVerifier struct {
	fetcher JWKSFetcher
}

// NewProofVerifier creates a ProofVerifier with the default JWKS fetcher.
func NewProofVerifier() *ProofVerifier {
	return &ProofVerifier{fetcher: NewDefaultJWKSFetcher()}
}

// NewProofVerifierWithFetcher creates a ProofVerifier with a custom fetcher.
func NewProofVerifierWithFetcher(fetcher JWKSFetcher) *ProofVerifier {
	return &ProofVerifier{fetcher: fetcher}
}

// VerifyProof validates the issuer signature on p. All failures are returned
// as SIGNATURE_INVALID credential errors so callers can branch on the kind.
func (v *ProofVerifier) VerifyProof(ctx context.Context, p *credential.Payload) error {
	if p == nil || p.Signature == "" {
		return credential.NewError(credential.ErrCodeSignature, "credential carries no issuer signature")
	}

	parts := strings.Split(p.Signature, ".")
	if len(parts) != 3 || parts[1] != "" {
		return credential.NewError(credential.ErrCodeSignature, "issuer signature is not a detached compact JWS")
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return credential.WrapError(credential.ErrCodeSignature, "invalid protected header encoding", err)
	}

	var header struct {
		Alg     string `json:"alg"`
		Kid     string `json:"kid"`
		Jku     string `json:"jku"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return credential.WrapError(credential.ErrCodeSignature, "invalid protected header json", err)
	}

	if header.Alg != string(jose.EdDSA) && header.Alg != string(jose.ES256) {
		return credential.NewError(credential.ErrCodeSignature,
			fmt.Sprintf("unsupported signature algorithm: %q", header.Alg))
	}

	jwksURL := header.Jku
	if jwksURL == "" {
		jwksURL = header.JwksURI
	}
	if jwksURL == "" {
		return credential.NewError(credential.ErrCodeSignature, "missing jku or jwks_uri in protected header")
	}
	if u, err := url.Parse(jwksURL); err != nil || u.Scheme != "https" {
		return credential.NewError(credential.ErrCodeSignature, "jwks url must be a valid https url")
	}

	payload, err := signingPayload(p)
	if err != nil {
		return credential.WrapError(credential.ErrCodeSignature, "failed to canonicalize payload", err)
	}

	compact := fmt.Sprintf("%s.%s.%s", parts[0], base64.RawURLEncoding.EncodeToString(payload), parts[2])
	jws, err := jose.ParseSigned(compact, []jose.SignatureAlgorithm{jose.SignatureAlgorithm(header.Alg)})
	if err != nil {
		return credential.WrapError(credential.ErrCodeSignature, "failed to parse JWS", err)
	}

	jwks, err := v.fetcher.Fetch(ctx, jwksURL)
	if err != nil {
		return credential.WrapError(credential.ErrCodeSignature, "failed to fetch issuer JWKS", err)
	}
	if len(jwks.Keys) == 0 {
		return credential.NewError(credential.ErrCodeSignature, "issuer JWKS is empty")
	}

	for _, key := range jwks.Keys {
		if header.Kid != "" && key.KeyID != header.Kid {
			continue
		}
		if _, err := jws.Verify(key); err == nil {
			return nil
		}
	}

	return credential.NewError(credential.ErrCodeSignature, "issuer signature verification failed")
}

// signingPayload renders the canonical signing input: the payload with the
// signature field removed, keys sorted.
func signingPayload(p *credential.Payload) ([]byte, error) {
	unsigned := *p
	unsigned.Signature = ""
	return canonical.Marshal(&unsigned)
}
