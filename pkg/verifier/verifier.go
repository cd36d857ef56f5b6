// Package verifier implements the verifying-service side of AgentID:
// request-signature checks, credential validity, permission evaluation and
// revocation consultation.
package verifier

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentid-dev/agentid-go/pkg/credential"
	"github.com/agentid-dev/agentid-go/pkg/permission"
	"github.com/agentid-dev/agentid-go/pkg/signer"
)

// RevocationChecker reports whether a credential ID is revoked. Implemented
// by revocation.Watcher and the revocation sets.
type RevocationChecker interface {
	IsRevoked(credentialID string) bool
}

// Options configures a Verifier.
type Options struct {
	// SigningSecret must match the callers' secret for HMAC signatures.
	// Empty accepts unauthenticated digest signatures.
	SigningSecret string

	// MaxSignatureAge overrides the signer default (300s).
	MaxSignatureAge time.Duration

	// Revocations is consulted for every credential check. Nil skips
	// revocation checking.
	Revocations RevocationChecker

	// TrustedIssuers restricts accepted issuer IDs. Empty accepts all
	// issuers.
	TrustedIssuers []string

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Now overrides the current time (for testing).
	Now func() time.Time
}

// Verifier validates inbound AgentID-signed requests.
type Verifier struct {
	signer         *signer.Signer
	revocations    RevocationChecker
	trustedIssuers []string
	logger         *zap.Logger
	now            func() time.Time
}

// New creates a Verifier.
func New(opts Options) *Verifier {
	v := &Verifier{
		revocations:    opts.Revocations,
		trustedIssuers: opts.TrustedIssuers,
		logger:         opts.Logger,
		now:            opts.Now,
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	if v.now == nil {
		v.now = time.Now
	}
	v.signer = signer.New(signer.Options{
		Secret: opts.SigningSecret,
		MaxAge: opts.MaxSignatureAge,
		Now:    v.now,
	})
	return v
}

// VerifySignature checks a request signature. A mismatch is a normal
// outcome, returned in the result rather than as an error.
func (v *Verifier) VerifySignature(signature string, in signer.Input) signer.Result {
	return v.signer.Verify(signature, in)
}

// VerifyCredential checks that a credential payload is currently usable:
// inside its validity window, from a trusted issuer, and not revoked.
func (v *Verifier) VerifyCredential(p *credential.Payload) error {
	if p == nil {
		return credential.NewError(credential.ErrCodeInvalid, "no credential payload")
	}

	now := v.now()
	if !p.Constraints.ValidFrom.IsZero() && now.Before(p.Constraints.ValidFrom) {
		return credential.NewError(credential.ErrCodeInvalid,
			fmt.Sprintf("credential not valid until %s", p.Constraints.ValidFrom.Format(time.RFC3339)))
	}
	if !now.Before(p.Constraints.ValidUntil) {
		return credential.WrapError(credential.ErrCodeExpired,
			fmt.Sprintf("credential expired at %s", p.Constraints.ValidUntil.Format(time.RFC3339)),
			nil)
	}

	if len(v.trustedIssuers) > 0 {
		trusted := false
		for _, iss := range v.trustedIssuers {
			if p.Issuer.ID == iss {
				trusted = true
				break
			}
		}
		if !trusted {
			return credential.NewError(credential.ErrCodeInvalid,
				fmt.Sprintf("issuer %s is not trusted", p.Issuer.ID))
		}
	}

	if v.revocations != nil && v.revocations.IsRevoked(p.CredentialID) {
		return credential.WrapError(credential.ErrCodeRevoked,
			fmt.Sprintf("credential %s has been revoked", p.CredentialID), nil)
	}

	return nil
}

// Authorize verifies the credential and evaluates the permission request
// against its grants. Unusable credentials (expired, revoked, untrusted)
// return an error; a permission denial is a normal Decision outcome.
func (v *Verifier) Authorize(p *credential.Payload, req permission.Request) (permission.Decision, error) {
	if err := v.VerifyCredential(p); err != nil {
		return permission.Decision{}, err
	}

	decision := permission.Check(p.Permissions, req)
	if !decision.Granted {
		v.logger.Debug("permission denied",
			zap.String("credential_id", p.CredentialID),
			zap.String("resource", req.Resource),
			zap.String("action", req.Action),
			zap.String("reason", decision.Reason))
	}
	return decision, nil
}
