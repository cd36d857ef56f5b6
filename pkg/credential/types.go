package credential

import (
	"time"

	"github.com/agentid-dev/agentid-go/pkg/permission"
)

// Issuer identifies the party that issued a credential.
type Issuer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// Constraints bound a credential's validity.
type Constraints struct {
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`

	// MaxRequestsPerDay caps request volume when set by the issuer.
	MaxRequestsPerDay int `json:"max_requests_per_day,omitempty"`
}

// Payload is an issued credential. It is immutable once issued; a new
// signature is produced only on renewal, server-side.
type Payload struct {
	CredentialID string                  `json:"credential_id"`
	AgentID      string                  `json:"agent_id"`
	AgentName    string                  `json:"agent_name"`
	AgentType    string                  `json:"agent_type"`
	Issuer       Issuer                  `json:"issuer"`
	Permissions  []permission.Permission `json:"permissions"`
	Constraints  Constraints             `json:"constraints"`
	Signature    string                  `json:"signature,omitempty"`
}

// Status tracks the last observed state of a credential reference.
type Status string

const (
	StatusUnloaded Status = "unloaded"
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
	StatusInvalid  Status = "invalid"
)

// VerifyResponse is the verify endpoint's response shape.
type VerifyResponse struct {
	Valid      bool     `json:"valid"`
	Credential *Payload `json:"credential,omitempty"`
	Error      string   `json:"error,omitempty"`
	ErrorCode  string   `json:"error_code,omitempty"`
	TrustScore *float64 `json:"trust_score,omitempty"`
}
