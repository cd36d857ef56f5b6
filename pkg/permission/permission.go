// Package permission evaluates credential permission grants.
package permission

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the two permission representations found in issued
// credentials.
type Kind int

const (
	// KindLegacy is a bare action string. Legacy credentials carry these;
	// they match any resource.
	KindLegacy Kind = iota

	// KindStructured is a resource glob with an action list and optional
	// conditions.
	KindStructured
)

// Conditions are the optional predicates attached to a structured permission,
// evaluated against the caller-supplied request context.
type Conditions struct {
	// MaxTransactionAmount caps a single transaction.
	MaxTransactionAmount *float64 `json:"max_transaction_amount,omitempty"`

	// AllowedRegions restricts the caller's region. An absent region in the
	// request context is not a failure.
	AllowedRegions []string `json:"allowed_regions,omitempty"`

	// DailySpendLimit caps cumulative spend: dailySpent + amount must stay
	// at or under the limit.
	DailySpendLimit *float64 `json:"daily_spend_limit,omitempty"`
}

// Permission is a tagged variant: either a legacy action string or a
// structured grant. The JSON forms are a bare string and an object.
type Permission struct {
	kind Kind

	// Legacy action (KindLegacy only).
	Action string

	// Structured fields (KindStructured only).
	Resource   string
	Actions    []string
	Conditions *Conditions
}

// Legacy creates a legacy string permission.
func Legacy(action string) Permission {
	return Permission{kind: KindLegacy, Action: action}
}

// Structured creates a structured permission.
func Structured(resource string, actions []string, conditions *Conditions) Permission {
	return Permission{
		kind:       KindStructured,
		Resource:   resource,
		Actions:    actions,
		Conditions: conditions,
	}
}

// Kind returns the variant tag.
func (p Permission) Kind() Kind {
	return p.kind
}

type structuredJSON struct {
	Resource   string      `json:"resource"`
	Actions    []string    `json:"actions"`
	Conditions *Conditions `json:"conditions,omitempty"`
}

// UnmarshalJSON accepts both the bare-string and object wire forms.
func (p *Permission) UnmarshalJSON(data []byte) error {
	var action string
	if err := json.Unmarshal(data, &action); err == nil {
		*p = Legacy(action)
		return nil
	}

	var s structuredJSON
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("permission must be a string or an object: %w", err)
	}
	*p = Structured(s.Resource, s.Actions, s.Conditions)
	return nil
}

// MarshalJSON emits the wire form matching the variant.
func (p Permission) MarshalJSON() ([]byte, error) {
	if p.kind == KindLegacy {
		return json.Marshal(p.Action)
	}
	return json.Marshal(structuredJSON{
		Resource:   p.Resource,
		Actions:    p.Actions,
		Conditions: p.Conditions,
	})
}
