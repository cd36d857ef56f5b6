// Package canonical produces deterministic JSON for signing.
package canonical

import (
	"encoding/json"
	"fmt"
)

// Marshal renders v as canonical JSON: object keys are sorted
// lexicographically at every nesting level, array order is preserved, and
// primitives follow encoding/json semantics. Two semantically equal values
// with different key insertion order produce byte-identical output.
func Marshal(v interface{}) ([]byte, error) {
	// Round-trip through the generic representation so struct json tags are
	// respected, then re-marshal: encoding/json sorts map keys at every level.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into generic form: %w", err)
	}

	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create canonical json: %w", err)
	}
	return out, nil
}

// MarshalString is Marshal returning a string.
func MarshalString(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
