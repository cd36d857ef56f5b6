package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeys(t *testing.T) {
	a, err := Marshal(map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)

	b, err := Marshal(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":1,"b":2}`, string(a))
}

func TestMarshal_SortsNestedKeys(t *testing.T) {
	out, err := Marshal(map[string]interface{}{
		"z": map[string]interface{}{"beta": 2, "alpha": 1},
		"a": []interface{}{3, 2, 1},
	})
	require.NoError(t, err)

	// Arrays keep their order, nested object keys are sorted.
	assert.Equal(t, `{"a":[3,2,1],"z":{"alpha":1,"beta":2}}`, string(out))
}

func TestMarshal_RespectsStructTags(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		ID    string `json:"id"`
		Empty string `json:"empty,omitempty"`
	}

	out, err := Marshal(payload{Name: "agent", ID: "cred_1"})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"cred_1","name":"agent"}`, string(out))
}

func TestMarshalString(t *testing.T) {
	s, err := MarshalString(map[string]interface{}{"x": true})
	require.NoError(t, err)
	assert.Equal(t, `{"x":true}`, s)
}
