package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Basic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"string slice", []string{"b", "a"}, `["b","a"]`},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"html not escaped", "<a&b>", `"<a&b>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

// TestMarshalCanonical_SortedKeys checks nested objects sort their keys.
func TestMarshalCanonical_SortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"b": 1, "a": 2},
		"beta":  []any{"x", 3},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"beta":["x",3],"zebra":1}`, string(result))
}

// TestMarshalCanonical_Rejects checks floats and nulls are refused.
func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(1.5)
	assert.Error(t, err)

	_, err = MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)
}

// TestMarshalCanonical_NFC checks decomposed strings hash like composed ones.
func TestMarshalCanonical_NFC(t *testing.T) {
	composed, err := MarshalCanonical("caf\u00e9")
	require.NoError(t, err)
	decomposed, err := MarshalCanonical("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

// TestMarshalCanonical_LineSeparators checks U+2028 is emitted literally.
func TestMarshalCanonical_LineSeparators(t *testing.T) {
	result, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(result))

	escaped, err := MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(escaped))
}

// TestSum_DomainSeparation checks the domain participates in the hash.
func TestSum_DomainSeparation(t *testing.T) {
	a := Sum("d1", []byte("data"))
	b := Sum("d2", []byte("data"))
	assert.NotEqual(t, a, b)
	assert.Len(t, a, Size*2)
	assert.Equal(t, a, Sum("d1", []byte("data")))
}

// TestUnitKey_Stable checks keys only change when inputs change.
func TestUnitKey_Stable(t *testing.T) {
	k1 := MustUnitKey("/Game/A", "texture", "v1")
	k2 := MustUnitKey("/Game/A", "texture", "v1")
	k3 := MustUnitKey("/Game/A", "texture", "v2")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

// TestUnitKey_Defines checks build definitions feed the key without disturbing
// keys of units that declare none.
func TestUnitKey_Defines(t *testing.T) {
	plain := MustUnitKey("/Game/A", "texture", "v1")
	empty := MustUnitKey("/Game/A", "texture", "v1", []string{}...)
	defined := MustUnitKey("/Game/A", "texture", "v1", "LOD=2")
	other := MustUnitKey("/Game/A", "texture", "v1", "LOD=3")

	assert.Equal(t, plain, empty)
	assert.NotEqual(t, plain, defined)
	assert.NotEqual(t, defined, other)
	assert.Equal(t, defined, MustUnitKey("/Game/A", "texture", "v1", "LOD=2"))
}

// TestGenerationHash_DependencyOrder checks dependency hashes are order-sensitive.
func TestGenerationHash_DependencyOrder(t *testing.T) {
	base := GenerationHash("seed", nil)
	withDeps := GenerationHash("seed", []string{"h1", "h2"})
	swapped := GenerationHash("seed", []string{"h2", "h1"})

	assert.NotEqual(t, base, withDeps)
	assert.NotEqual(t, withDeps, swapped)
	assert.Equal(t, withDeps, GenerationHash("seed", []string{"h1", "h2"}))
}
