package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalNames_Canonical(t *testing.T) {
	a, err := marshalNames([]string{"b", "a", "b", ""})
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, a)

	empty, err := marshalNames(nil)
	require.NoError(t, err)
	assert.Equal(t, `[]`, empty)

	names, err := unmarshalNames(empty)
	require.NoError(t, err)
	assert.Nil(t, names)
}

func TestCompressDefinitions(t *testing.T) {
	blob, err := compressDefinitions(nil)
	require.NoError(t, err)
	assert.Nil(t, blob, "no definitions are stored as NULL")

	defs := []string{"WITH_EDITOR=0", "PLATFORM_WIN64"}
	blob, err = compressDefinitions(defs)
	require.NoError(t, err)

	got, err := decompressDefinitions(blob)
	require.NoError(t, err)
	assert.Equal(t, defs, got)

	_, err = decompressDefinitions([]byte("not zstd"))
	assert.Error(t, err)
}
