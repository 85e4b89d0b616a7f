package method

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethod(t *testing.T) {
	for _, method := range List {
		assert.Equal(t, method.String(), Parse(method.String()).String())
	}

	require.Equal(t, Unknown, Parse("PATCH"))
	require.Equal(t, Unknown, Parse("get"))
	require.Equal(t, Unknown, Parse(""))
	require.Equal(t, "UNKNOWN", Method(200).String())
}

func TestSet(t *testing.T) {
	set := NewSet(GET, DELETE)
	require.True(t, set.Has(GET))
	require.True(t, set.Has(DELETE))
	require.False(t, set.Has(POST))
	require.False(t, set.Empty())
	require.True(t, Set(0).Empty())
	require.Equal(t, "GET, DELETE", set.Allow())
	require.Equal(t, "GET, HEAD", set.Add(HEAD).Remove(DELETE).Allow())
}
