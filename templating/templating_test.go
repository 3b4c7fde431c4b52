package templating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalWhenTrueValues(t *testing.T) {
	data := map[string]any{"A": map[string]any{"n": 2}}

	ok, err := EvalWhen("A.n < 3", data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvalWhen("A.n > 3", data)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalAllWhenEmptyPasses(t *testing.T) {
	ok, err := EvalAllWhen(nil, map[string]any{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApplyJQIdentityIsNoOp(t *testing.T) {
	data := map[string]any{"x": 1, "y": 2}
	out, err := ApplyJQ(".", data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestApplyJQSingleResultOrNull(t *testing.T) {
	out, err := ApplyJQ(".x", map[string]any{"x": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	out, err = ApplyJQ(".arr[]", map[string]any{"arr": []any{1, 2}})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRenderValueWalksNested(t *testing.T) {
	data := map[string]any{"A": map[string]any{"n": 1}}
	out, err := RenderValue(map[string]any{
		"greeting": "hello {{ A.n }}",
		"nested":   []any{"{{ A.n }}", 3},
	}, data)
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "hello 1", m["greeting"])
	nested := m["nested"].([]any)
	assert.Equal(t, "1", nested[0])
	assert.Equal(t, 3, nested[1])
}
