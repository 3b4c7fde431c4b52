package blackboard

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReservedKeys(t *testing.T) {
	idx := 2
	b := New(map[string]any{"x": 1}, &idx, "job-1", "20260730120000", "flows/a.yaml")

	v, ok := b.Get(KeyInput)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"x": 1}, v)

	v, ok = b.Get(KeyLoopIndex)
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, _ = b.Get(KeyJobID)
	assert.Equal(t, "job-1", v)

	v, _ = b.Get(KeyFlowPath)
	assert.Equal(t, "flows/a.yaml", v)

	assert.Empty(t, b.Errors())
}

func TestGetByKeyDot(t *testing.T) {
	b := New(nil, nil, "", "", "")
	b.Set("A", map[string]any{"n": 1})

	whole, err := b.GetByKey(".")
	require.NoError(t, err)
	assert.Equal(t, b.Raw(), whole)

	v, err := b.GetByKey("A")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 1}, v)

	_, err = b.GetByKey("missing")
	require.Error(t, err)
	var mk *MissingKeyError
	assert.ErrorAs(t, err, &mk)
}

func TestAppendAndExtendErrors(t *testing.T) {
	b := New(nil, nil, "", "", "")
	b.AppendError(Error{Step: "A", Err: "boom"})
	b.ExtendErrors([]Error{{Step: "B", Err: "bang"}, {Step: "C", Err: "pow"}})

	errs := b.Errors()
	require.Len(t, errs, 3)
	assert.Equal(t, "A", errs[0].Step)
	assert.Equal(t, "C", errs[2].Step)
}

func TestSanitizeUnmarshalableValue(t *testing.T) {
	ch := make(chan int)
	sanitized := Sanitize(map[string]any{"c": ch, "n": 3})
	m := sanitized.(map[string]any)
	assert.Equal(t, 3, m["n"])
	assert.Contains(t, m["c"].(string), "chan")
}

func TestMarshalJSONRoundTrips(t *testing.T) {
	b := New(map[string]any{"a": 1}, nil, "job-2", "ts", "flow.yaml")
	b.Set("step1", "ok")

	raw, err := json.Marshal(b)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "ok", decoded["step1"])
	assert.Equal(t, "job-2", decoded[KeyJobID])
}
