package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	assert.Equal(t, float32(1), Score([]float32{1, 0}, []float32{1, 0}))
	assert.Equal(t, float32(0), Score([]float32{1, 0}, []float32{0, 1}))
	assert.InDelta(t, float32(11), Score([]float32{1, 2}, []float32{3, 4}), 1e-6)
}

func TestNormalizeL2InPlace(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	assert.False(t, NormalizeL2InPlace([]float32{0, 0}))
	assert.False(t, NormalizeL2InPlace(nil))
}

func TestNormalizeL2Copy(t *testing.T) {
	src := []float32{2, 0, 0}
	dst, ok := NormalizeL2Copy(src)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0}, dst)
	assert.Equal(t, []float32{2, 0, 0}, src, "source unchanged")
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("cosine")
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)
	assert.True(t, m.Normalizes())

	m, err = ParseMetric("dot")
	require.NoError(t, err)
	assert.Equal(t, MetricDot, m)
	assert.False(t, m.Normalizes())

	_, err = ParseMetric("l2")
	assert.Error(t, err)
}
