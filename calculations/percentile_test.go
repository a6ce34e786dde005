package calculations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile_LinearInterpolation(t *testing.T) {
	values := []float64{4, 1, 3, 2}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{25, 1.75},
		{50, 2.5},
		{75, 3.25},
		{95, 3.85},
		{100, 4},
	}
	for _, tt := range tests {
		got, ok := Percentile(values, tt.p)
		require.True(t, ok)
		assert.InDelta(t, tt.want, got, 1e-9, "p%.0f", tt.p)
	}

	assert.Equal(t, []float64{4, 1, 3, 2}, values, "input must not be reordered")
}

func TestPercentile_EdgeCases(t *testing.T) {
	_, ok := Percentile(nil, 50)
	assert.False(t, ok)

	v, ok := Percentile([]float64{7}, 95)
	require.True(t, ok)
	assert.Equal(t, 7.0, v)

	assert.Nil(t, ComputePercentiles(nil))
}

func TestMedian_RobustToOutliers(t *testing.T) {
	m, ok := Median([]float64{1, 2, 3, 1000})
	require.True(t, ok)
	assert.Equal(t, 2.5, m)
}

func TestComputePercentiles(t *testing.T) {
	p := ComputePercentiles([]float64{100, 200, 300, 400})
	require.NotNil(t, p)
	assert.InDelta(t, 175, p.P25, 1e-9)
	assert.InDelta(t, 250, p.P50, 1e-9)
	assert.InDelta(t, 325, p.P75, 1e-9)
	assert.InDelta(t, 385, p.P95, 1e-9)
	assert.Equal(t, 400.0, p.Max)
}
