package faceparams

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuantizeAxisSeedScenario(t *testing.T) {
	// §8 scenario 1: smile=0.42, min=-0.3, max=1.3, NUM_BUCKETS=6.
	q := NewQuantizer(6)
	v, err := q.QuantizeAxis(0.42, -0.3, 1.3)
	require.NoError(t, err)
	require.InDelta(t, 0.5, v, 1e-9)
}

func TestQuantizeAxisIdempotent(t *testing.T) {
	q := NewQuantizer(6)
	r := Ranges[AxisSmile]
	for v := r.Min; v <= r.Max; v += 0.037 {
		once, err := q.QuantizeAxis(v, r.Min, r.Max)
		require.NoError(t, err)
		twice, err := q.QuantizeAxis(once, r.Min, r.Max)
		require.NoError(t, err)
		require.Equal(t, once, twice, "quantize must be idempotent for v=%v", v)
	}
}

func TestQuantizeAxisMonotonic(t *testing.T) {
	q := NewQuantizer(6)
	r := Ranges[AxisRotateYaw]
	prev, _ := q.QuantizeAxis(r.Min, r.Min, r.Max)
	for v := r.Min; v <= r.Max; v += 0.25 {
		cur, err := q.QuantizeAxis(v, r.Min, r.Max)
		require.NoError(t, err)
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestQuantizeAxisBoundedEndpoints(t *testing.T) {
	q := NewQuantizer(6)
	r := Ranges[AxisBlink]
	endpoints := q.EndpointValues(r.Min, r.Max)
	require.LessOrEqual(t, len(endpoints), 7)

	for v := r.Min - 10; v <= r.Max+10; v += 1.3 {
		qv, err := q.QuantizeAxis(v, r.Min, r.Max)
		require.NoError(t, err)
		require.Contains(t, endpoints, qv)
	}
}

func TestQuantizeAxisInvalidInputs(t *testing.T) {
	q := NewQuantizer(6)
	_, err := q.QuantizeAxis(nan(), -1, 1)
	require.Error(t, err)
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestQuantizeAbsentAxisStaysAbsent(t *testing.T) {
	q := NewQuantizer(6)
	out, err := q.Quantize(FaceParameters{
		Values:       map[string]float64{AxisSmile: 0.1},
		ImageURL:     "https://example/img.jpg",
		OutputFormat: "webp",
	})
	require.NoError(t, err)
	_, ok := out.Values[AxisBlink]
	require.False(t, ok)
	_, ok = out.Values[AxisSmile]
	require.True(t, ok)
}

func TestQuantizeUnknownAxisRejected(t *testing.T) {
	q := NewQuantizer(6)
	_, err := q.Quantize(FaceParameters{Values: map[string]float64{"nonexistent": 1}})
	require.Error(t, err)
}
