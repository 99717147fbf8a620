package cachekey

import (
	"testing"

	"github.com/stretchr/testify/require"

	"facecache/internal/faceparams"
)

func samplePayload() faceparams.QuantizedParameters {
	return faceparams.QuantizedParameters{
		Values:        map[string]float64{faceparams.AxisSmile: 0.5},
		ImageURL:      "https://img.example/a.jpg",
		ModelID:       "stylegan-expr",
		CropFactor:    2.5,
		SrcRatio:      1,
		SampleRatio:   1,
		OutputFormat:  "webp",
		OutputQuality: 100,
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	p := samplePayload()
	require.Equal(t, Derive(p), Derive(p))
}

func TestDeriveDiffersOnAnyField(t *testing.T) {
	base := samplePayload()
	variant := samplePayload()
	variant.OutputQuality = 90
	require.NotEqual(t, Derive(base), Derive(variant))
}

func TestDeriveIgnoresAbsentVsPresentEquivalence(t *testing.T) {
	p1 := samplePayload()
	p2 := samplePayload()
	delete(p2.Values, faceparams.AxisSmile)
	// Differing only in an absent axis changes the canonical byte string,
	// so the keys must differ -- this is the same invariant phrased the
	// other way: identical canonical bytes imply identical keys.
	require.NotEqual(t, Derive(p1), Derive(p2))
	require.Equal(t, Canonicalize(p1) == Canonicalize(p2), Derive(p1) == Derive(p2))
}

func TestSanitizeModelID(t *testing.T) {
	require.Equal(t, "a_b_c123", SanitizeModelID("a/b:c123"))
}

func TestPathChangesWithVersion(t *testing.T) {
	key := Derive(samplePayload())
	p1 := Path("v1", "styleGAN/expr", key)
	p2 := Path("v2", "styleGAN/expr", key)
	require.NotEqual(t, p1, p2)
	require.Contains(t, p1, "cache/v1/")
	require.Contains(t, p1, string(key))
}
