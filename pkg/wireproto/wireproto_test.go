package wireproto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"facecache/internal/faceparams"
)

func TestToFaceParametersAppliesDefaultsOnlyForZeroFields(t *testing.T) {
	defaults := faceparams.TransportDefaults{
		OutputFormat:  "webp",
		OutputQuality: 100,
		SampleRatio:   1,
		CropFactor:    2.5,
		SrcRatio:      1,
	}

	smile := 0.42
	req := ReplicateRequest{
		Image:      "https://example.com/a.jpg",
		Smile:      &smile,
		CropFactor: 3.0, // explicit, should not be overridden
	}

	p := req.ToFaceParameters(defaults)
	require.Equal(t, "https://example.com/a.jpg", p.ImageURL)
	require.Equal(t, 3.0, p.CropFactor)
	require.Equal(t, defaults.OutputFormat, p.OutputFormat)
	require.Equal(t, defaults.OutputQuality, p.OutputQuality)
	require.Equal(t, defaults.SampleRatio, p.SampleRatio)
	require.Equal(t, defaults.SrcRatio, p.SrcRatio)
	require.Equal(t, 0.42, p.Values[faceparams.AxisSmile])
	_, hasYaw := p.Values[faceparams.AxisRotateYaw]
	require.False(t, hasYaw)
}

func TestFromQuantizedRoundTripsSetAxes(t *testing.T) {
	q := faceparams.QuantizedParameters{
		Values:        map[string]float64{faceparams.AxisBlink: -5, faceparams.AxisWink: 2},
		ImageURL:      "https://example.com/b.jpg",
		ModelID:       "m1",
		CropFactor:    2.5,
		SrcRatio:      1,
		SampleRatio:   1,
		OutputFormat:  "png",
		OutputQuality: 90,
	}

	req := FromQuantized(q)
	require.Equal(t, "https://example.com/b.jpg", req.Image)
	require.NotNil(t, req.Blink)
	require.Equal(t, -5.0, *req.Blink)
	require.NotNil(t, req.Wink)
	require.Equal(t, 2.0, *req.Wink)
	require.Nil(t, req.Smile)
}

func TestOutputExtension(t *testing.T) {
	require.Equal(t, "png", OutputExtension("png"))
	require.Equal(t, "jpg", OutputExtension("jpeg"))
	require.Equal(t, "webp", OutputExtension("webp"))
	require.Equal(t, "webp", OutputExtension(""))
}
