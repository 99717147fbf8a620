package faceparams

import (
	"math"

	"facecache/internal/cacheerrors"
)

// QuantizedParameters is the post-quantization counterpart of
// FaceParameters: every present axis has been snapped to one of
// NumBuckets+1 representable endpoints, clamped to range, and rounded to
// two decimals (§3, §4.1).
type QuantizedParameters struct {
	Values map[string]float64

	ImageURL      string
	ModelID       string
	CropFactor    float64
	SrcRatio      float64
	SampleRatio   float64
	OutputFormat  string
	OutputQuality int
}

// Quantizer implements the pure, deterministic mapping from a continuous
// scalar to its quantized counterpart (§4.1).
type Quantizer struct {
	NumBuckets int
}

// NewQuantizer builds a Quantizer for the given bucket count (typically the
// core's NUM_BUCKETS constant, default 6).
func NewQuantizer(numBuckets int) Quantizer {
	if numBuckets <= 0 {
		numBuckets = 6
	}
	return Quantizer{NumBuckets: numBuckets}
}

// QuantizeAxis maps one scalar value on [min, max] to its quantized
// endpoint: bucketSize = (max-min)/NUM_BUCKETS; i = round((v-min)/bucketSize);
// q = clamp(min + i*bucketSize, min, max); result = round(q*100)/100.
func (q Quantizer) QuantizeAxis(v, min, max float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, cacheerrors.New(cacheerrors.KindInvalidParameter, "axis value is NaN or infinite")
	}
	if math.IsNaN(min) || math.IsNaN(max) || min > max {
		return 0, cacheerrors.New(cacheerrors.KindInvalidParameter, "invalid axis range")
	}

	bucketSize := (max - min) / float64(q.NumBuckets)
	if bucketSize == 0 {
		return round2(clamp(v, min, max)), nil
	}

	i := math.Round((v - min) / bucketSize)
	qv := min + i*bucketSize
	qv = clamp(qv, min, max)
	return round2(qv), nil
}

// EndpointValues returns every representable quantized endpoint for an
// axis, in ascending order — at most NumBuckets+1 values (§4.1 guarantee).
func (q Quantizer) EndpointValues(min, max float64) []float64 {
	bucketSize := (max - min) / float64(q.NumBuckets)
	out := make([]float64, 0, q.NumBuckets+1)
	seen := make(map[float64]struct{}, q.NumBuckets+1)
	for i := 0; i <= q.NumBuckets; i++ {
		v := clamp(min+float64(i)*bucketSize, min, max)
		v = round2(v)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Quantize maps a full FaceParameters payload to its QuantizedParameters
// counterpart. Absent axes stay absent.
func (q Quantizer) Quantize(p FaceParameters) (QuantizedParameters, error) {
	// Transport-field defaults are applied once, at the wire boundary
	// (pkg/wireproto), so FaceParameters here is assumed fully populated.
	out := QuantizedParameters{
		Values:        make(map[string]float64, len(p.Values)),
		ImageURL:      p.ImageURL,
		ModelID:       p.ModelID,
		CropFactor:    p.CropFactor,
		SrcRatio:      p.SrcRatio,
		SampleRatio:   p.SampleRatio,
		OutputFormat:  p.OutputFormat,
		OutputQuality: p.OutputQuality,
	}

	for axis, v := range p.Values {
		r, ok := Ranges[axis]
		if !ok {
			return QuantizedParameters{}, cacheerrors.New(cacheerrors.KindInvalidParameter, "unknown axis: "+axis)
		}
		qv, err := q.QuantizeAxis(v, r.Min, r.Max)
		if err != nil {
			return QuantizedParameters{}, err
		}
		out.Values[axis] = qv
	}
	return out, nil
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
