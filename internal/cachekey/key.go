// Package cachekey derives the content-addressed CacheKey and CachePath
// from a QuantizedParameters payload (spec.md §3, §4.2).
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"facecache/internal/faceparams"
)

// CacheKey is a hex-encoded SHA-256 digest of the canonical JSON
// serialization of a quantized payload.
type CacheKey string

// Canonicalize renders a QuantizedParameters as canonical JSON: object keys
// in ascending lexicographic order, no insignificant whitespace, numbers
// rendered with the same two-decimal rounding as quantization, model ID
// always included. Two semantically equal payloads produce byte-identical
// output and therefore identical keys (§3 invariant).
//
// The source material sometimes included the model identifier in the hash
// and sometimes didn't (§9 Open Question). This implementation always
// includes it, per the specification's mandate.
func Canonicalize(p faceparams.QuantizedParameters) string {
	var b strings.Builder
	b.WriteByte('{')

	type field struct {
		key string
		val string
	}
	fields := []field{
		{"crop_factor", formatNumber(p.CropFactor)},
		{"image", quoteJSON(p.ImageURL)},
		{"model_id", quoteJSON(p.ModelID)},
		{"output_format", quoteJSON(p.OutputFormat)},
		{"output_quality", strconv.Itoa(p.OutputQuality)},
		{"sample_ratio", formatNumber(p.SampleRatio)},
		{"src_ratio", formatNumber(p.SrcRatio)},
	}

	for _, axis := range faceparams.OrderedAxes() {
		if v, ok := p.Values[axis]; ok {
			fields = append(fields, field{axis, formatNumber(v)})
		}
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].key < fields[j].key })

	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteJSON(f.key))
		b.WriteByte(':')
		b.WriteString(f.val)
	}

	b.WriteByte('}')
	return b.String()
}

// Derive computes the CacheKey for a quantized payload.
func Derive(p faceparams.QuantizedParameters) CacheKey {
	canon := Canonicalize(p)
	sum := sha256.Sum256([]byte(canon))
	return CacheKey(hex.EncodeToString(sum[:]))
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizeModelID replaces every non-alphanumeric character with '_'.
func SanitizeModelID(modelID string) string {
	return nonAlphanumeric.ReplaceAllString(modelID, "_")
}

// Path builds a CachePath: cache/<version>/<sanitized-model-id>/<key>.
// Bumping version invalidates every prior entry without deleting it (§3).
func Path(version string, modelID string, key CacheKey) string {
	return fmt.Sprintf("cache/%s/%s/%s", version, SanitizeModelID(modelID), key)
}

func formatNumber(v float64) string {
	// Same rounding convention as quantization: two decimals, rendered as
	// e.g. "0.00" rather than "0", so that JSON encoding is unambiguous
	// across axes that do and don't carry a fractional part.
	return strconv.FormatFloat(roundTo2(v), 'f', 2, 64)
}

func roundTo2(v float64) float64 {
	const scale = 100
	r := v * scale
	if r < 0 {
		return float64(int64(r-0.5)) / scale
	}
	return float64(int64(r+0.5)) / scale
}

func quoteJSON(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
