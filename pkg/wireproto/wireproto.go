// Package wireproto defines the wire format shared by the CCD and the SPC
// across the POST /api/replicate boundary (spec.md §6). Field names are
// snake_case to match the documented contract.
package wireproto

import "facecache/internal/faceparams"

// ReplicateRequest is the JSON body the CCD POSTs to the SPC.
type ReplicateRequest struct {
	Image         string   `json:"image"`
	RotatePitch   *float64 `json:"rotate_pitch,omitempty"`
	RotateYaw     *float64 `json:"rotate_yaw,omitempty"`
	RotateRoll    *float64 `json:"rotate_roll,omitempty"`
	PupilX        *float64 `json:"pupil_x,omitempty"`
	PupilY        *float64 `json:"pupil_y,omitempty"`
	Smile         *float64 `json:"smile,omitempty"`
	Blink         *float64 `json:"blink,omitempty"`
	Eyebrow       *float64 `json:"eyebrow,omitempty"`
	Wink          *float64 `json:"wink,omitempty"`
	CropFactor    float64  `json:"crop_factor"`
	SrcRatio      float64  `json:"src_ratio"`
	SampleRatio   float64  `json:"sample_ratio"`
	OutputFormat  string   `json:"output_format"`
	OutputQuality int      `json:"output_quality"`
}

// ReplicateResponse is the success body: {"url": "..."}.
type ReplicateResponse struct {
	URL string `json:"url"`
}

// ErrorResponse is the body returned alongside any 4xx/5xx.
type ErrorResponse struct {
	Error string `json:"error"`
}

var axisFields = map[string]func(*ReplicateRequest) *float64{
	faceparams.AxisRotatePitch: func(r *ReplicateRequest) *float64 { return r.RotatePitch },
	faceparams.AxisRotateYaw:   func(r *ReplicateRequest) *float64 { return r.RotateYaw },
	faceparams.AxisRotateRoll:  func(r *ReplicateRequest) *float64 { return r.RotateRoll },
	faceparams.AxisPupilX:      func(r *ReplicateRequest) *float64 { return r.PupilX },
	faceparams.AxisPupilY:      func(r *ReplicateRequest) *float64 { return r.PupilY },
	faceparams.AxisSmile:       func(r *ReplicateRequest) *float64 { return r.Smile },
	faceparams.AxisBlink:       func(r *ReplicateRequest) *float64 { return r.Blink },
	faceparams.AxisEyebrow:     func(r *ReplicateRequest) *float64 { return r.Eyebrow },
	faceparams.AxisWink:        func(r *ReplicateRequest) *float64 { return r.Wink },
}

// ToFaceParameters converts a wire request into the internal sparse
// representation, applying the §6 transport-field defaults for any zero
// value left unset by the client.
func (r *ReplicateRequest) ToFaceParameters(defaults faceparams.TransportDefaults) faceparams.FaceParameters {
	values := make(map[string]float64, 9)
	for axis, getter := range axisFields {
		if v := getter(r); v != nil {
			values[axis] = *v
		}
	}

	format := r.OutputFormat
	if format == "" {
		format = defaults.OutputFormat
	}
	quality := r.OutputQuality
	if quality == 0 {
		quality = defaults.OutputQuality
	}
	sampleRatio := r.SampleRatio
	if sampleRatio == 0 {
		sampleRatio = defaults.SampleRatio
	}
	cropFactor := r.CropFactor
	if cropFactor == 0 {
		cropFactor = defaults.CropFactor
	}
	srcRatio := r.SrcRatio
	if srcRatio == 0 {
		srcRatio = defaults.SrcRatio
	}

	return faceparams.FaceParameters{
		Values:        values,
		ImageURL:      r.Image,
		CropFactor:    cropFactor,
		SrcRatio:      srcRatio,
		SampleRatio:   sampleRatio,
		OutputFormat:  format,
		OutputQuality: quality,
	}
}

// FromQuantized renders a QuantizedParameters back into the wire shape, the
// direction the CCD uses to build its outgoing POST body.
func FromQuantized(p faceparams.QuantizedParameters) ReplicateRequest {
	req := ReplicateRequest{
		Image:         p.ImageURL,
		CropFactor:    p.CropFactor,
		SrcRatio:      p.SrcRatio,
		SampleRatio:   p.SampleRatio,
		OutputFormat:  p.OutputFormat,
		OutputQuality: p.OutputQuality,
	}
	setters := map[string]func(float64){
		faceparams.AxisRotatePitch: func(v float64) { req.RotatePitch = &v },
		faceparams.AxisRotateYaw:   func(v float64) { req.RotateYaw = &v },
		faceparams.AxisRotateRoll:  func(v float64) { req.RotateRoll = &v },
		faceparams.AxisPupilX:      func(v float64) { req.PupilX = &v },
		faceparams.AxisPupilY:      func(v float64) { req.PupilY = &v },
		faceparams.AxisSmile:       func(v float64) { req.Smile = &v },
		faceparams.AxisBlink:       func(v float64) { req.Blink = &v },
		faceparams.AxisEyebrow:     func(v float64) { req.Eyebrow = &v },
		faceparams.AxisWink:        func(v float64) { req.Wink = &v },
	}
	for axis, v := range p.Values {
		if set, ok := setters[axis]; ok {
			set(v)
		}
	}
	return req
}

// validOutputFormats is the documented enum for output_format (§6); jpeg is
// accepted as a synonym for jpg, matching OutputExtension's own leniency.
var validOutputFormats = map[string]bool{
	"":     true, // unset, defaults applied by ToFaceParameters
	"webp": true,
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// ValidOutputFormat reports whether format is empty (meaning "apply the
// default") or one of the documented output_format values. Anything else is
// an "unknown output format" 4xx per §4.4.5.
func ValidOutputFormat(format string) bool {
	return validOutputFormats[format]
}

// OutputExtension maps an output_format to the file extension used when
// persisting the artifact to the blob tier (<CachePath>.<ext>, §3).
func OutputExtension(format string) string {
	switch format {
	case "png":
		return "png"
	case "jpg", "jpeg":
		return "jpg"
	default:
		return "webp"
	}
}
