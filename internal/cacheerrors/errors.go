// Package cacheerrors defines the error taxonomy shared by the CCD and the
// SPC, per the error handling design of the caching core.
package cacheerrors

import "errors"

// Kind classifies a failure for caller-visible behavior. On the SPC, only
// InvalidParameter is ever written back to a caller as a hard 4xx; every
// other kind becomes a 5xx whose body carries the error message only. The
// kind does not cross the wire: the CCD reports a cancelled dispatch as
// Cancelled and every other failure as UpstreamUnavailable, and the SPC's
// outcome events and telemetry rows do not record the kind.
type Kind string

const (
	KindInvalidParameter  Kind = "InvalidParameter"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindModelFailure      Kind = "ModelFailure"
	KindModelTimeout      Kind = "ModelTimeout"
	KindStorageFailure    Kind = "StorageFailure"
	KindCancelled         Kind = "Cancelled"
)

// Error is the concrete error type carried across package boundaries so
// that both the CCD and the SPC can switch on Kind without string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to "" when err isn't one of
// ours (e.g. a raw network error that hasn't been classified yet).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsCancelled reports whether err represents a superseded request. Callers
// on the interactive path are expected to ignore this silently.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

var ErrCachingInProgress = errors.New("caching in progress")
