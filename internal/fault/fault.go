// Package fault classifies pipeline failures so the worker can decide how to
// recover: device failures are fatal to capture, everything else aborts the
// current attempt and returns the pipeline to idle.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the failure class of an [Error].
type Kind int

const (
	// Unknown is returned by [KindOf] for errors outside the taxonomy.
	Unknown Kind = iota

	// Device means the audio source is unusable. Fatal to the capture task.
	Device

	// Inference means a model rejected its input or failed. Only the current
	// segment is dropped.
	Inference

	// NetworkTimeout means a remote call ran past its deadline.
	NetworkTimeout

	// Network means a remote call failed for any other reason.
	Network

	// ValidationRejected means a wake or speaker check did not pass. Expected
	// under normal false-trigger noise.
	ValidationRejected

	// ParseFailure means neither the rule grammar nor the fallback produced a
	// command.
	ParseFailure
)

// String returns the lower_snake name used in logs and metric attributes.
func (k Kind) String() string {
	switch k {
	case Device:
		return "device"
	case Inference:
		return "inference"
	case NetworkTimeout:
		return "network_timeout"
	case Network:
		return "network"
	case ValidationRejected:
		return "validation_rejected"
	case ParseFailure:
		return "parse_failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching on the failure class.
var (
	ErrDevice             = &Error{Kind: Device}
	ErrInference          = &Error{Kind: Inference}
	ErrNetworkTimeout     = &Error{Kind: NetworkTimeout}
	ErrNetwork            = &Error{Kind: Network}
	ErrValidationRejected = &Error{Kind: ValidationRejected}
	ErrParseFailure       = &Error{Kind: ParseFailure}
)

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind

	// Stage names the pipeline stage that failed ("capture", "wake",
	// "speaker", "feedback", "stt", "parse").
	Stage string

	// Reason is a short machine-readable cause, e.g. "segment_too_short".
	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so fault.ErrNetwork matches every
// network failure regardless of stage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Stage == "" && t.Reason == "" && t.Err == nil
}

// New returns a classified error.
func New(kind Kind, stage, reason string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Reason: reason, Err: err}
}

// DeviceError wraps an audio source failure.
func DeviceError(err error) *Error { return New(Device, "capture", "", err) }

// InferenceError wraps a model failure in stage.
func InferenceError(stage string, err error) *Error { return New(Inference, stage, "", err) }

// Rejected reports an expected validation rejection.
func Rejected(stage, reason string) *Error { return New(ValidationRejected, stage, reason, nil) }

// Errorf returns a classified error with a formatted cause.
func Errorf(kind Kind, stage, format string, args ...any) *Error {
	return New(kind, stage, "", fmt.Errorf(format, args...))
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// FromHTTP classifies the error of a remote call: deadline expiry and network
// timeouts become NetworkTimeout, everything else Network. Errors that are
// already classified pass through unchanged. Nil stays nil.
func FromHTTP(stage string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(NetworkTimeout, stage, "", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return New(NetworkTimeout, stage, "", err)
	}
	return New(Network, stage, "", err)
}
