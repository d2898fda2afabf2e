// Package errors provides unified error handling for the session engine.
// Every failure that crosses a component boundary carries a Code so the
// session controller can decide the state transition without string matching.
package errors

import "fmt"

// Code classifies session engine failures.
type Code int

const (
	Unknown Code = iota
	Internal
	// DeviceUnavailable means the capture device could not be acquired
	// (missing hardware or denied permission). Fatal to session start,
	// recoverable only by an explicit retry.
	DeviceUnavailable
	// ConnectionError covers transport open and mid-session channel failures.
	ConnectionError
	// NoSpeech is the protocol-level non-error: the server heard nothing.
	NoSpeech
	// PlaybackFailure covers payload decoding and output device errors.
	PlaybackFailure
	// MalformedMessage marks an inbound frame that could not be parsed.
	MalformedMessage
	ConfigInvalid
)

func (c Code) String() string {
	switch c {
	case Internal:
		return "INTERNAL"
	case DeviceUnavailable:
		return "DEVICE_UNAVAILABLE"
	case ConnectionError:
		return "CONNECTION_ERROR"
	case NoSpeech:
		return "NO_SPEECH"
	case PlaybackFailure:
		return "PLAYBACK_FAILURE"
	case MalformedMessage:
		return "MALFORMED_MESSAGE"
	case ConfigInvalid:
		return "CONFIG_INVALID"
	default:
		return "UNKNOWN"
	}
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the code from an error, walking the cause chain.
func CodeOf(err error) Code {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Unknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable returns true if the error is potentially retryable.
// Device denial is not: retrying without user action cannot succeed.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ConnectionError, Internal:
		return true
	default:
		return false
	}
}
