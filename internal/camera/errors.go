package camera

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a capture failure
type ErrorKind string

const (
	KindDeviceUnavailable ErrorKind = "device_unavailable"
	KindNetworkError      ErrorKind = "network_error"
	KindAuthError         ErrorKind = "auth_error"
	KindBadResponse       ErrorKind = "bad_response"
)

// Sentinels for errors.Is matching on kind only
var (
	ErrDeviceUnavailable = &CaptureError{Kind: KindDeviceUnavailable}
	ErrNetwork           = &CaptureError{Kind: KindNetworkError}
	ErrAuth              = &CaptureError{Kind: KindAuthError}
	ErrBadResponse       = &CaptureError{Kind: KindBadResponse}
)

// CaptureError is returned by Source.Acquire
type CaptureError struct {
	Kind   ErrorKind
	Source string
	Msg    string
	Err    error
}

func (e *CaptureError) Error() string {
	msg := fmt.Sprintf("capture %s: %s", e.Source, e.Kind)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Is matches another CaptureError of the same kind
func (e *CaptureError) Is(target error) bool {
	t, ok := target.(*CaptureError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the capture error kind of err, or "" if err is not a CaptureError
func KindOf(err error) ErrorKind {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func newError(kind ErrorKind, source, msg string, err error) *CaptureError {
	return &CaptureError{Kind: kind, Source: source, Msg: msg, Err: err}
}
