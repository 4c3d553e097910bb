package analysis

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an analysis failure
type ErrorKind string

const (
	KindAuthFailure  ErrorKind = "auth_failure"
	KindServiceError ErrorKind = "service_error"
	KindDecodeError  ErrorKind = "decode_error"
	KindTimeout      ErrorKind = "timeout"
)

// Sentinels for errors.Is matching on kind only
var (
	ErrAuthFailure  = &AnalysisError{Kind: KindAuthFailure}
	ErrServiceError = &AnalysisError{Kind: KindServiceError}
	ErrDecode       = &AnalysisError{Kind: KindDecodeError}
	ErrTimeout      = &AnalysisError{Kind: KindTimeout}
)

// AnalysisError is returned by Client.Analyze and TokenManager.Token.
// Status and Body are set for service errors; Status is 0 when no response
// arrived.
type AnalysisError struct {
	Kind   ErrorKind
	Status int
	Body   string
	Err    error
}

func (e *AnalysisError) Error() string {
	switch e.Kind {
	case KindServiceError:
		if e.Status == 0 {
			return fmt.Sprintf("analysis %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("analysis %s: status %d: %s", e.Kind, e.Status, e.Body)
	default:
		if e.Err != nil {
			return fmt.Sprintf("analysis %s: %v", e.Kind, e.Err)
		}
		return "analysis " + string(e.Kind)
	}
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Is matches another AnalysisError of the same kind
func (e *AnalysisError) Is(target error) bool {
	t, ok := target.(*AnalysisError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether another attempt may succeed: timeouts, transport
// failures and 5xx responses
func (e *AnalysisError) Retryable() bool {
	switch e.Kind {
	case KindTimeout:
		return true
	case KindServiceError:
		return e.Status == 0 || e.Status >= 500
	}
	return false
}

// KindOf returns the analysis error kind of err, or "" otherwise
func KindOf(err error) ErrorKind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func isRetryable(err error) bool {
	var ae *AnalysisError
	return errors.As(err, &ae) && ae.Retryable()
}
