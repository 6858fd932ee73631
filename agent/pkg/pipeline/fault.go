package pipeline

import (
	"errors"
	"fmt"
)

var (
	errLoggerRequired   = errors.New("logger is required")
	errLLMRequired      = errors.New("LLM client is required")
	errNegativeAttempts = errors.New("max attempts must not be negative")

	// ErrAttemptsExhausted is returned when every attempt failed.
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	// ErrProviderUnavailable is returned when the model could not be reached.
	ErrProviderUnavailable = errors.New("language model provider unavailable")
)

// FaultKind classifies why an attempt failed.
type FaultKind string

const (
	FaultParse       FaultKind = "parse_failure"
	FaultValidation  FaultKind = "validation_failure"
	FaultExecution   FaultKind = "execution_failure"
	FaultEmptyResult FaultKind = "empty_result_failure"
	FaultNoResult    FaultKind = "no_result_failure"
	FaultProvider    FaultKind = "provider_failure"
)

// Fault is an attempt-level failure. Message is fed back to the model on retry
// and never shown to the end user.
type Fault struct {
	Kind      FaultKind
	Message   string
	Err       error
	Retryable bool
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func newFault(kind FaultKind, err error) *Fault {
	return &Fault{Kind: kind, Message: err.Error(), Err: err, Retryable: true}
}

func newFaultf(kind FaultKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// ProviderError is returned by LLM clients. Retryable is false for failures that
// will not go away on their own, such as bad credentials or an unknown model.
type ProviderError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// isRetryableStatus reports whether an HTTP status from a model provider is transient.
func isRetryableStatus(code int) bool {
	switch {
	case code == 400, code == 401, code == 403, code == 404, code == 422:
		return false
	case code == 408, code == 409, code == 429, code >= 500:
		return true
	default:
		return false
	}
}

// providerFault maps an LLMClient error to a provider fault. Errors that are
// not a ProviderError are treated as transient.
func providerFault(err error) *Fault {
	f := newFault(FaultProvider, err)
	var pe *ProviderError
	if errors.As(err, &pe) {
		f.Retryable = pe.Retryable
	}
	return f
}
