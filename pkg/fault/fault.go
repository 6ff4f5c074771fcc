// Package fault defines the classified error type shared by the stackmedic
// orchestrator. Classification drives policy: transient probe failures are
// retried, fatal step failures abort a setup run, remediation and profile
// query failures are recorded in the diagnostic report without halting
// forward progress.
package fault

import (
	"errors"
	"fmt"
)

// Class represents the classification of an error for retry and escalation logic.
type Class string

const (
	// ClassTransientProbe indicates a probe failure that may succeed on retry.
	// Examples: connection refused, timeout, temporary DNS failure.
	ClassTransientProbe Class = "transient_probe"

	// ClassFatalStep indicates a fatal provisioning step whose verification
	// never reached healthy. Aborts the whole setup sequence.
	ClassFatalStep Class = "fatal_step"

	// ClassRemediation indicates a corrective action that itself failed.
	// Recorded in the diagnostic report, never escalated past the engine.
	ClassRemediation Class = "remediation"

	// ClassProfileQuery indicates host resource detection failed.
	// The profiler falls back to the minimum profile instead of erroring.
	ClassProfileQuery Class = "profile_query"

	// ClassInternal indicates a programming or environment error.
	// Examples: invalid configuration, store corruption.
	ClassInternal Class = "internal"
)

// Error represents a classified orchestrator error with context.
type Error struct {
	// Class is the error classification for retry and escalation logic.
	Class Class `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Service is the dependent service involved, if applicable.
	Service string `json:"service,omitempty"`

	// Step is the provisioning step identifier, if applicable.
	Step string `json:"step,omitempty"`

	// Op is the operation being performed when the error occurred.
	Op string `json:"op,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Service != "" && e.Op != "":
		return fmt.Sprintf("[%s] %s (service=%s, op=%s)%s",
			e.Class, e.Message, e.Service, e.Op, e.unwrapSuffix())
	case e.Step != "":
		return fmt.Sprintf("[%s] %s (step=%s)%s",
			e.Class, e.Message, e.Step, e.unwrapSuffix())
	case e.Service != "":
		return fmt.Sprintf("[%s] %s (service=%s)%s",
			e.Class, e.Message, e.Service, e.unwrapSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Step == t.Step && e.Service == t.Service
}

// NewTransientProbe creates a new transient probe error.
func NewTransientProbe(message string, err error) *Error {
	return &Error{
		Class:   ClassTransientProbe,
		Message: message,
		Err:     err,
	}
}

// NewFatalStep creates a new fatal step error for the named step.
func NewFatalStep(stepID, message string, err error) *Error {
	return &Error{
		Class:   ClassFatalStep,
		Message: message,
		Step:    stepID,
		Err:     err,
	}
}

// NewRemediation creates a new remediation error.
func NewRemediation(message string, err error) *Error {
	return &Error{
		Class:   ClassRemediation,
		Message: message,
		Err:     err,
	}
}

// NewProfileQuery creates a new profile query error.
func NewProfileQuery(message string, err error) *Error {
	return &Error{
		Class:   ClassProfileQuery,
		Message: message,
		Err:     err,
	}
}

// NewInternal creates a new internal error.
func NewInternal(message string, err error) *Error {
	return &Error{
		Class:   ClassInternal,
		Message: message,
		Err:     err,
	}
}

// WithService adds service context to an error.
func (e *Error) WithService(service string) *Error {
	e.Service = service
	return e
}

// WithStep adds step context to an error.
func (e *Error) WithStep(stepID string) *Error {
	e.Step = stepID
	return e
}

// WithOp adds operation context to an error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransientProbe returns true if the error is a transient probe failure.
func IsTransientProbe(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassTransientProbe
	}
	return false
}

// IsFatalStep returns true if the error is a fatal step failure.
func IsFatalStep(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassFatalStep
	}
	return false
}

// IsRemediation returns true if the error is a remediation failure.
func IsRemediation(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassRemediation
	}
	return false
}

// IsProfileQuery returns true if the error is a profile query failure.
func IsProfileQuery(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassProfileQuery
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Only transient probe failures are retryable; everything else either
// aborts (fatal step) or is recorded without retry.
func IsRetryable(err error) bool {
	return IsTransientProbe(err)
}
