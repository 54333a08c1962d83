package scenario

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTarget is returned when a step names a target the runner was not given.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrUnknownSession is returned when a step's auth names a session the runner was not given.
	ErrUnknownSession = errors.New("unknown session")
)

// FailureKind classifies why a step failed.
type FailureKind string

const (
	FailureTransport      FailureKind = "transport"
	FailureExpectation    FailureKind = "expectation"
	FailureSetup          FailureKind = "setup"
	FailureAuthentication FailureKind = "authentication"
)

// ExpectationError is the first violated expectation of a step.
type ExpectationError struct {
	Step     string
	Check    string // status, status_text, success, header, body_contains, field, body, subset, contains, capture
	Path     string // JSONPath or header name, when the check has one
	Expected any
	Actual   any
	Detail   string // extra explanation such as a diff
}

func (e *ExpectationError) Error() string {
	msg := e.Check
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += fmt.Sprintf(": expected %s, got %s", render(e.Expected), render(e.Actual))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// StepError wraps the reason a step stopped its scenario.
type StepError struct {
	Step string
	Kind FailureKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %s failure: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return "nothing"
	case string:
		return fmt.Sprintf("%q", t)
	default:
		return Stringify(v)
	}
}
