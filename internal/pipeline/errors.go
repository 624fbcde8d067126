package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind categorizes pipeline errors.
type ErrorKind string

const (
	// KindTransient marks a failure that may succeed on retry.
	KindTransient ErrorKind = "transient"

	// KindPostCondition marks a result that ran but failed its post-condition.
	KindPostCondition ErrorKind = "post_condition"

	// KindCircuitOpen marks a call short-circuited by an open breaker.
	KindCircuitOpen ErrorKind = "circuit_open"

	// KindGateFailure marks a gate predicate that failed with no recovery.
	KindGateFailure ErrorKind = "gate_failure"

	// KindNoRoute marks a router with no matching route and no default.
	KindNoRoute ErrorKind = "no_route"

	// KindConfig marks an invalid construction-time configuration.
	KindConfig ErrorKind = "config"

	// KindCanceled marks a run interrupted by context cancellation.
	KindCanceled ErrorKind = "canceled"
)

// OpError is an error raised by, or on behalf of, a named operation.
type OpError struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Op is the name of the operation that failed.
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Kind, msg, e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

// GateFailure is returned by a Gate whose predicate failed and that has no
// recovery operation.
type GateFailure struct {
	OpError
}

// NoRouteMatched is returned by a QueryRouter that requires a match and found
// none.
type NoRouteMatched struct {
	OpError
}

// ConfigError is returned when an operation is constructed with an invalid
// configuration.
type ConfigError struct {
	OpError
}

// As lets errors.As match the embedded *OpError.
func (e *GateFailure) As(target any) bool { return asOpError(&e.OpError, target) }

// As lets errors.As match the embedded *OpError.
func (e *NoRouteMatched) As(target any) bool { return asOpError(&e.OpError, target) }

// As lets errors.As match the embedded *OpError.
func (e *ConfigError) As(target any) bool { return asOpError(&e.OpError, target) }

func asOpError(e *OpError, target any) bool {
	if t, ok := target.(**OpError); ok {
		*t = e
		return true
	}
	return false
}

// NewGateFailure creates a GateFailure for the named gate.
func NewGateFailure(op string, cause error) *GateFailure {
	return &GateFailure{OpError{
		Kind:    KindGateFailure,
		Op:      op,
		Message: "gate predicate failed",
		Err:     cause,
	}}
}

// NewNoRouteMatched creates a NoRouteMatched for the named router.
func NewNoRouteMatched(op string) *NoRouteMatched {
	return &NoRouteMatched{OpError{
		Kind:    KindNoRoute,
		Op:      op,
		Message: "no route matched and no default configured",
	}}
}

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(op, format string, args ...any) *ConfigError {
	return &ConfigError{OpError{
		Kind:    KindConfig,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}}
}

// NewPostConditionError reports a result that failed its post-condition.
func NewPostConditionError(op string) *OpError {
	return &OpError{
		Kind:    KindPostCondition,
		Op:      op,
		Message: "post-condition failed",
	}
}

// NewCircuitOpenError reports a call rejected by an open breaker.
func NewCircuitOpenError(op string) *OpError {
	return &OpError{
		Kind:    KindCircuitOpen,
		Op:      op,
		Message: "circuit breaker open",
	}
}

// KindOf returns the error kind of err.
//
// Context cancellation maps to KindCanceled. Untyped errors are treated as
// transient. A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindTransient
}

// IsGateFailure returns true if err is a gate failure.
// Uses errors.As to handle wrapped errors.
func IsGateFailure(err error) bool {
	var gf *GateFailure
	return errors.As(err, &gf)
}

// IsNoRouteMatched returns true if err is a missing-route error.
func IsNoRouteMatched(err error) bool {
	var nr *NoRouteMatched
	return errors.As(err, &nr)
}

// IsConfigError returns true if err is a construction-time config error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsPostCondition returns true if err reports a failed post-condition.
func IsPostCondition(err error) bool {
	return KindOf(err) == KindPostCondition
}

// IsRetryable reports whether a failure is worth another attempt.
// Cancellation and configuration errors are not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindCanceled, KindConfig:
		return false
	default:
		return err != nil
	}
}
