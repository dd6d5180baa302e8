package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the stable code attached to every error a query can return.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindInvalidID    ErrorKind = "invalid_id"
	KindNotFound     ErrorKind = "not_found"
	KindConnectivity ErrorKind = "connectivity"
	KindUpstream     ErrorKind = "upstream"
	KindInternal     ErrorKind = "internal"
)

// Error is a classified error annotated with the operation that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound returns a not_found error for op.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Connectivity wraps err as a connectivity error for op.
func Connectivity(op string, err error) error {
	return &Error{Kind: KindConnectivity, Op: op, Err: err}
}

// Upstream wraps err as an upstream error for op.
func Upstream(op string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// KindOf classifies err. Deadline expiry counts as connectivity.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnectivity
	}
	return KindInternal
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound reports whether err is a not_found error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsRetryable reports whether a caller may retry after err.
// Only connectivity failures are transient.
func IsRetryable(err error) bool { return IsKind(err, KindConnectivity) }
