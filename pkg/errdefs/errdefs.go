// Package errdefs defines the tagged error kinds used across the swarm
// protocol. Every failure carries exactly one Kind; HTTP status mapping
// happens only at the server boundary.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a protocol failure.
type Kind string

const (
	KindFormat        Kind = "format"
	KindValidation    Kind = "validation"
	KindSignature     Kind = "signature"
	KindExpired       Kind = "expired"
	KindNotMaster     Kind = "not-master"
	KindNotMember     Kind = "not-member"
	KindSwarmNotFound Kind = "swarm-not-found"
	KindTransport     Kind = "transport"
	KindRateLimited   Kind = "rate-limited"
	KindWakeEndpoint  Kind = "wake-endpoint"
	KindInvocation    Kind = "invocation"
	KindStorage       Kind = "storage"
	KindImport        Kind = "import"
	KindSession       Kind = "session"
)

// Error is a failure tagged with a Kind. It wraps an optional cause.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// New creates a tagged error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind and context message.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Untagged errors report an empty Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) carries the kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
