package sandbox

import (
	"errors"
	"fmt"
)

// Kind classifies a sandbox rejection.
type Kind int

const (
	KindPathNotAllowed Kind = iota + 1
	KindPathTraversal
	KindSymlinkAttack
	KindPathResolution
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindPathNotAllowed:
		return "path_not_allowed"
	case KindPathTraversal:
		return "path_traversal_detected"
	case KindSymlinkAttack:
		return "symlink_attack"
	case KindPathResolution:
		return "path_resolution_failed"
	case KindValidation:
		return "validation_failed"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against *Error.
var (
	ErrPathNotAllowed = errors.New("path not in allowed directories")
	ErrPathTraversal  = errors.New("path traversal detected")
	ErrSymlinkAttack  = errors.New("symlink escapes allowed directories")
	ErrPathResolution = errors.New("path resolution failed")
	ErrValidation     = errors.New("sandbox validation failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindPathNotAllowed:
		return ErrPathNotAllowed
	case KindPathTraversal:
		return ErrPathTraversal
	case KindSymlinkAttack:
		return ErrSymlinkAttack
	case KindPathResolution:
		return ErrPathResolution
	default:
		return ErrValidation
	}
}

// Error is a terminal path rejection.
type Error struct {
	Kind   Kind
	Path   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("sandbox: %s: %q", e.Kind.sentinel(), e.Path)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

func newError(kind Kind, path, reason string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Reason: reason, Err: cause}
}

// KindOf returns the Kind of a sandbox error, or 0 when err is not one.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
