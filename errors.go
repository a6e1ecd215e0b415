package kgsm

import (
	"fmt"

	"github.com/hashicorp/errwrap"
)

// ErrorKind is the closed enumeration of error conditions the control plane
// can surface. Every public operation that can fail returns an error whose
// chain can be classified back to one of these with Classify.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrGeneral
	ErrInvalidArg
	ErrMissingArg
	ErrFileNotFound
	ErrPermission
	ErrFailedTemplate
	ErrFailedSource
	ErrFailedUpdateConfig
	ErrFailedRemove
	ErrFailedMove
	ErrFailedCopy
	ErrFailedSymlink
	ErrSystemd
	ErrFirewall
	ErrMissingDependency
	ErrKeyNotFound
	ErrNotFound
)

// ExitCode returns the exit-code table value for this error kind, per
// spec.md §6.
func (k ErrorKind) ExitCode() int {
	return int(k)
}

func (k ErrorKind) String() string {
	switch k {
	case ErrNone:
		return "none"
	case ErrGeneral:
		return "general"
	case ErrInvalidArg:
		return "invalid-arg"
	case ErrMissingArg:
		return "missing-arg"
	case ErrFileNotFound:
		return "file-not-found"
	case ErrPermission:
		return "permission"
	case ErrFailedTemplate:
		return "failed-template"
	case ErrFailedSource:
		return "failed-source"
	case ErrFailedUpdateConfig:
		return "failed-update-config"
	case ErrFailedRemove:
		return "failed-rm"
	case ErrFailedMove:
		return "failed-mv"
	case ErrFailedCopy:
		return "failed-cp"
	case ErrFailedSymlink:
		return "failed-ln"
	case ErrSystemd:
		return "systemd"
	case ErrFirewall:
		return "firewall"
	case ErrMissingDependency:
		return "missing-dependency"
	case ErrKeyNotFound:
		return "key-not-found"
	case ErrNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// kindError pairs an ErrorKind with a human-readable reason and carries an
// optional wrapped cause, so errwrap.Walk can classify an arbitrarily
// wrapped error chain back to its originating ErrorKind.
type kindError struct {
	kind   ErrorKind
	reason string
	hint   string
	cause  error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.reason, e.cause)
	}
	return e.reason
}

func (e *kindError) Unwrap() error { return e.cause }

// WrappedErrors implements errwrap.Wrapper so Classify/Hint can walk a chain
// of kindErrors built up as an orchestrator phase re-wraps a lower-level
// failure with more context.
func (e *kindError) WrappedErrors() []error {
	if e.cause == nil {
		return nil
	}
	return []error{e.cause}
}

// WrapErr builds a new error of the given kind, wrapping cause (which may be
// nil). reason is the single-line, user-visible explanation; hint is the
// one-line remedy shown in interactive (non-JSON, non-event) output only,
// per spec.md §7 ("machine-readable surfaces never embed hints").
func WrapErr(kind ErrorKind, reason, hint string, cause error) error {
	return &kindError{kind: kind, reason: reason, hint: hint, cause: cause}
}

// Hint returns the one-line remedy attached to err, if any, by walking its
// wrap chain with errwrap.
func Hint(err error) string {
	var hint string
	errwrap.Walk(err, func(e error) {
		if ke, ok := e.(*kindError); ok && ke.hint != "" && hint == "" {
			hint = ke.hint
		}
	})
	return hint
}

// Classify walks err's wrap chain and returns the first ErrorKind found, or
// ErrGeneral if err does not wrap a kindError.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrNone
	}
	kind := ErrGeneral
	found := false
	errwrap.Walk(err, func(e error) {
		if found {
			return
		}
		if ke, ok := e.(*kindError); ok {
			kind = ke.kind
			found = true
		}
	})
	return kind
}
