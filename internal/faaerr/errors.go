// Package faaerr declares the error taxonomy used across the file-access
// authorization core: a closed set of kinds that tells callers how to react
// (abort a reload, clamp a decision, retry an export) without needing to
// inspect error strings.
package faaerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the categories of spec.md §7.
type Kind string

const (
	// KindConfiguration marks a rejected configuration document. State is
	// left unchanged by the caller.
	KindConfiguration Kind = "configuration"
	// KindLookup marks a failed descriptor resolution (e.g. an audit token
	// miss). The affected target is treated as no-policy.
	KindLookup Kind = "lookup"
	// KindCompile marks a CEL expression that failed static checking.
	KindCompile Kind = "compile"
	// KindEvaluation marks a CEL runtime error or unsupported result type.
	KindEvaluation Kind = "evaluation"
	// KindInvalidSignature marks a signature-gate failure.
	KindInvalidSignature Kind = "invalid_signature"
	// KindTimeout marks an export or notification timeout.
	KindTimeout Kind = "timeout"
	// KindOverRelease marks an internal retain/release consistency failure.
	KindOverRelease Kind = "over_release"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// category without string matching.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "watchitems.parse"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
