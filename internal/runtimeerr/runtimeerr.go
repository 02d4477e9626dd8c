// Package runtimeerr defines the closed set of error kinds the runtime core
// surfaces to its callers, independent of the transport (facade, gRPC status,
// HTTP) that eventually carries them.
package runtimeerr

import (
	"errors"
	"fmt"
)

// Kind enumerates every error category the core can produce. Callers should
// branch on Kind via errors.As, never on the formatted message.
type Kind string

const (
	ConfigMissing Kind = "CONFIG_MISSING"

	RuntimeAlreadyStarted Kind = "RUNTIME_ALREADY_STARTED"
	RuntimeNotStarted     Kind = "RUNTIME_NOT_STARTED"

	MosaicAlreadyRunning Kind = "MOSAIC_ALREADY_RUNNING"
	MosaicStarting       Kind = "MOSAIC_STARTING"
	MosaicNotRunning     Kind = "MOSAIC_NOT_RUNNING"

	NodeNotFound       Kind = "NODE_NOT_FOUND"
	NodeAlreadyRunning Kind = "NODE_ALREADY_RUNNING"
	NodeNotRunning     Kind = "NODE_NOT_RUNNING"

	SessionNotFound Kind = "SESSION_NOT_FOUND"
	SessionConflict Kind = "SESSION_CONFLICT"

	RuntimeTimeout  Kind = "RUNTIME_TIMEOUT"
	RuntimeInternal Kind = "RUNTIME_INTERNAL"
)

// Error is the concrete error type carrying a Kind and an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error around an existing cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to RuntimeInternal when err
// does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return RuntimeInternal
}
