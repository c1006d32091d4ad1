// Package steaderr defines the stable, machine-readable error taxonomy that
// every daemon command response carries (spec §7). Call sites construct
// errors with the New* helpers below rather than fmt.Errorf so that codes
// stay stable across refactors and so daemon handlers can map a returned
// error straight onto a wire response without inspecting message text.
package steaderr

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error identifier.
type Code string

const (
	NotFound               Code = "not_found"
	NotOwner               Code = "not_owner"
	InvalidTransition      Code = "invalid_transition"
	Conflict               Code = "conflict"
	EndpointRangeExhausted Code = "endpoint_range_exhausted"
	CircularDependency     Code = "circular_dependency"
	NoRollbackCommand      Code = "no_rollback_command"
	InvalidPayload         Code = "invalid_payload"
	StorageError           Code = "storage_error"
	ModuleDisabled         Code = "module_disabled"
	AdapterInvalidJSON     Code = "adapter_invalid_json"
	AdapterInvalidFormat   Code = "adapter_invalid_format"
)

// Error is the typed error every daemon-facing operation returns on
// failure. Fields carries code-specific structured detail (e.g. {from, to}
// for invalid_transition) so clients can render rich diagnostics without
// parsing Message.
type Error struct {
	Code    Code
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is allows errors.Is(err, &steaderr.Error{Code: steaderr.NotFound}) style
// checks by comparing codes rather than identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

func new_(code Code, message string, fields map[string]string) *Error {
	return &Error{Code: code, Message: message, Fields: fields}
}

func NewNotFound(kind, id string) *Error {
	return new_(NotFound, fmt.Sprintf("%s %q not found", kind, id), map[string]string{"kind": kind, "id": id})
}

func NewNotOwner(owner string) *Error {
	return new_(NotOwner, fmt.Sprintf("caller %q is not the current owner", owner), map[string]string{"owner": owner})
}

func NewInvalidTransition(from, to string) *Error {
	return new_(InvalidTransition, fmt.Sprintf("cannot transition from %s to %s", from, to), map[string]string{"from": from, "to": to})
}

func NewConflict(message string) *Error {
	return new_(Conflict, message, nil)
}

func NewEndpointRangeExhausted(low, high int) *Error {
	return new_(EndpointRangeExhausted, fmt.Sprintf("no free port in range [%d, %d]", low, high), map[string]string{"low": fmt.Sprint(low), "high": fmt.Sprint(high)})
}

func NewCircularDependency(id string) *Error {
	return new_(CircularDependency, fmt.Sprintf("dependency graph through %q contains a cycle", id), map[string]string{"id": id})
}

func NewNoRollbackCommand(id string) *Error {
	return new_(NoRollbackCommand, fmt.Sprintf("contract %q has no rollback command", id), map[string]string{"id": id})
}

func NewInvalidPayload(field, reason string) *Error {
	return new_(InvalidPayload, fmt.Sprintf("%s: %s", field, reason), map[string]string{"field": field})
}

func NewStorageError(err error) *Error {
	msg := "storage error"
	if err != nil {
		msg = err.Error()
	}
	return new_(StorageError, msg, nil)
}

func NewModuleDisabled(name string) *Error {
	return new_(ModuleDisabled, fmt.Sprintf("module %q is disabled", name), map[string]string{"name": name})
}

func NewAdapterInvalidJSON(path string, cause error) *Error {
	msg := "invalid JSON"
	if cause != nil {
		msg = cause.Error()
	}
	return new_(AdapterInvalidJSON, msg, map[string]string{"path": path})
}

func NewAdapterInvalidFormat(path, reason string) *Error {
	return new_(AdapterInvalidFormat, reason, map[string]string{"path": path})
}

// As extracts a *Error from any error chain, mirroring errors.As ergonomics.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the stable code of err if it is (or wraps) a *Error, or ""
// otherwise.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}
