// Package svcerr defines the typed failure categories shared by every
// component. Every fallible operation returns one of these kinds; nothing
// from the external subprocess is silently swallowed.
package svcerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

// Failure kinds.
const (
	KindNotFound       Kind = "not_found"
	KindAlreadyRunning Kind = "already_running"
	KindNotRunning     Kind = "not_running"
	KindBackendMissing Kind = "backend_missing"
	KindProvision      Kind = "provision_failed"
	KindIO             Kind = "io_failure"
	KindSerialization  Kind = "serialization_failure"
	KindLock           Kind = "lock_failure"
	KindGeneral        Kind = "general"
)

// Error is a typed servicing failure. Service carries the offending service
// name when one is known; Err the underlying cause.
type Error struct {
	Kind    Kind
	Service string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Service != "" && e.Err != nil:
		return fmt.Sprintf("service %s: %s: %v", e.Service, e.Msg, e.Err)
	case e.Service != "":
		return fmt.Sprintf("service %s: %s", e.Service, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two Errors by kind, so callers can test against the kind
// sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Kind sentinels for errors.Is checks.
var (
	ErrNotFound       = &Error{Kind: KindNotFound, Msg: "service not found"}
	ErrAlreadyRunning = &Error{Kind: KindAlreadyRunning, Msg: "service already running"}
	ErrNotRunning     = &Error{Kind: KindNotRunning, Msg: "service not running"}
	ErrBackendMissing = &Error{Kind: KindBackendMissing, Msg: "backend tool not installed"}
	ErrProvision      = &Error{Kind: KindProvision, Msg: "provisioning failed"}
	ErrLock           = &Error{Kind: KindLock, Msg: "cache lock poisoned"}
)

// NotFound reports that no record exists for name.
func NotFound(name string) *Error {
	return &Error{Kind: KindNotFound, Service: name, Msg: "not found"}
}

// AlreadyRunning reports that a record already has an endpoint or an
// in-flight provisioning claim.
func AlreadyRunning(name string) *Error {
	return &Error{Kind: KindAlreadyRunning, Service: name, Msg: "already running"}
}

// NotRunning reports a down/remove attempt against a service that never
// came up.
func NotRunning(name string) *Error {
	return &Error{Kind: KindNotRunning, Service: name, Msg: "not running"}
}

// BackendMissing reports that the external orchestrator tool is not
// installed on PATH.
func BackendMissing(tool string) *Error {
	return &Error{Kind: KindBackendMissing, Msg: fmt.Sprintf("%s is not installed", tool)}
}

// Provision reports a failed provisioning step against the external tool.
func Provision(name, detail string, err error) *Error {
	return &Error{Kind: KindProvision, Service: name, Msg: detail, Err: err}
}

// IO wraps a disk failure.
func IO(name, step string, err error) *Error {
	return &Error{Kind: KindIO, Service: name, Msg: step, Err: err}
}

// Serialization wraps an encode/decode failure.
func Serialization(step string, err error) *Error {
	return &Error{Kind: KindSerialization, Msg: step, Err: err}
}

// Lock reports a poisoned cache mutation guard.
func Lock(cause string) *Error {
	return &Error{Kind: KindLock, Msg: fmt.Sprintf("cache lock poisoned: %s", cause)}
}

// General wraps a failure that fits no narrower kind.
func General(name, msg string) *Error {
	return &Error{Kind: KindGeneral, Service: name, Msg: msg}
}

// KindOf returns the Kind of err when it is (or wraps) an *Error, and
// KindGeneral otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneral
}
