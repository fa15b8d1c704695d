/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package srp

import (
	"fmt"

	"github.com/miekg/dns"
)

// Code is the internal error taxonomy used across the update pipeline. It
// is deliberately smaller and more specific than a DNS RCODE so that the
// commit engine and the handler bridge can reason about *why* an update
// failed before it gets flattened into wire format.
type Code int

const (
	NoError Code = iota
	FormErr
	NotImp
	NotAuth
	ServFail
	ResponseTimeout
	NoBufs
	InvalidState
	InvalidArgs
)

func (c Code) String() string {
	switch c {
	case NoError:
		return "NoError"
	case FormErr:
		return "FormErr"
	case NotImp:
		return "NotImp"
	case NotAuth:
		return "NotAuth"
	case ServFail:
		return "ServFail"
	case ResponseTimeout:
		return "ResponseTimeout"
	case NoBufs:
		return "NoBufs"
	case InvalidState:
		return "InvalidState"
	case InvalidArgs:
		return "InvalidArgs"
	default:
		return "Unknown"
	}
}

// Error wraps a Code with a human-readable reason. The parser, the
// verifier, the key-continuity check and the commit engine's conflict
// check all return *Error (never a bare error) on the failure path so that
// its Code maps straight to an RCODE without re-inspecting error strings.
type Error struct {
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func NewError(c Code, format string, args ...interface{}) *Error {
	return &Error{Code: c, Reason: fmt.Sprintf(format, args...)}
}

// Rcode maps the internal taxonomy to the DNS RCODE the client sees. Handler
// callbacks may report a Code we didn't originate (out-of-band errors from
// an external process); anything outside the known taxonomy collapses to
// ServFail rather than leaking an unspecified RCODE to the wire, resolving
// the open question in spec.md §9 about non-standard handler errors.
func (c Code) Rcode() int {
	switch c {
	case NoError:
		return dns.RcodeSuccess
	case FormErr:
		return dns.RcodeFormatError
	case NotImp:
		return dns.RcodeNotImplemented
	case NotAuth:
		return dns.RcodeNotAuth
	case ServFail, ResponseTimeout, NoBufs, InvalidState, InvalidArgs:
		return dns.RcodeServerFailure
	default:
		return dns.RcodeServerFailure
	}
}

// AsCode coerces an arbitrary error returned by an external update handler
// into our taxonomy. A nil error is success; an *Error is passed through;
// anything else is ServFail.
func AsCode(err error) Code {
	if err == nil {
		return NoError
	}
	if se, ok := err.(*Error); ok {
		return se.Code
	}
	return ServFail
}
