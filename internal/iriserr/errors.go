// Package iriserr defines the closed set of error kinds raised by the Iris
// transport, RPC client, catalog, and GDB bridge. Every error that crosses a
// package boundary in this module is, or wraps, an *Error from this package,
// so callers can branch on Kind instead of matching on message text.
package iriserr

import "fmt"

// Kind identifies which category of failure an Error belongs to.
type Kind int

const (
	// KindDisconnected means the Iris transport has closed; fatal to any
	// in-flight call or subscription on that connection.
	KindDisconnected Kind = iota
	// KindMalformedFrame means the peer sent something the wire codec
	// could not parse.
	KindMalformedFrame
	// KindRPCError means the server reported a logical failure for one
	// call. Code carries the server's error code.
	KindRPCError
	// KindUnknownInstance means a catalog lookup by path or id found no
	// matching instance after querying the server.
	KindUnknownInstance
	// KindUnknownResource means a catalog lookup found no resource with
	// the given name on an otherwise-known instance.
	KindUnknownResource
	// KindUnknownEventSource means a catalog lookup found no event
	// source with the given name on an otherwise-known instance.
	KindUnknownEventSource
	// KindGDBProtocolError means a GDB packet was malformed beyond
	// recovery; the bridge terminates the session.
	KindGDBProtocolError
	// KindEventDropped is an advisory marker recorded on a subscription
	// sink after a queue overflow, not a fatal condition.
	KindEventDropped
	// KindTimeout means an RPC call exceeded its deadline.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindDisconnected:
		return "disconnected"
	case KindMalformedFrame:
		return "malformed_frame"
	case KindRPCError:
		return "rpc_error"
	case KindUnknownInstance:
		return "unknown_instance"
	case KindUnknownResource:
		return "unknown_resource"
	case KindUnknownEventSource:
		return "unknown_event_source"
	case KindGDBProtocolError:
		return "gdb_protocol_error"
	case KindEventDropped:
		return "event_dropped"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the concrete error type for every failure this module reports
// across a package boundary.
type Error struct {
	Kind    Kind
	Message string
	// Code carries the server-reported error code for KindRPCError; zero
	// otherwise.
	Code int
	// Err is the wrapped cause, if any (an I/O error, a json error, ...).
	Err error
}

func (e *Error) Error() string {
	if e.Kind == KindRPCError {
		return fmt.Sprintf("iris: %s (code %d): %s", e.Kind, e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("iris: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("iris: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error that wraps an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// RPCError builds a KindRPCError Error carrying the server's code.
func RPCError(code int, message string) *Error {
	return &Error{Kind: KindRPCError, Code: code, Message: message}
}

// Disconnected is a convenience constructor for the most common terminal
// condition: the transport's reader loop has exited.
func Disconnected(cause error) *Error {
	return Wrap(KindDisconnected, "iris transport closed", cause)
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ie, ok := err.(*Error); ok {
			e = ie
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

// IsDisconnected reports whether err is a KindDisconnected Error.
func IsDisconnected(err error) bool { return Is(err, KindDisconnected) }

// IsTimeout reports whether err is a KindTimeout Error.
func IsTimeout(err error) bool { return Is(err, KindTimeout) }

// IsRPCError reports whether err is a KindRPCError Error.
func IsRPCError(err error) bool { return Is(err, KindRPCError) }

// IsRetryable reports whether a caller might reasonably retry the operation
// that produced err. Disconnected and Timeout are retryable in the sense
// that a fresh connection or a longer deadline might succeed; logical RPC
// failures and malformed data are not.
func IsRetryable(err error) bool {
	return Is(err, KindDisconnected) || Is(err, KindTimeout)
}
