// Package mcperr defines the closed set of protocol error kinds used by the
// server, the transports and the tool registry, each mapped to a fixed
// JSON-RPC error code.
package mcperr

import (
	"errors"
	"fmt"

	"github.com/sid6224/misp-mcp/internal/jsonrpc"
)

// Kind classifies a protocol error.
type Kind int

const (
	KindInternal Kind = iota
	KindParse
	KindInvalidRequest
	KindMethodNotFound
	KindInvalidParams
	KindToolNotFound
	KindToolExecution
	KindTransport
	KindSerialization
)

// Code returns the JSON-RPC error code for the kind.
func (k Kind) Code() jsonrpc.ErrorCode {
	switch k {
	case KindParse:
		return jsonrpc.ErrorCodeParseError
	case KindInvalidRequest:
		return jsonrpc.ErrorCodeInvalidRequest
	case KindMethodNotFound:
		return jsonrpc.ErrorCodeMethodNotFound
	case KindInvalidParams:
		return jsonrpc.ErrorCodeInvalidParams
	case KindToolNotFound:
		return jsonrpc.ErrorCodeToolNotFound
	case KindToolExecution:
		return jsonrpc.ErrorCodeToolExecution
	case KindTransport:
		return jsonrpc.ErrorCodeTransport
	case KindSerialization:
		return jsonrpc.ErrorCodeSerialization
	default:
		return jsonrpc.ErrorCodeInternalError
	}
}

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "Parse error"
	case KindInvalidRequest:
		return "Invalid request"
	case KindMethodNotFound:
		return "Method not found"
	case KindInvalidParams:
		return "Invalid params"
	case KindToolNotFound:
		return "Tool not found"
	case KindToolExecution:
		return "Tool execution failed"
	case KindTransport:
		return "Transport error"
	case KindSerialization:
		return "Serialization error"
	default:
		return "Internal error"
	}
}

// Error is a protocol error. Its Error() text is what clients see in the
// JSON-RPC error message; Data, when set, becomes the error's data member.
type Error struct {
	Kind    Kind
	Message string
	Data    any
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// Code returns the JSON-RPC error code.
func (e *Error) Code() jsonrpc.ErrorCode { return e.Kind.Code() }

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

func newf(kind Kind, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

func Parse(format string, a ...any) *Error { return newf(KindParse, format, a...) }

func InvalidRequest(format string, a ...any) *Error {
	return newf(KindInvalidRequest, format, a...)
}

// MethodNotFound echoes the offending method name.
func MethodNotFound(method string) *Error {
	return &Error{Kind: KindMethodNotFound, Message: method}
}

func InvalidParams(format string, a ...any) *Error {
	return newf(KindInvalidParams, format, a...)
}

func Internal(format string, a ...any) *Error { return newf(KindInternal, format, a...) }

// ToolNotFound names the tool that was requested.
func ToolNotFound(name string) *Error {
	return &Error{Kind: KindToolNotFound, Message: name}
}

// ToolExecution reports a failed handler. Only the textual description of
// the underlying failure survives.
func ToolExecution(name, message string) *Error {
	return &Error{Kind: KindToolExecution, Message: name + " - " + message}
}

func Transport(format string, a ...any) *Error { return newf(KindTransport, format, a...) }

func Serialization(format string, a ...any) *Error {
	return newf(KindSerialization, format, a...)
}

// From returns err as a protocol error. Errors that are not already an
// *Error are classified as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}

// KindOf returns the kind of err, or KindInternal for foreign and nil
// errors.
func KindOf(err error) Kind {
	if e := From(err); e != nil {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is a protocol error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// ToJSONRPC converts err into a JSON-RPC error object.
func ToJSONRPC(err error) *jsonrpc.Error {
	e := From(err)
	return &jsonrpc.Error{Code: e.Code(), Message: e.Error(), Data: e.Data}
}

// Response builds the error response for a request id.
func Response(id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	e := ToJSONRPC(err)
	return jsonrpc.NewErrorResponse(id, e.Code, e.Message, e.Data)
}
