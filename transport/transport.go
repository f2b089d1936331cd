// Package transport defines how the server exchanges framed JSON-RPC
// messages with a client, plus an in-memory implementation for tests and
// embedding. The production stdio implementation lives in package stdio.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/sid6224/misp-mcp/internal/jsonrpc"
	"github.com/sid6224/misp-mcp/mcperr"
)

// ErrEndOfStream is returned by ReadMessage when the peer has closed its
// side. It signals a clean shutdown, not a failure.
var ErrEndOfStream = errors.New("transport: end of stream")

// Transport reads requests and writes responses for a single client.
//
// ReadMessage returns ErrEndOfStream when no more input will arrive, a
// *MalformedMessageError for a frame that could not be decoded, and an
// *mcperr.Error of KindTransport for I/O failures. WriteResponse returns a
// KindTransport error when the response cannot be delivered. Close is
// best-effort and safe to call after end of stream or more than once.
type Transport interface {
	ReadMessage(ctx context.Context) (*jsonrpc.Request, error)
	WriteResponse(ctx context.Context, resp *jsonrpc.Response) error
	Close() error
}

// MalformedMessageError reports an input frame that is not a JSON-RPC
// request. ID is set when it could be recovered from the frame so the error
// can still be answered.
type MalformedMessageError struct {
	ID  *jsonrpc.RequestID
	Err *mcperr.Error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// DecodeFrame turns one wire frame into a request, or into a
// *MalformedMessageError carrying a ParseError.
func DecodeFrame(frame []byte) (*jsonrpc.Request, error) {
	req, err := jsonrpc.ParseRequest(frame)
	if err != nil {
		return nil, &MalformedMessageError{
			ID:  jsonrpc.RecoverID(frame),
			Err: mcperr.Parse("Invalid JSON-RPC request: %v", err),
		}
	}
	return req, nil
}
