package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object
	// or the request is not acceptable in the current protocol state.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603

	// Implementation-defined server errors (-32000 to -32099).

	// ErrorCodeToolNotFound indicates tools/call named an unregistered tool.
	ErrorCodeToolNotFound ErrorCode = -32000
	// ErrorCodeToolExecution indicates a tool handler failed.
	ErrorCodeToolExecution ErrorCode = -32001
	// ErrorCodeTransport indicates a non-EOF transport I/O failure.
	ErrorCodeTransport ErrorCode = -32002
	// ErrorCodeSerialization indicates a payload could not be encoded or decoded.
	ErrorCodeSerialization ErrorCode = -32003
)
