package mcp

import "encoding/json"

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

const (
	// Lifecycle
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"
	PingMethod                    Method = "ping"
	CancelledNotificationMethod   Method = "notifications/cancelled"

	// Tools
	ToolsListMethod Method = "tools/list"
	ToolsCallMethod Method = "tools/call"
)

// IsNotification reports whether the method is in the notifications/ namespace.
func (m Method) IsNotification() bool {
	return len(m) > len("notifications/") && m[:len("notifications/")] == "notifications/"
}

// InitializeRequest starts the MCP initialization handshake. ClientInfo is a
// pointer so that a missing descriptor can be told apart from an empty one.
type InitializeRequest struct {
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    ClientCapabilities  `json:"capabilities"`
	ClientInfo      *ImplementationInfo `json:"clientInfo,omitempty"`
}

// InitializeResult returns the server's protocol version, capabilities and info.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ListToolsRequest requests the set of available tools. The cursor is
// reserved and currently ignored.
type ListToolsRequest struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult returns the available tools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// MarshalJSON emits an empty array rather than null when there are no tools.
func (r ListToolsResult) MarshalJSON() ([]byte, error) {
	type alias ListToolsResult
	a := alias(r)
	if a.Tools == nil {
		a.Tools = []Tool{}
	}
	return json.Marshal(a)
}

// CallToolRequestReceived is the server-received representation for a tool call.
type CallToolRequestReceived struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the outcome of a tool call. IsError is omitted from the
// wire form when false.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// MarshalJSON emits an empty content array rather than null.
func (r CallToolResult) MarshalJSON() ([]byte, error) {
	type alias CallToolResult
	a := alias(r)
	if a.Content == nil {
		a.Content = []ContentBlock{}
	}
	return json.Marshal(a)
}

// EmptyResult is the result of requests that carry no payload, such as ping.
type EmptyResult struct{}
