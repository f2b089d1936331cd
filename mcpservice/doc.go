// Package mcpservice holds the tool side of an MCP server: the Registry that
// maps tool names to handlers, the ToolInput handed to each handler, result
// helpers, and a typed constructor that derives a tool's input schema from a
// Go struct.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo back"`
//	}
//
//	reg := mcpservice.NewRegistry(mcpservice.WithRegistryLogger(log))
//	reg.Register(mcpservice.NewTool[EchoArgs]("echo",
//	    func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	        return w.AppendText("you said: " + r.Args().Message)
//	    },
//	    mcpservice.WithToolDescription("Echo a message back to the caller"),
//	))
//
// Handlers that need no schema can be registered directly:
//
//	reg.Register(mcpservice.NewToolFunc("now", "Current time", func(ctx context.Context, in *mcpservice.ToolInput) (*mcp.CallToolResult, error) {
//	    return mcpservice.TextResult(time.Now().Format(time.RFC3339)), nil
//	}))
//
// # Errors
//
// Expected domain failures belong in a result with IsError set (ErrorResult,
// Errorf). Returning a Go error from a handler is reserved for failures of the
// handler itself; the registry reports those to the client as a tool
// execution error carrying only the error text.
//
// Handlers may be invoked concurrently and must guard any state they share.
package mcpservice
