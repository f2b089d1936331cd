package mcpservice

import (
	"context"

	"github.com/sid6224/misp-mcp/mcp"
)

// Handler executes a tool invocation. Implementations must be safe for
// concurrent use.
type Handler interface {
	Call(ctx context.Context, in *ToolInput) (*mcp.CallToolResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in *ToolInput) (*mcp.CallToolResult, error)

func (f HandlerFunc) Call(ctx context.Context, in *ToolInput) (*mcp.CallToolResult, error) {
	return f(ctx, in)
}

// Tool pairs an MCP tool descriptor with its handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    Handler
}

// NewToolFunc builds a Tool that accepts any object as input.
func NewToolFunc(name, description string, fn HandlerFunc) Tool {
	return Tool{
		Descriptor: mcp.Tool{
			Name:        name,
			Description: description,
			InputSchema: mcp.DefaultInputSchema(),
		},
		Handler: fn,
	}
}

// WithSchema returns a copy of t advertising schema.
func (t Tool) WithSchema(schema mcp.ToolInputSchema) Tool {
	t.Descriptor.InputSchema = schema
	return t
}
