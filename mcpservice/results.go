package mcpservice

import (
	"encoding/json"
	"fmt"

	"github.com/sid6224/misp-mcp/mcp"
)

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(s)}}
}

// ImageResult returns a single base64 image block.
func ImageResult(data, mimeType string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.ImageContent(data, mimeType)}}
}

// ResourceResult returns a single resource block. text may be empty.
func ResourceResult(uri, text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.ResourceContent(uri, text)}}
}

// EmptyResult returns a successful result with no content.
func EmptyResult() *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{}}
}

// ErrorResult returns an error CallToolResult with a single text block and IsError=true.
func ErrorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(msg)}, IsError: true}
}

// Errorf is ErrorResult with formatting.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	return ErrorResult(fmt.Sprintf(format, a...))
}

// JSONResult renders v as indented JSON in a text block.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return TextResult(string(b)), nil
}
