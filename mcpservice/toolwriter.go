package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sid6224/misp-mcp/mcp"
)

// ToolResponseWriter accumulates the content of one tool call. Handlers built
// with NewTool receive one per call; the registry finalizes it with Result
// once the handler returns.
//
// Writes fail with the context error once the call's context is done, and
// with ErrFinalized after Result.
type ToolResponseWriter interface {
	AppendText(text string) error
	// AppendJSON renders v as two-space indented JSON in a text block.
	// json.RawMessage and []byte values are re-indented as they are.
	AppendJSON(v any) error
	AppendBlocks(blocks ...mcp.ContentBlock) error
	SetError(isError bool)
	Result() *mcp.CallToolResult
}

// ErrFinalized is returned by writes after Result was called.
var ErrFinalized = errors.New("result already finalized")

type toolResponseWriter struct {
	ctx context.Context

	mu      sync.Mutex
	done    bool
	content []mcp.ContentBlock
	isError bool
}

var _ ToolResponseWriter = (*toolResponseWriter)(nil)

func newToolResponseWriter(ctx context.Context) *toolResponseWriter {
	return &toolResponseWriter{ctx: ctx}
}

func (w *toolResponseWriter) AppendText(text string) error {
	if text == "" {
		return w.ctx.Err()
	}
	return w.AppendBlocks(mcp.TextContent(text))
}

func (w *toolResponseWriter) AppendJSON(v any) error {
	var raw []byte
	switch x := v.(type) {
	case json.RawMessage:
		raw = x
	case []byte:
		raw = x
	}
	if raw == nil {
		res, err := JSONResult(v)
		if err != nil {
			return err
		}
		return w.AppendBlocks(res.Content...)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return w.AppendText(buf.String())
}

func (w *toolResponseWriter) AppendBlocks(blocks ...mcp.ContentBlock) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrFinalized
	}
	w.content = append(w.content, blocks...)
	return nil
}

func (w *toolResponseWriter) SetError(isError bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.isError = isError
}

// Result is idempotent. The returned content is a copy, never nil.
func (w *toolResponseWriter) Result() *mcp.CallToolResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	out := make([]mcp.ContentBlock, len(w.content))
	copy(out, w.content)
	return &mcp.CallToolResult{Content: out, IsError: w.isError}
}
