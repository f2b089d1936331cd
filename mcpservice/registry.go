package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/sid6224/misp-mcp/internal/logctx"
	"github.com/sid6224/misp-mcp/mcp"
	"github.com/sid6224/misp-mcp/mcperr"
)

// Registry owns a threadsafe set of tools keyed by name. Registering a name
// that already exists replaces the previous tool.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	log   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for registration and execution events.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
		log:   slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts t, replacing any tool with the same name. It reports
// whether a previous tool was replaced.
func (r *Registry) Register(t Tool) bool {
	name := t.Descriptor.Name

	r.mu.Lock()
	_, replaced := r.tools[name]
	r.tools[name] = t
	r.mu.Unlock()

	if replaced {
		r.log.Warn("registry.register.replaced", slog.String("tool", name))
	} else {
		r.log.Debug("registry.register.ok", slog.String("tool", name))
	}
	return replaced
}

// List returns a snapshot of the tool descriptors ordered by name.
func (r *Registry) List() []mcp.Tool {
	r.mu.RLock()
	out := make([]mcp.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Descriptor)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the tool with exactly the given name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs the named tool. An unknown name fails with a ToolNotFound
// error without invoking anything. A handler error or panic is reported as a
// ToolExecution error carrying the failure's text; data attached to an
// *mcperr.Error by the handler is carried along.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]json.RawMessage) (*mcp.CallToolResult, error) {
	t, ok := r.Lookup(name)
	if !ok {
		r.log.InfoContext(ctx, "registry.execute.not_found", slog.String("tool", name))
		return nil, mcperr.ToolNotFound(name)
	}

	if args == nil {
		args = map[string]json.RawMessage{}
	}
	in := &ToolInput{Name: name, Arguments: args}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})
	start := time.Now()
	res, err := r.invoke(ctx, t.Handler, in)
	dur := time.Since(start)

	if err != nil {
		r.log.WarnContext(ctx, "registry.execute.err",
			slog.String("tool", name),
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", dur.Milliseconds()),
		)
		te := mcperr.ToolExecution(name, err.Error())
		var pe *mcperr.Error
		if errors.As(err, &pe) && pe.Data != nil {
			te = te.WithData(pe.Data)
		}
		return nil, te
	}
	if res == nil {
		res = EmptyResult()
	}

	r.log.InfoContext(ctx, "registry.execute.ok",
		slog.String("tool", name),
		slog.Bool("is_error", res.IsError),
		slog.Int64("dur_ms", dur.Milliseconds()),
	)
	return res, nil
}

func (r *Registry) invoke(ctx context.Context, h Handler, in *ToolInput) (res *mcp.CallToolResult, err error) {
	if h == nil {
		return nil, errors.New("tool has no handler")
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.ErrorContext(ctx, "registry.execute.panic",
				slog.String("tool", in.Name),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			res, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return h.Call(ctx, in)
}
