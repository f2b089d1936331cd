package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with whatever request, server and tool data the
// context carries.
type Handler struct {
	slog.Handler
}

// New wraps h.
func New(h slog.Handler) Handler {
	return Handler{Handler: h}
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(serverDataKey{}).(*ServerData); ok {
		r.AddAttrs(slog.Group("srv",
			slog.String("id", sd.InstanceID),
			slog.String("name", sd.Name),
		))
	}

	if msg, ok := ctx.Value(rpcMsg{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	if td, ok := ctx.Value(toolCallDataKey{}).(*ToolCallData); ok {
		r.AddAttrs(slog.Group("tool",
			slog.String("name", td.ToolName),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type rpcMsg struct{}

type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsg{}, msg)
}

type serverDataKey struct{}

type ServerData struct {
	InstanceID string
	Name       string
}

func WithServerData(ctx context.Context, data *ServerData) context.Context {
	return context.WithValue(ctx, serverDataKey{}, data)
}

type toolCallDataKey struct{}

type ToolCallData struct {
	ToolName string
}

func WithToolCallData(ctx context.Context, data *ToolCallData) context.Context {
	return context.WithValue(ctx, toolCallDataKey{}, data)
}
