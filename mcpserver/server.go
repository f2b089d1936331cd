package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sid6224/misp-mcp/internal/jsonrpc"
	"github.com/sid6224/misp-mcp/internal/logctx"
	"github.com/sid6224/misp-mcp/mcp"
	"github.com/sid6224/misp-mcp/mcperr"
	"github.com/sid6224/misp-mcp/mcpservice"
	"github.com/sid6224/misp-mcp/transport"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server is an MCP server bound to one client at a time. It owns its
// lifecycle state and its tool registry; two Servers never share state.
type Server struct {
	mu         sync.Mutex
	state      State
	clientInfo *mcp.ImplementationInfo

	info            mcp.ImplementationInfo
	capabilities    mcp.ServerCapabilities
	protocolVersion string
	instructions    string
	registry        *mcpservice.Registry
	log             *slog.Logger
}

// WithServerInfo sets the implementation info reported from initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *Server) { s.info = info }
}

// WithCapabilities replaces the advertised capabilities. The default
// advertises tools only.
func WithCapabilities(caps mcp.ServerCapabilities) ServerOption {
	return func(s *Server) { s.capabilities = caps }
}

// WithRegistry sets the tool registry. A fresh empty registry is used when
// none is given.
func WithRegistry(r *mcpservice.Registry) ServerOption {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithLogger sets the logger for lifecycle and request events.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithProtocolVersion overrides the protocol version answered from
// initialize. The client's requested version is never echoed back.
func WithProtocolVersion(v string) ServerOption {
	return func(s *Server) {
		if v != "" {
			s.protocolVersion = v
		}
	}
}

// WithInstructions sets the human-readable instructions returned during
// initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *Server) { s.instructions = instr }
}

// New constructs a Server in the Created state.
func New(opts ...ServerOption) *Server {
	s := &Server{
		state:           StateCreated,
		info:            mcp.ImplementationInfo{Name: "mcp-server", Version: "0.0.0"},
		capabilities:    mcp.DefaultServerCapabilities(),
		protocolVersion: mcp.LatestProtocolVersion,
		log:             slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = mcpservice.NewRegistry(mcpservice.WithRegistryLogger(s.log))
	}
	s.log.Info("server.new", slog.String("name", s.info.Name), slog.String("version", s.info.Version))
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientInfo returns the client descriptor received during initialize, or
// nil before the handshake.
func (s *Server) ClientInfo() *mcp.ImplementationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// Registry returns the server's tool registry.
func (s *Server) Registry() *mcpservice.Registry { return s.registry }

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run serves requests from t one at a time until the peer closes its side
// or the transport fails. It returns nil on a clean end of stream and the
// transport error otherwise. On return the server is in StateShutdown and t
// has been closed.
func (s *Server) Run(ctx context.Context, t transport.Transport) error {
	ctx = logctx.WithServerData(ctx, &logctx.ServerData{InstanceID: uuid.NewString(), Name: s.info.Name})
	s.log.InfoContext(ctx, "server.run.start", slog.String("version", s.info.Version))
	start := time.Now()

	defer func() {
		s.setState(StateShutdown)
		if err := t.Close(); err != nil {
			s.log.WarnContext(ctx, "server.run.close_err", slog.String("err", err.Error()))
		}
	}()

	for {
		req, err := t.ReadMessage(ctx)
		if err != nil {
			var malformed *transport.MalformedMessageError
			switch {
			case errors.Is(err, transport.ErrEndOfStream):
				s.log.InfoContext(ctx, "server.run.eof", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
				return nil
			case errors.As(err, &malformed):
				s.log.WarnContext(ctx, "server.read.malformed", slog.String("err", malformed.Err.Error()))
				if werr := s.write(ctx, t, mcperr.Response(malformed.ID, malformed.Err)); werr != nil {
					return werr
				}
				continue
			case ctx.Err() != nil:
				s.log.InfoContext(ctx, "server.run.canceled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
				return ctx.Err()
			default:
				if !mcperr.Is(err, mcperr.KindTransport) {
					err = mcperr.Transport("%v", err)
				}
				s.log.ErrorContext(ctx, "server.run.transport_err", slog.String("err", err.Error()))
				return err
			}
		}

		resp := s.Handle(ctx, req)
		if resp == nil {
			continue
		}
		if err := s.write(ctx, t, resp); err != nil {
			return err
		}
	}
}

// write delivers resp. Only transport failures are returned; anything else
// is logged and the loop moves on.
func (s *Server) write(ctx context.Context, t transport.Transport, resp *jsonrpc.Response) error {
	err := t.WriteResponse(ctx, resp)
	if err == nil {
		return nil
	}
	if mcperr.Is(err, mcperr.KindTransport) {
		s.log.ErrorContext(ctx, "server.run.transport_err", slog.String("err", err.Error()))
		return err
	}
	s.log.ErrorContext(ctx, "server.write.err", slog.String("err", err.Error()))
	return nil
}

// Handle processes a single request and returns its response. Notifications
// are processed for their side effects and yield a nil response.
func (s *Server) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	msg := &logctx.RPCMessage{Method: req.Method, Type: "notification"}
	if !req.IsNotification() {
		msg.ID = req.ID.String()
		msg.Type = "request"
	}
	ctx = logctx.WithRPCMessage(ctx, msg)

	start := time.Now()
	log := s.log.With(slog.String("method", req.Method))

	result, err := s.dispatch(ctx, req)

	if req.IsNotification() {
		if err != nil {
			log.InfoContext(ctx, "server.handle_notification.err", slog.String("err", err.Error()))
		} else {
			log.DebugContext(ctx, "server.handle_notification.ok")
		}
		return nil
	}

	if err != nil {
		log.InfoContext(ctx, "server.handle_request.err",
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		)
		return mcperr.Response(req.ID, err)
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		log.ErrorContext(ctx, "server.handle_request.encode_err", slog.String("err", err.Error()))
		return mcperr.Response(req.ID, mcperr.Serialization("%v", err))
	}
	log.InfoContext(ctx, "server.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *jsonrpc.Request) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, mcperr.InvalidRequest("%v", err)
	}

	state := s.State()
	if state == StateShutdown {
		return nil, mcperr.InvalidRequest("Server is shut down")
	}

	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return s.handleInitialize(ctx, req)
	case mcp.InitializedNotificationMethod, mcp.CancelledNotificationMethod:
		if !req.IsNotification() {
			return nil, mcperr.MethodNotFound(req.Method)
		}
		return mcp.EmptyResult{}, nil
	case mcp.ToolsListMethod:
		if state != StateInitialized {
			return nil, mcperr.InvalidRequest("Server not initialized")
		}
		return s.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		if state != StateInitialized {
			return nil, mcperr.InvalidRequest("Server not initialized")
		}
		return s.handleToolsCall(ctx, req)
	case mcp.PingMethod:
		if state != StateInitialized {
			return nil, mcperr.MethodNotFound(req.Method)
		}
		return mcp.EmptyResult{}, nil
	default:
		return nil, mcperr.MethodNotFound(req.Method)
	}
}

func (s *Server) handleInitialize(ctx context.Context, req *jsonrpc.Request) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return nil, mcperr.InvalidRequest("Server already initialized")
	}
	if !req.HasParams() {
		return nil, mcperr.InvalidParams("Missing initialization parameters")
	}
	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, mcperr.InvalidParams("invalid initialize params: %v", err)
	}
	if params.ProtocolVersion == "" {
		return nil, mcperr.InvalidParams("Protocol version is required")
	}
	if params.ClientInfo == nil {
		return nil, mcperr.InvalidParams("Client info is required")
	}

	s.state = StateInitialized
	s.clientInfo = params.ClientInfo

	s.log.InfoContext(ctx, "server.initialize.ok",
		slog.String("client_name", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("requested_version", params.ProtocolVersion),
	)

	return &mcp.InitializeResult{
		ProtocolVersion: s.protocolVersion,
		Capabilities:    s.capabilities,
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	}, nil
}

func (s *Server) handleToolsList(ctx context.Context, req *jsonrpc.Request) (any, error) {
	if req.HasParams() {
		var params mcp.ListToolsRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, mcperr.InvalidParams("invalid tools/list params: %v", err)
		}
	}
	tools := s.registry.List()
	s.log.DebugContext(ctx, "server.tools_list", slog.Int("tool_count", len(tools)))
	return &mcp.ListToolsResult{Tools: tools}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, req *jsonrpc.Request) (any, error) {
	if !req.HasParams() {
		return nil, mcperr.InvalidParams("Missing tool call parameters")
	}
	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, mcperr.InvalidParams("invalid tools/call params: %v", err)
	}
	if params.Name == "" {
		return nil, mcperr.InvalidParams("Missing tool name")
	}

	args := map[string]json.RawMessage{}
	if !isNullOrEmpty(params.Arguments) {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, mcperr.InvalidParams("arguments must be an object: %v", err)
		}
	}

	return s.registry.Execute(ctx, params.Name, args)
}

func isNullOrEmpty(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
