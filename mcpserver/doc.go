// Package mcpserver implements the MCP server lifecycle on top of a
// transport.Transport and an mcpservice.Registry.
//
// A Server starts in StateCreated, where only initialize is accepted.
// A successful initialize moves it to StateInitialized, where tools/list,
// tools/call and ping are served. Run returns, and the server enters
// StateShutdown, when the transport reports end of stream or fails.
//
// Requests are handled strictly one at a time: the next request is not read
// until the previous response has been written, so responses are emitted in
// request order.
//
//	reg := mcpservice.NewRegistry()
//	reg.Register(mcpservice.NewToolFunc("echo", "Echo a message", echo))
//
//	srv := mcpserver.New(
//	    mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: "demo", Version: "1.0.0"}),
//	    mcpserver.WithRegistry(reg),
//	)
//	if err := srv.Run(ctx, stdio.New()); err != nil {
//	    log.Fatal(err)
//	}
package mcpserver
