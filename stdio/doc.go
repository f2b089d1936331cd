// Package stdio implements the line-delimited JSON-RPC transport used when
// the server runs as a subprocess of its client: requests arrive one per line
// on stdin and responses leave one per line on stdout.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Framing          : one JSON object per newline-terminated line
//	Blank lines      : skipped
//	End of input     : transport.ErrEndOfStream (clean shutdown)
//	Diagnostics      : never written to stdout; pass a stderr logger
//
// Options allow supplying alternate io.Reader / io.Writer or a custom logger.
//
// Example:
//
//	reg := mcpservice.NewRegistry()
//	srv := mcpserver.New(mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: "my-server", Version: "0.1.0"}), mcpserver.WithRegistry(reg))
//	t := stdio.New(stdio.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))))
//	if err := srv.Run(context.Background(), t); err != nil { log.Fatal(err) }
package stdio
