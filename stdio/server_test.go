package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sid6224/misp-mcp/internal/jsonrpc"
	"github.com/sid6224/misp-mcp/mcp"
	"github.com/sid6224/misp-mcp/mcpserver"
	"github.com/sid6224/misp-mcp/mcpservice"
)

// testHarness runs a server over a stdio Transport wired to in-memory pipes.
type testHarness struct {
	t      *testing.T
	srv    *mcpserver.Server
	stdinW io.WriteCloser
	done   chan error

	outMu sync.Mutex
	lines []string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	reg := mcpservice.NewRegistry()
	reg.Register(mcpservice.NewToolFunc("echo", "Echo a message", func(ctx context.Context, in *mcpservice.ToolInput) (*mcp.CallToolResult, error) {
		msg, err := in.StringArg("msg")
		if err != nil {
			return nil, err
		}
		return mcpservice.TextResult(msg), nil
	}))
	srv := mcpserver.New(
		mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: "stdio-test", Version: "0.0.1"}),
		mcpserver.WithRegistry(reg),
	)

	th := &testHarness{t: t, srv: srv, stdinW: inW, done: make(chan error, 1)}

	go func() {
		th.done <- srv.Run(context.Background(), New(WithIO(inR, outW)))
		_ = outW.Close()
	}()

	go func() {
		sc := bufio.NewScanner(outR)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			th.outMu.Lock()
			th.lines = append(th.lines, line)
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		_ = inW.Close()
		select {
		case <-th.done:
		case <-time.After(time.Second):
		}
	})
	return th
}

func (th *testHarness) write(s string) {
	th.t.Helper()
	if _, err := io.WriteString(th.stdinW, s); err != nil {
		th.t.Fatalf("write stdin: %v", err)
	}
}

func (th *testHarness) nextLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		th.outMu.Lock()
		if len(th.lines) > 0 {
			s := th.lines[0]
			th.lines = th.lines[1:]
			th.outMu.Unlock()
			return s, nil
		}
		th.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for output line")
}

func (th *testHarness) expectResponse() *jsonrpc.Response {
	th.t.Helper()
	line, err := th.nextLine(time.Second)
	if err != nil {
		th.t.Fatal(err)
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		th.t.Fatalf("decode %q: %v", line, err)
	}
	if msg.Type() != "response" {
		th.t.Fatalf("expected response, got %s", msg.Type())
	}
	return msg.AsResponse()
}

func (th *testHarness) expectNoOutput(wait time.Duration) {
	th.t.Helper()
	if line, err := th.nextLine(wait); err == nil {
		th.t.Fatalf("unexpected output: %s", line)
	}
}

const initLine = `{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}` + "\n"

func TestStdioScenario(t *testing.T) {
	th := newHarness(t)

	th.write(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	res := th.expectResponse()
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("expected InvalidRequest, got %+v", res)
	}
	if res.ID.String() != "1" {
		t.Fatalf("unexpected id %v", res.ID)
	}

	th.write(initLine)
	res = th.expectResponse()
	if res.Error != nil {
		t.Fatalf("initialize failed: %+v", res.Error)
	}
	var initRes mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &initRes); err != nil {
		t.Fatal(err)
	}
	if initRes.ServerInfo.Name != "stdio-test" || initRes.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("unexpected initialize result: %+v", initRes)
	}

	th.write(`{"jsonrpc":"2.0","id":"call-1","method":"tools/call","params":{"name":"echo","arguments":{"msg":"hi"}}}` + "\n")
	res = th.expectResponse()
	if res.Error != nil {
		t.Fatalf("tools/call failed: %+v", res.Error)
	}
	if got := string(res.Result); got != `{"content":[{"type":"text","text":"hi"}]}` {
		t.Fatalf("unexpected result %s", got)
	}
	if !res.ID.IsString() || res.ID.String() != "call-1" {
		t.Fatalf("unexpected id %v", res.ID)
	}
}

func TestStdioBlankLinesProduceNoResponses(t *testing.T) {
	th := newHarness(t)

	th.write("\n\n" + initLine + "\n   \n")
	if res := th.expectResponse(); res.Error != nil {
		t.Fatalf("initialize failed: %+v", res.Error)
	}
	th.write("\n\n\n" + `{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n\n")
	res := th.expectResponse()
	if res.Error != nil || res.ID.String() != "2" {
		t.Fatalf("unexpected ping response: %+v", res)
	}
	th.expectNoOutput(50 * time.Millisecond)
}

func TestStdioMalformedLineContinues(t *testing.T) {
	th := newHarness(t)

	th.write("{not json}\n")
	res := th.expectResponse()
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("expected ParseError, got %+v", res)
	}

	th.write(`{"jsonrpc":"2.0","id":5,"method":3}` + "\n")
	res = th.expectResponse()
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError || res.ID.String() != "5" {
		t.Fatalf("expected ParseError with id 5, got %+v", res)
	}

	th.write(initLine)
	if res := th.expectResponse(); res.Error != nil {
		t.Fatalf("initialize after malformed input failed: %+v", res.Error)
	}
}

func TestStdioNotificationNoResponse(t *testing.T) {
	th := newHarness(t)
	th.write(initLine)
	th.expectResponse()

	th.write(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	th.expectNoOutput(50 * time.Millisecond)
}

func TestStdioEOFIsCleanShutdown(t *testing.T) {
	th := newHarness(t)
	_ = th.stdinW.Close()

	select {
	case err := <-th.done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("server did not stop on EOF")
	}
	if th.srv.State() != mcpserver.StateShutdown {
		t.Fatalf("expected shutdown state, got %s", th.srv.State())
	}
}

func TestStdioCancelStopsRunWhileInputIsOpen(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	srv := mcpserver.New(mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: "stdio-test", Version: "0.0.1"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, New(WithIO(inR, io.Discard))) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run still blocked after cancel")
	}
	if srv.State() != mcpserver.StateShutdown {
		t.Fatalf("expected shutdown state, got %s", srv.State())
	}
}
