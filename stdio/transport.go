package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/sid6224/misp-mcp/internal/jsonrpc"
	"github.com/sid6224/misp-mcp/mcperr"
	"github.com/sid6224/misp-mcp/transport"
)

// Transport is a single-connection stdio transport that reads JSON-RPC
// requests from an io.Reader and writes responses to an io.Writer. By
// default it uses os.Stdin and os.Stdout.
//
// Lines are read by one background goroutine, started on the first
// ReadMessage, so that a blocked read can be abandoned when the context is
// done. A line read but not yet consumed is kept for the next call.
type Transport struct {
	in      io.Reader
	out     io.Writer
	log     *slog.Logger
	maxLine int

	r         *bufio.Reader
	startRead sync.Once
	lines     chan inputLine
	done      chan struct{}

	wmu    sync.Mutex
	w      *bufio.Writer
	closed bool
}

// inputLine is one line of input. When size exceeds the line limit, data
// holds only its leading bytes.
type inputLine struct {
	data []byte
	size int
	err  error
}

var _ transport.Transport = (*Transport)(nil)

// New constructs a stdio Transport with defaults and applies options.
func New(opts ...Option) *Transport {
	t := &Transport{
		in:    os.Stdin,
		out:   os.Stdout,
		log:   slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		lines: make(chan inputLine),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.r = bufio.NewReader(t.in)
	t.w = bufio.NewWriter(t.out)
	return t
}

// ReadMessage reads lines until it finds a non-blank one and decodes it.
// It returns ctx.Err() as soon as ctx is done, even while the input is
// blocked.
func (t *Transport) ReadMessage(ctx context.Context) (*jsonrpc.Request, error) {
	t.startRead.Do(func() { go t.readLoop() })
	for {
		var line inputLine
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case l, ok := <-t.lines:
			if !ok {
				return nil, transport.ErrEndOfStream
			}
			line = l
		}

		if line.err != nil {
			if errors.Is(line.err, io.EOF) {
				t.log.DebugContext(ctx, "stdio.read.eof")
				return nil, transport.ErrEndOfStream
			}
			t.log.ErrorContext(ctx, "stdio.read.err", slog.String("err", line.err.Error()))
			return nil, mcperr.Transport("Failed to read from stdin: %v", line.err)
		}

		frame := bytes.TrimSpace(line.data)
		if t.maxLine > 0 && line.size > len(line.data) {
			return nil, t.tooLarge(ctx, jsonrpc.RecoverIDPrefix(frame), line.size)
		}
		if len(frame) == 0 {
			t.log.DebugContext(ctx, "stdio.read.skip_blank")
			continue
		}
		if t.maxLine > 0 && len(frame) > t.maxLine {
			return nil, t.tooLarge(ctx, jsonrpc.RecoverID(frame), len(frame))
		}

		req, derr := transport.DecodeFrame(frame)
		if derr != nil {
			t.log.WarnContext(ctx, "stdio.read.malformed", slog.String("err", derr.Error()))
			return nil, derr
		}
		return req, nil
	}
}

func (t *Transport) tooLarge(ctx context.Context, id *jsonrpc.RequestID, size int) error {
	t.log.WarnContext(ctx, "stdio.read.too_large", slog.Int("bytes", size), slog.Int("limit", t.maxLine))
	return &transport.MalformedMessageError{
		ID:  id,
		Err: mcperr.Parse("message of %d bytes exceeds limit of %d", size, t.maxLine),
	}
}

// readLoop feeds t.lines until the input fails or the transport is
// closed. The failure, io.EOF included, is delivered as the last line.
func (t *Transport) readLoop() {
	defer close(t.lines)
	for {
		line := t.readLine()
		if len(line.data) > 0 || line.size > 0 {
			if !t.deliver(inputLine{data: line.data, size: line.size}) {
				return
			}
		}
		if line.err != nil {
			t.deliver(inputLine{err: line.err})
			return
		}
	}
}

func (t *Transport) deliver(l inputLine) bool {
	select {
	case t.lines <- l:
		return true
	case <-t.done:
		return false
	}
}

// readLine reads through the next newline. With a line limit in place it
// buffers at most a few bytes past the limit and discards the rest, so an
// oversized line costs no more memory than an allowed one.
func (t *Transport) readLine() inputLine {
	keep := -1
	if t.maxLine > 0 {
		// Room for surrounding whitespace and a CRLF terminator.
		keep = t.maxLine + 8
	}
	var l inputLine
	for {
		chunk, err := t.r.ReadSlice('\n')
		l.size += len(chunk)
		if keep < 0 || len(l.data) < keep {
			n := len(chunk)
			if keep >= 0 && len(l.data)+n > keep {
				n = keep - len(l.data)
			}
			l.data = append(l.data, chunk[:n]...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		l.err = err
		return l
	}
}

// WriteResponse writes resp as a single line of JSON and flushes.
func (t *Transport) WriteResponse(ctx context.Context, resp *jsonrpc.Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		t.log.ErrorContext(ctx, "stdio.write.encode_err", slog.String("err", err.Error()))
		return mcperr.Serialization("Failed to serialize response: %v", err)
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	if t.closed {
		return mcperr.Transport("transport closed")
	}
	if _, err := t.w.Write(append(b, '\n')); err != nil {
		t.log.ErrorContext(ctx, "stdio.write.err", slog.String("err", err.Error()))
		return mcperr.Transport("Failed to write to stdout: %v", err)
	}
	if err := t.w.Flush(); err != nil {
		t.log.ErrorContext(ctx, "stdio.write.flush_err", slog.String("err", err.Error()))
		return mcperr.Transport("Failed to flush stdout: %v", err)
	}
	return nil
}

// Close flushes pending output and stops delivering input. It never
// fails; flush errors are logged.
func (t *Transport) Close() error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	if err := t.w.Flush(); err != nil {
		t.log.Warn("stdio.close.flush_err", slog.String("err", err.Error()))
	}
	return nil
}
