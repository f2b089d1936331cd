package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/sid6224/misp-mcp/internal/jsonrpc"
	"github.com/sid6224/misp-mcp/mcperr"
)

var errMailboxClosed = errors.New("mailbox closed")

// mailbox is an unbounded FIFO. Pushes never block; pops wait for an item,
// closure or context cancellation. Items queued before close remain
// poppable.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1), done: make(chan struct{})}
}

func (m *mailbox[T]) push(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errMailboxClosed
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

func (m *mailbox[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return v, nil
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			return zero, errMailboxClosed
		}

		select {
		case <-m.signal:
		case <-m.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// close stops further pushes. It reports whether this call closed the box.
func (m *mailbox[T]) close() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.closed = true
	close(m.done)
	return true
}

// discard closes the box and drops anything still queued.
func (m *mailbox[T]) discard() {
	m.close()
	m.mu.Lock()
	m.items = nil
	m.mu.Unlock()
}

// Queue is an in-memory Transport backed by two unbounded ordered queues:
// requests flowing in and responses flowing out. The other end is driven
// through the QueuePeer returned by NewQueue.
type Queue struct {
	in  *mailbox[*jsonrpc.Request]
	out *mailbox[*jsonrpc.Response]
}

// QueuePeer is the client side of a Queue.
type QueuePeer struct {
	q *Queue
}

// NewQueue returns a connected transport and peer.
func NewQueue() (*Queue, *QueuePeer) {
	q := &Queue{
		in:  newMailbox[*jsonrpc.Request](),
		out: newMailbox[*jsonrpc.Response](),
	}
	return q, &QueuePeer{q: q}
}

var _ Transport = (*Queue)(nil)

// ReadMessage waits for the next request. It returns ErrEndOfStream once the
// peer has called CloseSend and every queued request has been read.
func (q *Queue) ReadMessage(ctx context.Context) (*jsonrpc.Request, error) {
	req, err := q.in.pop(ctx)
	if errors.Is(err, errMailboxClosed) {
		return nil, ErrEndOfStream
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// WriteResponse enqueues resp without blocking. It fails when the peer has
// stopped receiving.
func (q *Queue) WriteResponse(_ context.Context, resp *jsonrpc.Response) error {
	if err := q.out.push(resp); err != nil {
		return mcperr.Transport("Response channel closed")
	}
	return nil
}

// Close ends both directions from the server side. Responses already queued
// can still be received by the peer.
func (q *Queue) Close() error {
	q.in.close()
	q.out.close()
	return nil
}

// Send enqueues a request for the server.
func (p *QueuePeer) Send(req *jsonrpc.Request) error {
	if err := p.q.in.push(req); err != nil {
		return mcperr.Transport("Request channel closed")
	}
	return nil
}

// CloseSend signals end of stream to the server.
func (p *QueuePeer) CloseSend() {
	p.q.in.close()
}

// Receive waits for the next response. It returns ErrEndOfStream when the
// server has closed the transport and no responses remain.
func (p *QueuePeer) Receive(ctx context.Context) (*jsonrpc.Response, error) {
	resp, err := p.q.out.pop(ctx)
	if errors.Is(err, errMailboxClosed) {
		return nil, ErrEndOfStream
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Close stops receiving. Later writes from the server fail with a
// transport error.
func (p *QueuePeer) Close() {
	p.q.out.discard()
	p.q.in.close()
}
