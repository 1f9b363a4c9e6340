// =============================================================================
// TRANSPORT INTERFACE - Byte Payloads Between Processes
// =============================================================================
//
// A Transport moves opaque payloads between the N processes of a fixed
// group. Processes are addressed by ordinal id in [0, N). Encoding is the
// codec's job; the transport never looks inside a payload.
//
// Implementations:
//
// - MemoryTransport: in-process channels, with failure simulation for tests
// - TCPTransport:    one connection per payload (dial, write, close)
// - GRPCTransport:   one unary RPC per payload over pooled connections
//
// =============================================================================
// TRANSPORT SEMANTICS
// =============================================================================
//
// - Send reports failure of THIS attempt only. Retrying is the caller's
//   business (see Broadcaster).
// - Receive blocks until a payload arrives or the transport is closed.
// - Inbound payloads are yielded in the order the endpoint accepted them.
// - Listen is the only place a resource-acquisition failure can occur; it
//   returns a *BindError so the owning process can abort cleanly.
//
// =============================================================================
// COMMON BUG TO AVOID
// =============================================================================
//
// BUG: Blocking the event loop on a slow or dead peer.
//
// Send may block for a full dial timeout. The node therefore never calls
// Send from its event loop directly; everything outbound goes through the
// Broadcaster's goroutines.
//
// =============================================================================

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout     = errors.New("receive timeout")
	ErrClosed      = errors.New("transport closed")
	ErrUnknownNode = errors.New("unknown node")
	ErrUnreachable = errors.New("node unreachable")
)

type Transport interface {
	Listen() error
	Send(ctx context.Context, to int, payload []byte) error
	Receive() ([]byte, error)
	ReceiveTimeout(timeout time.Duration) ([]byte, error)
	Close() error
}

// BindError reports that a listening endpoint could not be opened.
type BindError struct {
	Node int
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("node %d: bind %s: %v", e.Node, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// inbox is the receive side shared by all implementations.
type inbox struct {
	ch   chan []byte
	done chan struct{}
}

func newInbox(size int) inbox {
	return inbox{ch: make(chan []byte, size), done: make(chan struct{})}
}

func (in inbox) push(payload []byte) bool {
	select {
	case in.ch <- payload:
		return true
	case <-in.done:
		return false
	}
}

func (in inbox) receive() ([]byte, error) {
	select {
	case p := <-in.ch:
		return p, nil
	case <-in.done:
		return nil, ErrClosed
	}
}

func (in inbox) receiveTimeout(timeout time.Duration) ([]byte, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case p := <-in.ch:
		return p, nil
	case <-in.done:
		return nil, ErrClosed
	case <-t.C:
		return nil, ErrTimeout
	}
}
