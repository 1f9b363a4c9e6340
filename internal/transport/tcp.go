package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"
)

const (
	maxPayload  = 1 << 20
	readTimeout = 5 * time.Second
	dialTimeout = 3 * time.Second
)

// TCPTransport listens on peers[self] and sends each payload over its own
// short-lived connection: dial, write, close. Inbound connections are read
// one at a time on the accept goroutine, so payloads are yielded in accept
// order.
type TCPTransport struct {
	self   int
	peers  []string
	logger *log.Logger

	mu       sync.Mutex
	listener net.Listener
	in       inbox
	wg       sync.WaitGroup
	once     sync.Once
}

func NewTCPTransport(self int, peers []string, logger *log.Logger) *TCPTransport {
	if logger == nil {
		logger = log.Default()
	}
	return &TCPTransport{
		self:   self,
		peers:  append([]string(nil), peers...),
		logger: logger,
		in:     newInbox(memoryInboxSize),
	}
}

func (t *TCPTransport) Listen() error {
	addr := t.peers[t.self]
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Node: t.self, Addr: addr, Err: err}
	}
	t.Serve(l)
	return nil
}

// Serve starts the accept loop on an already-bound listener.
func (t *TCPTransport) Serve(l net.Listener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
	t.wg.Add(1)
	go t.acceptLoop(l)
}

func (t *TCPTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *TCPTransport) acceptLoop(l net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Printf("accept: %v", err)
			continue
		}
		payload, err := readPayload(conn)
		conn.Close()
		if err != nil {
			t.logger.Printf("read from %s: %v", conn.RemoteAddr(), err)
			continue
		}
		if !t.in.push(payload) {
			return
		}
	}
}

func readPayload(conn net.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	payload, err := io.ReadAll(io.LimitReader(conn, maxPayload+1))
	if err != nil {
		return nil, err
	}
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxPayload)
	}
	return payload, nil
}

func (t *TCPTransport) Send(ctx context.Context, to int, payload []byte) error {
	if to < 0 || to >= len(t.peers) {
		return fmt.Errorf("%w: %d", ErrUnknownNode, to)
	}
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.peers[to])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(readTimeout))
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write to %d: %w", to, err)
	}
	return nil
}

func (t *TCPTransport) Receive() ([]byte, error) {
	return t.in.receive()
}

func (t *TCPTransport) ReceiveTimeout(timeout time.Duration) ([]byte, error) {
	return t.in.receiveTimeout(timeout)
}

func (t *TCPTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.in.done)
		t.mu.Lock()
		l := t.listener
		t.mu.Unlock()
		if l != nil {
			err = l.Close()
		}
		t.wg.Wait()
	})
	return err
}
