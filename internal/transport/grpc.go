package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// GRPCTransport carries each payload as one unary call to
// /causal.Mesh/Deliver. Payloads are already encoded by the node's codec, so
// the RPC uses a pass-through codec instead of protobuf and needs no
// generated stubs. Client connections are dialled lazily, one per peer, and
// reused.
type GRPCTransport struct {
	self   int
	peers  []string
	logger *log.Logger

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
	conns    map[int]*grpc.ClientConn
	in       inbox
	wg       sync.WaitGroup
	once     sync.Once
}

const deliverMethod = "/causal.Mesh/Deliver"

type meshService interface {
	deliver(ctx context.Context, payload []byte) error
}

var meshServiceDesc = grpc.ServiceDesc{
	ServiceName: "causal.Mesh",
	HandlerType: (*meshService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "causal/mesh",
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var payload []byte
	if err := dec(&payload); err != nil {
		return nil, err
	}
	handle := func(ctx context.Context, req any) (any, error) {
		if err := srv.(meshService).deliver(ctx, *req.(*[]byte)); err != nil {
			return nil, err
		}
		reply := []byte{}
		return &reply, nil
	}
	if interceptor == nil {
		return handle(ctx, &payload)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	return interceptor(ctx, &payload, info, handle)
}

// rawCodec passes *[]byte through untouched.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case *[]byte:
		return *b, nil
	case []byte:
		return b, nil
	}
	return nil, fmt.Errorf("raw codec: cannot marshal %T", v)
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "causal-raw" }

func NewGRPCTransport(self int, peers []string, logger *log.Logger) *GRPCTransport {
	if logger == nil {
		logger = log.Default()
	}
	return &GRPCTransport{
		self:   self,
		peers:  append([]string(nil), peers...),
		logger: logger,
		conns:  make(map[int]*grpc.ClientConn),
		in:     newInbox(memoryInboxSize),
	}
}

func (t *GRPCTransport) Listen() error {
	addr := t.peers[t.self]
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Node: t.self, Addr: addr, Err: err}
	}
	t.Serve(l)
	return nil
}

func (t *GRPCTransport) Serve(l net.Listener) {
	s := grpc.NewServer(grpc.ForceServerCodec(rawCodec{}))
	s.RegisterService(&meshServiceDesc, t)

	t.mu.Lock()
	t.server = s
	t.listener = l
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := s.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.logger.Printf("grpc serve: %v", err)
		}
	}()
}

func (t *GRPCTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *GRPCTransport) deliver(ctx context.Context, payload []byte) error {
	if len(payload) > maxPayload {
		return status.Errorf(codes.InvalidArgument, "payload exceeds %d bytes", maxPayload)
	}
	select {
	case t.in.ch <- payload:
		return nil
	case <-t.in.done:
		return status.Error(codes.Unavailable, ErrClosed.Error())
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	}
}

func (t *GRPCTransport) conn(to int) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[to]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(t.peers[to],
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		return nil, err
	}
	t.conns[to] = c
	return c, nil
}

func (t *GRPCTransport) Send(ctx context.Context, to int, payload []byte) error {
	if to < 0 || to >= len(t.peers) {
		return fmt.Errorf("%w: %d", ErrUnknownNode, to)
	}
	c, err := t.conn(to)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout+readTimeout)
	defer cancel()

	var reply []byte
	if err := c.Invoke(ctx, deliverMethod, &payload, &reply); err != nil {
		if status.Code(err) == codes.Unavailable || status.Code(err) == codes.DeadlineExceeded {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return fmt.Errorf("deliver to %d: %w", to, err)
	}
	return nil
}

func (t *GRPCTransport) Receive() ([]byte, error) {
	return t.in.receive()
}

func (t *GRPCTransport) ReceiveTimeout(timeout time.Duration) ([]byte, error) {
	return t.in.receiveTimeout(timeout)
}

func (t *GRPCTransport) Close() error {
	t.once.Do(func() {
		close(t.in.done)
		t.mu.Lock()
		s := t.server
		conns := t.conns
		t.conns = map[int]*grpc.ClientConn{}
		t.mu.Unlock()
		if s != nil {
			s.Stop()
		}
		for _, c := range conns {
			c.Close()
		}
		t.wg.Wait()
	})
	return nil
}
