// =============================================================================
// NODE - One Process of the Ordered-Broadcast Group
// =============================================================================
//
// A Node plays both sides of the protocol at once:
//
//   ┌───────────────────────────────────────────────────────────┐
//   │                          NODE                             │
//   │  ┌───────────┐  ┌───────────┐  ┌───────────┐              │
//   │  │ HANDSHAKE │  │  ELECTOR  │  │ SEQUENCER │ (leader only)│
//   │  └─────┬─────┘  └─────┬─────┘  └─────┬─────┘              │
//   │        │              │              │       ┌──────────┐ │
//   │        └──────────────┼──────────────┘       │  CLIENT  │ │
//   │                       │                      │   LOOP   │ │
//   │                ┌──────┴──────┐               └────┬─────┘ │
//   │                │ EVENT LOOP  │◄───────────────────┘       │
//   │                └──────┬──────┘                            │
//   │          ┌────────────┼────────────┐                      │
//   │    ┌─────┴─────┐ ┌────┴────┐ ┌─────┴─────┐                │
//   │    │  BUFFER   │ │ STORAGE │ │BROADCASTER│──► TRANSPORT   │
//   │    └───────────┘ └─────────┘ └───────────┘                │
//   └───────────────────────────────────────────────────────────┘
//
// The protocol types in internal/causal are pure state machines. They take a
// message and hand back the envelopes to send; the node does every send.
//
// =============================================================================
// CONCURRENCY MODEL
// =============================================================================
//
// Single-threaded with a message queue. One event-loop goroutine owns the
// handshake, elector, sequencer, buffer and the held/loopback queues. The
// receive goroutine decodes payloads into the inbox channel; the client loop
// pushes its own requests into the same inbox when it is the leader.
//
// The vector clock is the only structure touched from two goroutines (client
// loop ticks, event loop merges), and it carries its own lock.
//
// Messages a node addresses to itself are queued on a loopback FIFO and
// drained after the current event, never handled re-entrantly.
//
// =============================================================================
// ERROR HANDLING
// =============================================================================
//
// 1. Bind failure: returned from Listen/Run as *transport.BindError (fatal)
// 2. Transport error: retried by the Broadcaster, then logged as data loss
// 3. Invalid message: logged and ignored
//
// =============================================================================
// INVARIANT THIS FILE MUST UPHOLD
// =============================================================================
//
// INVARIANT: No REQUEST, APPLICATION or APP_ACK is acted upon before the
//            leader announce has been accepted.
//
// Early traffic is held and replayed in arrival order right after the
// announce, so every process agrees on the leader before it observes any
// APPLICATION.
//
// =============================================================================

package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guptamayank9827/causal-order/internal/backoff"
	"github.com/guptamayank9827/causal-order/internal/causal"
	"github.com/guptamayank9827/causal-order/internal/clock"
	"github.com/guptamayank9827/causal-order/internal/codec"
	"github.com/guptamayank9827/causal-order/internal/config"
	"github.com/guptamayank9827/causal-order/internal/storage"
	"github.com/guptamayank9827/causal-order/internal/transport"
)

const (
	coordinator = 0
	receivePoll = 100 * time.Millisecond
	inboxSize   = 1024
)

var ErrStopped = errors.New("node stopped")

type Node struct {
	cfg   config.Config
	id    int
	n     int
	runID string

	transport transport.Transport
	codec     codec.Codec
	storage   storage.Storage
	logger    *log.Logger
	rand      func(n int) int
	retry     backoff.Config
	bcast     *transport.Broadcaster

	clock     *clock.Vector
	handshake *causal.Handshake
	elector   *causal.Elector
	sequencer *causal.Sequencer
	buffer    *causal.Buffer

	// owned by the event loop
	held          []causal.Message
	loopback      []causal.Message
	clientStarted bool

	inbox chan causal.Message
	calls chan func()

	mu       sync.Mutex
	running  bool
	stopped  bool
	stopCh   chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup
	clientWG sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	serverDone chan struct{}
	clientDone chan struct{}
	done       chan struct{}
	serverOnce sync.Once
	clientOnce sync.Once
	doneOnce   sync.Once
}

type Option func(*Node)

func WithCodec(c codec.Codec) Option { return func(n *Node) { n.codec = c } }

func WithStorage(s storage.Storage) Option { return func(n *Node) { n.storage = s } }

// WithLogger replaces the default stderr logger. The node still sets its own
// prefix on it.
func WithLogger(l *log.Logger) Option { return func(n *Node) { n.logger = l } }

// WithRand sets the random source used by the coordinator to pick a leader.
func WithRand(rnd func(n int) int) Option { return func(n *Node) { n.rand = rnd } }

func WithRetry(policy backoff.Config) Option { return func(n *Node) { n.retry = policy } }

func New(cfg config.Config, t transport.Transport, opts ...Option) *Node {
	n := &Node{
		cfg:        cfg,
		id:         cfg.ID,
		n:          cfg.N(),
		runID:      uuid.NewString(),
		transport:  t,
		codec:      codec.Gob{},
		retry:      backoff.Config{Attempts: cfg.SendAttempts, Wait: cfg.SendWait},
		inbox:      make(chan causal.Message, inboxSize),
		calls:      make(chan func()),
		stopCh:     make(chan struct{}),
		serverDone: make(chan struct{}),
		clientDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.storage == nil {
		n.storage = storage.NewMemoryStorage()
	}
	if n.logger == nil {
		n.logger = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	}
	n.logger.SetPrefix(fmt.Sprintf("[p%d %s] ", n.id, n.runID[:8]))

	peers := make([]int, n.n)
	for i := range peers {
		peers[i] = i
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.bcast = transport.NewBroadcaster(n.id, peers, t, n.retry, n.logger)

	n.clock = clock.New(n.n, n.id)
	n.handshake = causal.NewHandshake(n.id, n.n, coordinator)
	n.elector = causal.NewElector(n.id, n.n, coordinator, n.rand)
	n.sequencer = causal.NewSequencer(n.id, n.n, cfg.Quota, n.clock, n.logger)
	n.buffer = causal.NewBuffer(cfg.Quota, n.clock)
	return n
}

func (n *Node) ID() int { return n.id }

func (n *Node) RunID() string { return n.runID }

func (n *Node) Listen() error {
	return n.transport.Listen()
}

// Start launches the receive goroutine, the event loop and the handshake
// kickoff, which waits out the quiescence period before introducing itself.
// It returns immediately.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return ErrStopped
	}
	if n.running {
		return nil
	}
	n.running = true
	n.loopDone = make(chan struct{})
	n.wg.Add(3)
	go n.receive()
	go n.handleMessages()
	go n.kickoff()
	return nil
}

// Run drives the node from bind to completion: it returns nil once both the
// client and server roles are done, or ctx's error if ctx ends first.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Listen(); err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}
	defer n.Stop()

	select {
	case <-n.done:
		n.logStats()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	n.running = false
	n.cancel()
	close(n.stopCh)
	n.mu.Unlock()

	n.wg.Wait()
	n.clientWG.Wait()
	n.bcast.Wait(n.drainTimeout())
	return n.transport.Close()
}

func (n *Node) drainTimeout() time.Duration {
	attempts := n.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts)*n.retry.Wait + time.Second
}

// Done is closed once this process has delivered every message of the run
// and its client loop has sent all of its requests.
func (n *Node) Done() <-chan struct{} { return n.done }

func (n *Node) receive() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		default:
		}
		payload, err := n.transport.ReceiveTimeout(receivePoll)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if errors.Is(err, transport.ErrClosed) {
			n.logger.Printf("transport closed, server role ends")
			n.markServerDone()
			return
		}
		if err != nil {
			n.logger.Printf("receive error: %v", err)
			continue
		}
		msg, err := n.codec.Decode(payload)
		if err != nil {
			n.logger.Printf("discarding payload: %v", err)
			continue
		}
		select {
		case n.inbox <- msg:
		case <-n.stopCh:
			return
		}
	}
}

func (n *Node) handleMessages() {
	defer n.wg.Done()
	defer close(n.loopDone)
	for {
		select {
		case <-n.stopCh:
			return
		case msg := <-n.inbox:
			n.routeMessage(msg)
		case f := <-n.calls:
			f()
		}
		n.drainLoopback()
	}
}

func (n *Node) drainLoopback() {
	for len(n.loopback) > 0 {
		msg := n.loopback[0]
		n.loopback = n.loopback[1:]
		n.routeMessage(msg)
	}
}

func (n *Node) kickoff() {
	defer n.wg.Done()
	if q := n.cfg.Quiescence; q > 0 {
		t := time.NewTimer(q)
		defer t.Stop()
		select {
		case <-t.C:
		case <-n.stopCh:
			return
		}
	}
	n.submit(func() {
		envs, confirmed := n.handshake.Start()
		n.logger.Printf("introducing to %d peers, coordinator p%d", n.n-1, n.handshake.Coordinator())
		n.dispatch(envs)
		if confirmed {
			n.meshConfirmed()
		}
	})
}

// submit runs f on the event loop. It reports false if the node stopped
// first.
func (n *Node) submit(f func()) bool {
	select {
	case n.calls <- f:
		return true
	case <-n.stopCh:
		return false
	}
}

// inspect runs f on the event loop and waits for it. Once the loop has
// exited (or before it starts) f runs on the caller's goroutine.
func (n *Node) inspect(f func()) {
	n.mu.Lock()
	loopDone := n.loopDone
	n.mu.Unlock()
	if loopDone != nil {
		ran := make(chan struct{})
		select {
		case n.calls <- func() { f(); close(ran) }:
			<-ran
			return
		case <-loopDone:
		}
	}
	f()
}

func (n *Node) routeMessage(msg causal.Message) {
	if err := n.validate(msg); err != nil {
		n.logger.Printf("ignoring %v: %v", msg, err)
		return
	}
	switch msg.Kind {
	case causal.Introduce, causal.AckConn, causal.ConnConfirm:
		envs, confirmed := n.handshake.Handle(msg)
		n.dispatch(envs)
		if msg.Kind == causal.AckConn && len(n.handshake.Acknowledged()) == n.n {
			n.logger.Printf("connected to all %d processes", n.n)
		}
		if confirmed {
			n.meshConfirmed()
		}

	case causal.LeaderAnnounce:
		n.announce(msg)

	case causal.Request, causal.Application, causal.AppAck:
		if !n.elector.Known() {
			n.held = append(n.held, msg)
			return
		}
		n.routeOrdered(msg)

	default:
		n.logger.Printf("unknown message kind: %v", msg.Kind)
	}
}

func (n *Node) validate(msg causal.Message) error {
	if !msg.Kind.Valid() {
		return fmt.Errorf("unknown kind %v", msg.Kind)
	}
	if msg.Sender < 0 || msg.Sender >= n.n {
		return fmt.Errorf("sender %d outside group of %d", msg.Sender, n.n)
	}
	if msg.Kind.CarriesClock() && len(msg.Clock) != n.n {
		return fmt.Errorf("%w: clock of length %d", clock.ErrSize, len(msg.Clock))
	}
	if msg.Kind == causal.LeaderAnnounce && (msg.ID < 0 || msg.ID >= n.n) {
		return fmt.Errorf("announced leader %d outside group", msg.ID)
	}
	switch msg.Kind {
	case causal.Request, causal.Application, causal.AppAck:
		if err := n.validateID(msg.ID); err != nil {
			return err
		}
		if msg.Kind != causal.AppAck && causal.SenderOf(msg.ID) != msg.Sender {
			return fmt.Errorf("id %d does not belong to sender %d", msg.ID, msg.Sender)
		}
	}
	return nil
}

func (n *Node) validateID(id int) error {
	if id < 1 {
		return fmt.Errorf("message id %d", id)
	}
	if s := causal.SenderOf(id); s >= n.n {
		return fmt.Errorf("id %d names sender %d outside group", id, s)
	}
	if k := causal.SeqOf(id); k > n.cfg.Quota {
		return fmt.Errorf("id %d is message #%d, quota is %d", id, k, n.cfg.Quota)
	}
	return nil
}

func (n *Node) meshConfirmed() {
	n.logger.Printf("mesh confirmed by %v, electing leader", n.handshake.Confirmed())
	n.dispatch(n.elector.Elect())
}

func (n *Node) announce(msg causal.Message) {
	leader, first := n.elector.Accept(msg)
	if !first {
		return
	}
	n.logger.Printf("leader is p%d", leader)
	n.startClient(leader)

	held := n.held
	n.held = nil
	for _, m := range held {
		n.routeOrdered(m)
	}
}

func (n *Node) isLeader() bool {
	return n.elector.Known() && n.elector.Leader() == n.id
}

func (n *Node) routeOrdered(msg causal.Message) {
	switch msg.Kind {
	case causal.Request:
		if !n.isLeader() {
			n.logger.Printf("not the leader, dropping %v", msg)
			return
		}
		n.dispatch(n.sequencer.Enqueue(msg))

	case causal.Application:
		if n.buffer.IsDelivered(msg.ID) {
			// The first ack may have been lost; the leader waits on it.
			n.ack(msg.ID)
			return
		}
		_, before := n.buffer.Stats()
		released := n.buffer.Receive(msg)
		if _, after := n.buffer.Stats(); after > before {
			n.logger.Printf("buffering %d, waiting for %d", msg.ID, msg.ID-1)
		}
		for _, m := range released {
			n.deliver(m)
		}
		n.checkServer()

	case causal.AppAck:
		if !n.isLeader() {
			return
		}
		n.dispatch(n.sequencer.OnAck(msg))
		n.checkServer()
	}
}

func (n *Node) deliver(msg causal.Message) {
	if err := n.storage.Append(msg); err != nil {
		n.logger.Printf("storing %d: %v", msg.ID, err)
	}
	if n.cfg.Verbose {
		n.logger.Printf("delivered %d (p%d #%d) clock=%v", msg.ID, causal.SenderOf(msg.ID), causal.SeqOf(msg.ID), msg.Clock)
	}
	n.ack(msg.ID)
}

func (n *Node) ack(id int) {
	leader := n.elector.Leader()
	n.dispatch([]causal.Envelope{{
		To:  leader,
		Msg: causal.Message{Kind: causal.AppAck, Sender: n.id, Receiver: leader, ID: id},
	}})
}

func (n *Node) dispatch(envs []causal.Envelope) {
	for _, env := range envs {
		if env.To == n.id {
			n.loopback = append(n.loopback, env.Msg)
			continue
		}
		payload, err := n.codec.Encode(env.Msg)
		if err != nil {
			n.logger.Printf("encoding %v: %v", env.Msg, err)
			continue
		}
		switch env.To {
		case causal.ToAll:
			n.bcast.Broadcast(payload)
			n.loopback = append(n.loopback, env.Msg)
		case causal.ToPeers:
			n.bcast.Broadcast(payload)
		default:
			n.bcast.Go(env.To, payload)
		}
	}
}

func (n *Node) checkServer() {
	total := n.n * n.cfg.Quota
	if n.buffer.Count() < total {
		return
	}
	if n.isLeader() && n.sequencer.Served() < total {
		return
	}
	n.markServerDone()
}

func (n *Node) markServerDone() {
	n.serverOnce.Do(func() { close(n.serverDone) })
	n.checkDone()
}

func (n *Node) markClientDone() {
	n.clientOnce.Do(func() { close(n.clientDone) })
	n.checkDone()
}

func (n *Node) checkDone() {
	select {
	case <-n.serverDone:
	default:
		return
	}
	select {
	case <-n.clientDone:
	default:
		return
	}
	n.doneOnce.Do(func() { close(n.done) })
}

func (n *Node) logStats() {
	st := n.Stats()
	n.logger.Printf("done: delivered=%d direct=%d indirect=%d released=%d dropped=%d",
		st.Delivered, st.Direct, st.Indirect, st.Released, st.Dropped)
}
