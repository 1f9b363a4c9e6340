// =============================================================================
// IN-MEMORY TRANSPORT - Whole Groups in One Process
// =============================================================================
//
//   ┌─────────┐   payload copy   ┌─────────┐
//   │  Node A │ ───────────────▶ │  Node B │
//   │         │                  │  inbox  │
//   └─────────┘                  └─────────┘
//
// A Network is the shared registry of inboxes. AddNode creates the transport
// for one process; Send looks up the destination inbox and pushes a private
// copy of the payload.
//
// Failure simulation, for tests and the demo:
//
//   FailNext(to, n)   the next n sends to `to` fail with ErrUnreachable
//   Partition(a, b)   sends between a and b fail until Heal(a, b)
//   SetDelay(max)     each delivery sleeps a random duration in [0, max]
//
// Inboxes are buffered. A full inbox blocks the sender (like a slow TCP
// peer) rather than dropping silently.
//
// =============================================================================

package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const memoryInboxSize = 1024

type Network struct {
	mu        sync.RWMutex
	nodes     map[int]*MemoryTransport
	fail      map[int]int
	cut       map[[2]int]bool
	maxDelay  time.Duration
	delivered map[int]int
}

func NewNetwork() *Network {
	return &Network{
		nodes:     make(map[int]*MemoryTransport),
		fail:      make(map[int]int),
		cut:       make(map[[2]int]bool),
		delivered: make(map[int]int),
	}
}

func (n *Network) AddNode(id int) *MemoryTransport {
	return &MemoryTransport{id: id, network: n, in: newInbox(memoryInboxSize)}
}

func (n *Network) FailNext(to, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail[to] += count
}

func (n *Network) Partition(a, b int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[link(a, b)] = true
}

func (n *Network) Heal(a, b int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.cut, link(a, b))
}

func (n *Network) SetDelay(max time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.maxDelay = max
}

// Delivered returns how many payloads reached node id.
func (n *Network) Delivered(id int) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.delivered[id]
}

func link(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func (n *Network) route(from, to int) (*MemoryTransport, time.Duration, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	dest, ok := n.nodes[to]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnreachable, to)
	}
	if n.fail[to] > 0 {
		n.fail[to]--
		return nil, 0, fmt.Errorf("%w: %d (injected)", ErrUnreachable, to)
	}
	if n.cut[link(from, to)] {
		return nil, 0, fmt.Errorf("%w: %d (partitioned)", ErrUnreachable, to)
	}
	var delay time.Duration
	if n.maxDelay > 0 {
		delay = time.Duration(rand.Int63n(int64(n.maxDelay) + 1))
	}
	return dest, delay, nil
}

type MemoryTransport struct {
	id      int
	network *Network
	in      inbox
	once    sync.Once
}

func (t *MemoryTransport) Listen() error {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	if other, ok := t.network.nodes[t.id]; ok && other != t {
		return &BindError{Node: t.id, Addr: fmt.Sprintf("mem:%d", t.id), Err: fmt.Errorf("address in use")}
	}
	t.network.nodes[t.id] = t
	return nil
}

func (t *MemoryTransport) Send(ctx context.Context, to int, payload []byte) error {
	dest, delay, err := t.network.route(t.id, to)
	if err != nil {
		return err
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	cp := append([]byte(nil), payload...)
	select {
	case dest.in.ch <- cp:
	case <-dest.in.done:
		return fmt.Errorf("%w: %d", ErrUnreachable, to)
	case <-ctx.Done():
		return ctx.Err()
	}
	t.network.mu.Lock()
	t.network.delivered[to]++
	t.network.mu.Unlock()
	return nil
}

func (t *MemoryTransport) Receive() ([]byte, error) {
	return t.in.receive()
}

func (t *MemoryTransport) ReceiveTimeout(timeout time.Duration) ([]byte, error) {
	return t.in.receiveTimeout(timeout)
}

func (t *MemoryTransport) Close() error {
	t.once.Do(func() {
		t.network.mu.Lock()
		if t.network.nodes[t.id] == t {
			delete(t.network.nodes, t.id)
		}
		t.network.mu.Unlock()
		close(t.in.done)
	})
	return nil
}
