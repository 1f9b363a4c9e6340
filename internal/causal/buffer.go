// =============================================================================
// DELIVERY BUFFER - Per-Sender FIFO With Cascading Release
// =============================================================================
//
// Every inbound APPLICATION goes through Receive:
//
//   deliverable?  (sequence 1, or id-1 already delivered)
//     yes -> deliver it, then keep releasing buffered successors
//     no  -> park it in the buffer until its predecessor shows up
//
// Release after a delivery of id:
//
//   SeqOf(id) < quota   look for id+1 (same sender's chain)
//   SeqOf(id) == quota  the sender is exhausted; take the smallest buffered id
//                       of another sender that is deliverable right now
//
// The cascade is a work-list loop so an arbitrarily long buffered run is
// released in one pass without growing the stack.
//
// Gating compares message-id sequence numbers only. The vector clock is
// merged on every delivery but not consulted for the decision, which gives
// per-sender FIFO rather than full causal order across senders.
//
// =============================================================================
// INVARIANTS
// =============================================================================
//
// - delivered ∩ buffered = ∅ after every call.
// - For every sender, id k+1 is never delivered before id k.
// - CanDeliver mutates nothing.
// - Every message held or delivered has a clock of the vector's length (or
//   none); anything else is rejected on entry and counted.
//
// =============================================================================

package causal

import (
	"sort"

	"github.com/guptamayank9827/causal-order/internal/clock"
)

type Buffer struct {
	quota int
	clock *clock.Vector

	delivered   map[int]struct{}
	order       []int
	buffered    map[int]Message
	bufferedIDs []int

	direct   int
	indirect int
	rejected int
}

func NewBuffer(quota int, clk *clock.Vector) *Buffer {
	return &Buffer{
		quota:     quota,
		clock:     clk,
		delivered: make(map[int]struct{}),
		buffered:  make(map[int]Message),
	}
}

// CanDeliver holds the clock's read lock for the duration of the check even
// though only ids are compared; callers rely on it as a synchronization point
// with concurrent clock writers.
func (b *Buffer) CanDeliver(msg Message) bool {
	b.clock.RLock()
	defer b.clock.RUnlock()
	return b.deliverable(msg.ID)
}

func (b *Buffer) deliverable(id int) bool {
	if SeqOf(id) == 1 {
		return true
	}
	_, ok := b.delivered[id-1]
	return ok
}

// Receive returns the messages released by this call, in delivery order.
func (b *Buffer) Receive(msg Message) []Message {
	if _, ok := b.delivered[msg.ID]; ok {
		return nil
	}
	if _, ok := b.buffered[msg.ID]; ok {
		return nil
	}
	if msg.Clock != nil && len(msg.Clock) != b.clock.Len() {
		b.rejected++
		return nil
	}
	if !b.CanDeliver(msg) {
		b.buffered[msg.ID] = msg
		b.bufferedIDs = append(b.bufferedIDs, msg.ID)
		b.indirect++
		return nil
	}
	b.direct++
	return b.deliver(msg)
}

func (b *Buffer) deliver(msg Message) []Message {
	var out []Message
	for next, ok := msg, true; ok; {
		if next.Clock != nil {
			// Lengths were checked in Receive.
			if _, err := b.clock.Merge(next.Clock); err != nil {
				panic(err)
			}
		}
		b.delivered[next.ID] = struct{}{}
		b.order = append(b.order, next.ID)
		out = append(out, next)

		next, ok = b.successor(next)
		if ok {
			b.unbuffer(next.ID)
		}
	}
	return out
}

func (b *Buffer) successor(last Message) (Message, bool) {
	if len(b.bufferedIDs) == 0 {
		return Message{}, false
	}
	sort.Ints(b.bufferedIDs)

	if SeqOf(last.ID) < b.quota {
		m, ok := b.buffered[last.ID+1]
		return m, ok
	}
	sender := SenderOf(last.ID)
	for _, id := range b.bufferedIDs {
		if SenderOf(id) != sender && b.deliverable(id) {
			return b.buffered[id], true
		}
	}
	return Message{}, false
}

func (b *Buffer) unbuffer(id int) {
	delete(b.buffered, id)
	for i, bid := range b.bufferedIDs {
		if bid == id {
			b.bufferedIDs = append(b.bufferedIDs[:i], b.bufferedIDs[i+1:]...)
			return
		}
	}
}

func (b *Buffer) Delivered() []int { return append([]int(nil), b.order...) }

func (b *Buffer) Buffered() []int {
	out := append([]int(nil), b.bufferedIDs...)
	sort.Ints(out)
	return out
}

func (b *Buffer) IsDelivered(id int) bool {
	_, ok := b.delivered[id]
	return ok
}

func (b *Buffer) Count() int { return len(b.order) }

func (b *Buffer) Stats() (direct, indirect int) { return b.direct, b.indirect }

// Rejected counts messages refused because their clock had the wrong length.
func (b *Buffer) Rejected() int { return b.rejected }
