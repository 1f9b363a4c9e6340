package node

import "github.com/guptamayank9827/causal-order/internal/causal"

type Stats struct {
	Delivered int
	Direct    int
	Indirect  int
	Rejected  int
	Released  int
	Served    int
	Pending   int
	Dropped   int
}

// Leader returns the accepted leader and whether an announce has been
// accepted yet.
func (n *Node) Leader() (leader int, known bool) {
	n.inspect(func() {
		leader, known = n.elector.Leader(), n.elector.Known()
	})
	return leader, known
}

// Delivered returns the ids delivered so far, in delivery order.
func (n *Node) Delivered() []int {
	var ids []int
	n.inspect(func() { ids = n.buffer.Delivered() })
	return ids
}

func (n *Node) Buffered() []int {
	var ids []int
	n.inspect(func() { ids = n.buffer.Buffered() })
	return ids
}

// Released returns the leader's global release order. It is empty on every
// other process.
func (n *Node) Released() []int {
	var ids []int
	n.inspect(func() { ids = n.sequencer.Released() })
	return ids
}

func (n *Node) Stats() Stats {
	var st Stats
	n.inspect(func() {
		st.Delivered = n.buffer.Count()
		st.Direct, st.Indirect = n.buffer.Stats()
		st.Rejected = n.buffer.Rejected()
		st.Released = len(n.sequencer.Released())
		st.Served = n.sequencer.Served()
		st.Pending = n.sequencer.Pending()
	})
	st.Dropped = n.bcast.Dropped()
	return st
}

func (n *Node) Clock() []int { return n.clock.Snapshot() }

// History returns the delivered messages, clocks included, as the storage
// recorded them.
func (n *Node) History() []causal.Message { return n.storage.Delivered() }
