// =============================================================================
// HANDSHAKE - From an Address List to a Confirmed Mesh
// =============================================================================
//
// Drives one process from "isolated" to "mesh confirmed":
//
//   1. Start: INTRODUCE to every peer.
//   2. INTRODUCE from p  -> reply ACK_CONN to p.
//   3. ACK_CONN from p   -> remember p. When every process (self included)
//                           has acknowledged us, a non-coordinator reports
//                           CONN_CONFIRM to the coordinator.
//   4. CONN_CONFIRM      -> coordinator only. When every process has
//                           confirmed, the mesh is complete and the caller
//                           must run the election.
//
// The coordinator is the lowest process id. Both sets start with self in
// them, and both use set semantics so a duplicated ACK_CONN or CONN_CONFIRM
// can never push the count past N or fire a transition twice.
//
// =============================================================================

package causal

import "sort"

type Handshake struct {
	self        int
	n           int
	coordinator int

	acks     map[int]struct{}
	confirms map[int]struct{}

	reported  bool
	confirmed bool
}

func NewHandshake(self, n, coordinator int) *Handshake {
	return &Handshake{
		self:        self,
		n:           n,
		coordinator: coordinator,
		acks:        map[int]struct{}{self: {}},
		confirms:    map[int]struct{}{self: {}},
	}
}

// Start returns the INTRODUCE broadcast. A single-process group has nothing
// to wait for, so the coordinator reports the mesh confirmed immediately.
func (h *Handshake) Start() ([]Envelope, bool) {
	intro := Message{Kind: Introduce, Sender: h.self}
	if h.n == 1 && h.self == h.coordinator {
		h.confirmed = true
		return nil, true
	}
	return send(ToPeers, intro), false
}

func (h *Handshake) Handle(msg Message) ([]Envelope, bool) {
	switch msg.Kind {
	case Introduce:
		return send(msg.Sender, Message{Kind: AckConn, Sender: h.self, Receiver: msg.Sender}), false

	case AckConn:
		h.acks[msg.Sender] = struct{}{}
		if len(h.acks) < h.n || h.reported {
			return nil, false
		}
		h.reported = true
		if h.self == h.coordinator {
			return nil, false
		}
		return send(h.coordinator, Message{Kind: ConnConfirm, Sender: h.self, Receiver: h.coordinator}), false

	case ConnConfirm:
		if h.self != h.coordinator {
			return nil, false
		}
		h.confirms[msg.Sender] = struct{}{}
		if len(h.confirms) < h.n || h.confirmed {
			return nil, false
		}
		h.confirmed = true
		return nil, true
	}
	return nil, false
}

func (h *Handshake) Coordinator() int { return h.coordinator }

func (h *Handshake) MeshConfirmed() bool { return h.confirmed }

func (h *Handshake) Acknowledged() []int { return sortedKeys(h.acks) }

func (h *Handshake) Confirmed() []int { return sortedKeys(h.confirms) }

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
