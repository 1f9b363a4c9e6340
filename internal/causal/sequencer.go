// =============================================================================
// SEQUENCER - Leader-Resident Total Order
// =============================================================================
//
// Every REQUEST in the group funnels into the leader's sequencer, which turns
// concurrent requests into one global order:
//
//   ┌──────────┐ Enqueue  ┌──────────────┐ APPLICATION ┌────────────┐
//   │ REQUESTs │ ───────▶ │ pending FIFO │ ──────────▶ │ all N      │
//   └──────────┘          └──────────────┘             │ processes  │
//                               ▲                      └─────┬──────┘
//                               │   OnAck: N acks for id     │ APP_ACK
//                               └────────────────────────────┘
//
// Two stable states:
//
//   idle       nothing outstanding; the next Enqueue releases immediately
//   releasing  exactly one APPLICATION outstanding; Enqueue only queues
//
// The ack set for an id is seeded with the leader itself, so with the
// leader's own (loopback) ack and the N-1 remote acks it reaches exactly N.
//
// =============================================================================
// INVARIANTS
// =============================================================================
//
// - At most one released id is waiting for acknowledgements.
// - An id is queued or released at most once; repeats of a REQUEST are
//   dropped on arrival.
// - acks[id] only grows and never exceeds N (it is a set of process ids).
// - Released() is the global order every process observes per sender.
//
// =============================================================================

package causal

import (
	"log"

	"github.com/guptamayank9827/causal-order/internal/clock"
)

type Sequencer struct {
	self  int
	n     int
	total int
	clock *clock.Vector

	pending     []Message
	seen        map[int]struct{}
	outstanding int
	acks        map[int]map[int]struct{}
	served      int
	released    []int

	logger *log.Logger
}

func NewSequencer(self, n, quota int, clk *clock.Vector, logger *log.Logger) *Sequencer {
	if logger == nil {
		logger = log.Default()
	}
	return &Sequencer{
		self:   self,
		n:      n,
		total:  n * quota,
		clock:  clk,
		seen:   make(map[int]struct{}),
		acks:   make(map[int]map[int]struct{}),
		logger: logger,
	}
}

// Enqueue ignores ids below 1, which never name a message, and ids it has
// already queued or released.
func (s *Sequencer) Enqueue(r Message) []Envelope {
	if r.ID < 1 {
		s.logger.Printf("dropping request with id %d", r.ID)
		return nil
	}
	if _, dup := s.seen[r.ID]; dup {
		s.logger.Printf("dropping repeated request %d", r.ID)
		return nil
	}
	s.seen[r.ID] = struct{}{}

	idle := len(s.pending) == 0 && s.outstanding == 0
	s.pending = append(s.pending, r)
	if !idle {
		return nil
	}
	return s.releaseHead()
}

func (s *Sequencer) releaseHead() []Envelope {
	for len(s.pending) > 0 && s.served < s.total {
		r := s.pending[0]
		s.pending = s.pending[1:]

		merged, err := s.clock.Merge(r.Clock)
		if err != nil {
			s.logger.Printf("dropping request %d: %v", r.ID, err)
			continue
		}
		s.outstanding = r.ID
		s.released = append(s.released, r.ID)
		s.logger.Printf("release %d from p%d (%d queued)", r.ID, r.Sender, len(s.pending))

		return send(ToAll, Message{
			Kind:     Application,
			Sender:   r.Sender,
			Receiver: s.self,
			Clock:    merged,
			ID:       r.ID,
		})
	}
	return nil
}

func (s *Sequencer) OnAck(ack Message) []Envelope {
	set, ok := s.acks[ack.ID]
	if !ok {
		set = map[int]struct{}{s.self: {}}
		s.acks[ack.ID] = set
	}
	set[ack.Sender] = struct{}{}
	if ack.ID != s.outstanding || len(set) < s.n {
		return nil
	}

	s.outstanding = 0
	s.served++
	if s.served >= s.total {
		s.logger.Printf("all %d requests served", s.served)
		return nil
	}
	return s.releaseHead()
}

func (s *Sequencer) Released() []int { return append([]int(nil), s.released...) }

func (s *Sequencer) Pending() int { return len(s.pending) }

func (s *Sequencer) Served() int { return s.served }

func (s *Sequencer) Outstanding() int { return s.outstanding }

func (s *Sequencer) AckCount(id int) int { return len(s.acks[id]) }
