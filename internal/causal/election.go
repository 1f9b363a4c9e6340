package causal

import "math/rand"

// Elector picks the sequencer once the mesh is confirmed. Only the
// coordinator calls Elect; every process (the coordinator included, via
// loopback) learns the result through Accept.
//
// Election assumes no process fails while it runs. There is no term number:
// the first announce wins and later ones only refresh the leader id.
type Elector struct {
	self   int
	n      int
	leader int
	rand   func(n int) int

	elected  bool
	accepted bool
}

func NewElector(self, n, defaultLeader int, rnd func(n int) int) *Elector {
	if rnd == nil {
		rnd = rand.Intn
	}
	return &Elector{self: self, n: n, leader: defaultLeader, rand: rnd}
}

func (e *Elector) Elect() []Envelope {
	if e.elected {
		return nil
	}
	e.elected = true
	e.leader = e.rand(e.n)
	return send(ToAll, Message{Kind: LeaderAnnounce, Sender: e.self, ID: e.leader})
}

// Accept records an announced leader. start is true on the first announce
// only, so a duplicate delivery never starts a second broadcast loop.
func (e *Elector) Accept(msg Message) (leader int, start bool) {
	e.leader = msg.ID
	if e.accepted {
		return e.leader, false
	}
	e.accepted = true
	return e.leader, true
}

func (e *Elector) Leader() int { return e.leader }

func (e *Elector) Known() bool { return e.accepted }
