package causal

import "testing"

// runMesh plays the handshake for n processes by routing envelopes between
// their state machines until quiet, and returns how many times the mesh was
// reported confirmed.
func runMesh(t *testing.T, n int, duplicate bool) (confirmations int, shakes []*Handshake) {
	t.Helper()
	shakes = make([]*Handshake, n)
	for i := range shakes {
		shakes[i] = NewHandshake(i, n, 0)
	}

	type delivery struct {
		to  int
		msg Message
	}
	var queue []delivery
	enqueue := func(from int, envs []Envelope) {
		for _, e := range envs {
			switch e.To {
			case ToPeers:
				for p := 0; p < n; p++ {
					if p != from {
						queue = append(queue, delivery{p, e.Msg})
					}
				}
			case ToAll:
				for p := 0; p < n; p++ {
					queue = append(queue, delivery{p, e.Msg})
				}
			default:
				queue = append(queue, delivery{e.To, e.Msg})
			}
		}
	}

	for i, h := range shakes {
		envs, done := h.Start()
		if done {
			confirmations++
		}
		enqueue(i, envs)
	}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		rounds := 1
		if duplicate {
			rounds = 2
		}
		for r := 0; r < rounds; r++ {
			envs, done := shakes[d.to].Handle(d.msg)
			if done {
				confirmations++
			}
			enqueue(d.to, envs)
		}
	}
	return confirmations, shakes
}

func TestHandshakeConfirmsMesh(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		confirmations, shakes := runMesh(t, n, false)
		if confirmations != 1 {
			t.Fatalf("n=%d: mesh confirmed %d times, want 1", n, confirmations)
		}
		if !shakes[0].MeshConfirmed() {
			t.Fatalf("n=%d: coordinator not confirmed", n)
		}
		for i, h := range shakes {
			if len(h.Acknowledged()) != n {
				t.Fatalf("n=%d: p%d acknowledged by %v", n, i, h.Acknowledged())
			}
			if i != 0 && h.MeshConfirmed() {
				t.Fatalf("n=%d: non-coordinator p%d reported the mesh", n, i)
			}
		}
		if len(shakes[0].Confirmed()) != n {
			t.Fatalf("n=%d: coordinator confirmed %v", n, shakes[0].Confirmed())
		}
	}
}

func TestHandshakeToleratesDuplicates(t *testing.T) {
	confirmations, shakes := runMesh(t, 4, true)
	if confirmations != 1 {
		t.Fatalf("mesh confirmed %d times under duplication", confirmations)
	}
	if got := shakes[0].Confirmed(); len(got) != 4 {
		t.Fatalf("confirmed = %v", got)
	}
}

func TestConnConfirmIgnoredOffCoordinator(t *testing.T) {
	h := NewHandshake(2, 3, 0)
	envs, done := h.Handle(Message{Kind: ConnConfirm, Sender: 1})
	if envs != nil || done {
		t.Fatalf("non-coordinator reacted to CONN_CONFIRM")
	}
	if len(h.Confirmed()) != 1 {
		t.Fatalf("confirmed = %v", h.Confirmed())
	}
}

func TestIntroduceRepliesWithAck(t *testing.T) {
	h := NewHandshake(1, 3, 0)
	envs, _ := h.Handle(Message{Kind: Introduce, Sender: 2})
	if len(envs) != 1 || envs[0].To != 2 || envs[0].Msg.Kind != AckConn || envs[0].Msg.Sender != 1 {
		t.Fatalf("reply = %+v", envs)
	}
}

func TestElectorAnnouncesOnce(t *testing.T) {
	e := NewElector(0, 4, 0, func(n int) int { return n - 1 })
	envs := e.Elect()
	if len(envs) != 1 || envs[0].To != ToAll {
		t.Fatalf("announce = %+v", envs)
	}
	if envs[0].Msg.Kind != LeaderAnnounce || envs[0].Msg.ID != 3 {
		t.Fatalf("announce message = %v", envs[0].Msg)
	}
	if e.Leader() != 3 {
		t.Fatalf("leader = %d", e.Leader())
	}
	if again := e.Elect(); again != nil {
		t.Fatalf("second election produced %+v", again)
	}
}

func TestElectorAcceptIsIdempotent(t *testing.T) {
	e := NewElector(2, 4, 0, nil)
	if e.Known() {
		t.Fatalf("leader known before any announce")
	}
	leader, start := e.Accept(Message{Kind: LeaderAnnounce, ID: 1})
	if leader != 1 || !start {
		t.Fatalf("first accept = (%d, %v)", leader, start)
	}
	leader, start = e.Accept(Message{Kind: LeaderAnnounce, ID: 1})
	if leader != 1 || start {
		t.Fatalf("duplicate accept = (%d, %v), want no restart", leader, start)
	}
}

func TestElectorDefaultRandomInRange(t *testing.T) {
	for i := 0; i < 50; i++ {
		e := NewElector(0, 3, 0, nil)
		e.Elect()
		if l := e.Leader(); l < 0 || l >= 3 {
			t.Fatalf("leader %d out of range", l)
		}
	}
}
