package causal

import (
	"testing"

	"github.com/guptamayank9827/causal-order/internal/clock"
)

func app(id int, clk ...int) Message {
	return Message{Kind: Application, Sender: SenderOf(id), ID: id, Clock: clk}
}

func ids(msgs []Message) []int {
	out := make([]int, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func checkDisjoint(t *testing.T, b *Buffer) {
	t.Helper()
	for _, id := range b.Buffered() {
		if b.IsDelivered(id) {
			t.Fatalf("id %d is both delivered and buffered", id)
		}
	}
}

func TestIDScheme(t *testing.T) {
	cases := []struct {
		sender, seq int
	}{
		{0, 1}, {0, 999}, {0, 1000}, {3, 1}, {3, 42}, {3, 1000},
	}
	for _, c := range cases {
		id := MessageID(c.sender, c.seq)
		if SenderOf(id) != c.sender || SeqOf(id) != c.seq {
			t.Errorf("id %d decodes to (%d,%d), want (%d,%d)",
				id, SenderOf(id), SeqOf(id), c.sender, c.seq)
		}
	}
	if MessageID(2, 7) != 2007 {
		t.Errorf("MessageID(2,7) = %d", MessageID(2, 7))
	}
}

func TestFirstMessageDeliversDirectly(t *testing.T) {
	b := NewBuffer(3, clock.New(2, 0))
	got := b.Receive(app(1001, 0, 1))
	if !equalInts(ids(got), []int{1001}) {
		t.Fatalf("delivered %v", ids(got))
	}
	direct, indirect := b.Stats()
	if direct != 1 || indirect != 0 {
		t.Fatalf("stats = %d/%d", direct, indirect)
	}
}

func TestOutOfOrderIsBufferedThenCascades(t *testing.T) {
	b := NewBuffer(5, clock.New(2, 0))

	for _, id := range []int{1004, 1003, 1002} {
		if got := b.Receive(app(id, 0, id%1000)); len(got) != 0 {
			t.Fatalf("id %d delivered early: %v", id, ids(got))
		}
		checkDisjoint(t, b)
	}
	if !equalInts(b.Buffered(), []int{1002, 1003, 1004}) {
		t.Fatalf("buffered = %v", b.Buffered())
	}

	got := b.Receive(app(1001, 0, 1))
	if !equalInts(ids(got), []int{1001, 1002, 1003, 1004}) {
		t.Fatalf("cascade delivered %v", ids(got))
	}
	if len(b.Buffered()) != 0 {
		t.Fatalf("buffer not drained: %v", b.Buffered())
	}
	checkDisjoint(t, b)

	direct, indirect := b.Stats()
	if direct != 1 || indirect != 3 {
		t.Fatalf("stats = %d/%d, want 1/3", direct, indirect)
	}
	if snap := b.clock.Snapshot(); snap[1] != 4 {
		t.Fatalf("clock not merged along the cascade: %v", snap)
	}
}

func TestLongCascadeDoesNotRecurse(t *testing.T) {
	const quota = 1000
	b := NewBuffer(quota, clock.New(1, 0))
	for k := quota; k >= 2; k-- {
		b.Receive(app(MessageID(0, k), k))
	}
	got := b.Receive(app(MessageID(0, 1), 1))
	if len(got) != quota {
		t.Fatalf("delivered %d, want %d", len(got), quota)
	}
	for i, m := range got {
		if SeqOf(m.ID) != i+1 {
			t.Fatalf("position %d holds seq %d", i, SeqOf(m.ID))
		}
	}
}

func TestExhaustedSenderFallsBackToOtherSender(t *testing.T) {
	b := NewBuffer(2, clock.New(3, 0))

	b.Receive(app(2001, 0, 0, 1))
	// 1002 waits for 1001; 2002 is parked although its predecessor is
	// delivered, as if it had raced in before 2001 was processed.
	b.Receive(app(1002, 0, 2, 0))
	b.buffered[2002] = app(2002, 0, 0, 2)
	b.bufferedIDs = append(b.bufferedIDs, 2002)

	got := b.Receive(app(1001, 0, 1, 0))
	if !equalInts(ids(got), []int{1001, 1002, 2002}) {
		t.Fatalf("delivered %v, want [1001 1002 2002]", ids(got))
	}
	checkDisjoint(t, b)
}

func TestFallbackSkipsIneligibleAndSameSender(t *testing.T) {
	b := NewBuffer(2, clock.New(3, 0))
	b.Receive(app(2002, 0, 0, 2)) // 2001 missing, not eligible
	b.Receive(app(1002, 0, 2, 0))

	got := b.Receive(app(1001, 0, 1, 0))
	if !equalInts(ids(got), []int{1001, 1002}) {
		t.Fatalf("delivered %v", ids(got))
	}
	if !equalInts(b.Buffered(), []int{2002}) {
		t.Fatalf("buffered = %v", b.Buffered())
	}

	got = b.Receive(app(2001, 0, 0, 1))
	if !equalInts(ids(got), []int{2001, 2002}) {
		t.Fatalf("delivered %v", ids(got))
	}
}

func TestDuplicatesAreIgnored(t *testing.T) {
	b := NewBuffer(3, clock.New(1, 0))
	b.Receive(app(2, 2))
	if got := b.Receive(app(2, 2)); got != nil {
		t.Fatalf("duplicate buffered message delivered: %v", ids(got))
	}
	b.Receive(app(1, 1))
	if got := b.Receive(app(1, 1)); got != nil {
		t.Fatalf("duplicate delivered message delivered again: %v", ids(got))
	}
	if !equalInts(b.Delivered(), []int{1, 2}) {
		t.Fatalf("delivered = %v", b.Delivered())
	}
	_, indirect := b.Stats()
	if indirect != 1 {
		t.Fatalf("indirect = %d", indirect)
	}
}

func TestCanDeliverIsPure(t *testing.T) {
	b := NewBuffer(3, clock.New(2, 0))
	b.Receive(app(1001, 0, 1))

	msg := app(1003, 0, 3)
	before := b.Delivered()
	first := b.CanDeliver(msg)
	second := b.CanDeliver(msg)
	if first != second || first {
		t.Fatalf("CanDeliver = %v then %v, want false twice", first, second)
	}
	if !equalInts(before, b.Delivered()) || len(b.Buffered()) != 0 {
		t.Fatalf("CanDeliver changed state")
	}
	if !b.CanDeliver(app(1002, 0, 2)) {
		t.Fatalf("successor of a delivered id must be deliverable")
	}
}

func TestPerSenderOrderUnderShuffle(t *testing.T) {
	arrivals := []int{2003, 1002, 3001, 2001, 1003, 3003, 1001, 2002, 3002}
	b := NewBuffer(3, clock.New(4, 0))
	for _, id := range arrivals {
		b.Receive(app(id, 0, 0, 0, 0))
		checkDisjoint(t, b)
	}
	if b.Count() != len(arrivals) {
		t.Fatalf("delivered %d of %d: %v", b.Count(), len(arrivals), b.Delivered())
	}
	last := map[int]int{}
	for _, id := range b.Delivered() {
		s := SenderOf(id)
		if SeqOf(id) != last[s]+1 {
			t.Fatalf("sender %d delivered seq %d after %d", s, SeqOf(id), last[s])
		}
		last[s] = SeqOf(id)
	}
}

func TestWrongClockLengthIsRejected(t *testing.T) {
	clk := clock.New(2, 0)
	b := NewBuffer(3, clk)
	if got := b.Receive(app(1001, 0, 1, 7)); got != nil {
		t.Fatalf("delivered a message with a 3-slot clock: %v", ids(got))
	}
	if got := b.Receive(app(1002, 0)); got != nil {
		t.Fatalf("delivered a message with a 1-slot clock: %v", ids(got))
	}
	if b.Rejected() != 2 || len(b.Buffered()) != 0 || b.Count() != 0 {
		t.Fatalf("rejected=%d buffered=%v count=%d", b.Rejected(), b.Buffered(), b.Count())
	}
	if c := clk.Snapshot(); !equalInts(c, []int{0, 0}) {
		t.Fatalf("clock touched by rejected messages: %v", c)
	}
	// The id is still free for a well-formed copy.
	if got := b.Receive(app(1001, 0, 1)); !equalInts(ids(got), []int{1001}) {
		t.Fatalf("well-formed copy = %v", ids(got))
	}
}
