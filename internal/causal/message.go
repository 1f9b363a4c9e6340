// =============================================================================
// PROTOCOL MESSAGES
// =============================================================================
//
// Every message in the system is one immutable Message value. The Kind says
// which phase of the protocol it belongs to:
//
// HANDSHAKE (turns an address list into a confirmed mesh)
// ─────────────────────────────────────────────────────────
//
//   every process ── INTRODUCE ──▶ every peer
//   peer          ── ACK_CONN ───▶ introducer
//   non-coord     ── CONN_CONFIRM ▶ coordinator   (once all ACK_CONN seen)
//   coordinator   ── LEADER_ANNOUNCE ▶ everyone   (once all CONN_CONFIRM seen)
//
// ORDERED BROADCAST (funnelled through the leader)
// ─────────────────────────────────────────────────
//
//   client ── REQUEST ─────▶ leader (sequencer queue)
//   leader ── APPLICATION ─▶ everyone, one request at a time
//   every  ── APP_ACK ─────▶ leader; the next request is released only after
//                            all N processes acknowledged the current one
//
// Only REQUEST and APPLICATION carry a clock snapshot. LEADER_ANNOUNCE carries
// the elected leader in ID.
//
// =============================================================================

package causal

import "fmt"

type Kind uint8

const (
	Introduce Kind = iota + 1
	AckConn
	ConnConfirm
	LeaderAnnounce
	Request
	Application
	AppAck
)

var kindNames = map[Kind]string{
	Introduce:      "INTRODUCE",
	AckConn:        "ACK_CONN",
	ConnConfirm:    "CONN_CONFIRM",
	LeaderAnnounce: "LEADER_ANNOUNCE",
	Request:        "REQUEST",
	Application:    "APPLICATION",
	AppAck:         "APP_ACK",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) CarriesClock() bool {
	return k == Request || k == Application
}

type Message struct {
	Kind     Kind
	Sender   int
	Receiver int
	Clock    []int
	ID       int
}

func (m Message) String() string {
	if m.Clock != nil {
		return fmt.Sprintf("%s{from=%d to=%d id=%d clock=%v}", m.Kind, m.Sender, m.Receiver, m.ID, m.Clock)
	}
	return fmt.Sprintf("%s{from=%d to=%d id=%d}", m.Kind, m.Sender, m.Receiver, m.ID)
}

// Destinations with special meaning in an Envelope.
const (
	ToAll   = -1 // every process, self included (self via loopback)
	ToPeers = -2 // every process except self
)

// Envelope is an outbound message produced by one of the protocol state
// machines. The node decides how to put it on the wire.
type Envelope struct {
	To  int
	Msg Message
}

func send(to int, m Message) []Envelope {
	return []Envelope{{To: to, Msg: m}}
}
