// =============================================================================
// CODEC - Message <-> Bytes
// =============================================================================
//
// The transports move opaque byte payloads; the codec is the only place that
// knows the wire form of a causal.Message. One payload carries exactly one
// message.
//
// Gob encodes a private wire struct rather than causal.Message directly so
// the "no clock" case survives the round trip: gob flattens a nil slice and
// an empty slice to the same thing, so presence travels as its own flag.
//
// =============================================================================

package codec

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/guptamayank9827/causal-order/internal/causal"
)

var ErrMalformed = errors.New("malformed payload")

type Codec interface {
	Encode(msg causal.Message) ([]byte, error)
	Decode(payload []byte) (causal.Message, error)
}

type wireMessage struct {
	Kind     uint8
	Sender   int
	Receiver int
	HasClock bool
	Clock    []int
	ID       int
}

type Gob struct{}

func (Gob) Encode(msg causal.Message) ([]byte, error) {
	w := wireMessage{
		Kind:     uint8(msg.Kind),
		Sender:   msg.Sender,
		Receiver: msg.Receiver,
		HasClock: msg.Clock != nil,
		Clock:    msg.Clock,
		ID:       msg.ID,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind, err)
	}
	return buf.Bytes(), nil
}

func (Gob) Decode(payload []byte) (causal.Message, error) {
	if len(payload) == 0 {
		return causal.Message{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	var w wireMessage
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&w); err != nil {
		return causal.Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kind := causal.Kind(w.Kind)
	if !kind.Valid() {
		return causal.Message{}, fmt.Errorf("%w: unknown kind %d", ErrMalformed, w.Kind)
	}
	msg := causal.Message{
		Kind:     kind,
		Sender:   w.Sender,
		Receiver: w.Receiver,
		ID:       w.ID,
	}
	if w.HasClock {
		msg.Clock = append(make([]int, 0, len(w.Clock)), w.Clock...)
	}
	return msg, nil
}
