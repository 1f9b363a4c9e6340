// =============================================================================
// STORAGE INTERFACE - The Application's Delivery Log
// =============================================================================
//
// Storage is the application layer's view of the broadcast: every message
// the delivery buffer releases is appended here, in delivery order, exactly
// once. Tests and the demo read it back to check ordering.
//
// Different backends can sit behind the interface; this module only ships an
// in-memory one because nothing in the protocol survives a restart.
//
// =============================================================================
// INVARIANT THIS FILE MUST UPHOLD
// =============================================================================
//
// INVARIANT: The log is append-only and never holds the same id twice.
//
// Append of an id already present returns ErrDuplicate and leaves the log
// unchanged.
//
// =============================================================================

package storage

import (
	"errors"

	"github.com/guptamayank9827/causal-order/internal/causal"
)

var (
	ErrDuplicate = errors.New("message already delivered")
	ErrClosed    = errors.New("storage closed")
)

type Storage interface {
	Append(msg causal.Message) error
	Delivered() []causal.Message
	Len() int
	Close() error
}
