// =============================================================================
// BROADCASTER - Retrying Point-to-Point Sends and Fan-Out
// =============================================================================
//
//   Send(to)      synchronous; up to Attempts tries with a fixed Wait between
//   Go(to)        Send on its own goroutine
//   Broadcast()   Go to every process except self; returns immediately
//
// A send that exhausts its attempts is abandoned: the payload is lost for
// that one destination, the loss is logged and counted, and no error reaches
// the caller. Only cancellation of the caller's context is reported.
//
// Wait blocks until every goroutine started by Go/Broadcast has finished, so
// a process can flush its last acknowledgements before exiting.
//
// =============================================================================

package transport

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guptamayank9827/causal-order/internal/backoff"
)

const (
	DefaultAttempts = 5
	DefaultWait     = time.Second
)

type Broadcaster struct {
	self      int
	peers     []int
	transport Transport
	policy    backoff.Config
	logger    *log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewBroadcaster(self int, peers []int, t Transport, policy backoff.Config, logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.Default()
	}
	if policy.Attempts == 0 {
		policy.Attempts = DefaultAttempts
	}
	if policy.Report == nil {
		policy.Report = func(int, error) error { return nil }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		self:      self,
		peers:     append([]int(nil), peers...),
		transport: t,
		policy:    policy,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (b *Broadcaster) Send(ctx context.Context, to int, payload []byte) error {
	err := b.policy.Retry(ctx, func(ctx context.Context) error {
		return b.transport.Send(ctx, to, payload)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return err
		}
	}
	b.dropped.Add(1)
	b.logger.Printf("DATA LOSS: giving up on p%d after %d attempts: %v", to, b.policy.Attempts, err)
	return nil
}

func (b *Broadcaster) Go(to int, payload []byte) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Send(b.ctx, to, payload)
	}()
}

func (b *Broadcaster) Broadcast(payload []byte) {
	for _, p := range b.peers {
		if p != b.self {
			b.Go(p, payload)
		}
	}
}

// Wait blocks until in-flight sends finish, or until timeout elapses, after
// which the remaining sends are cancelled. A zero timeout waits forever.
func (b *Broadcaster) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		b.cancel()
		<-done
	}
}

func (b *Broadcaster) Dropped() int {
	return int(b.dropped.Load())
}
