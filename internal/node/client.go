package node

import (
	"math/rand"
	"time"

	"github.com/guptamayank9827/causal-order/internal/causal"
)

// startClient runs on the event loop. Only the first accepted announce gets
// here, and the flag keeps it that way.
func (n *Node) startClient(leader int) {
	if n.clientStarted {
		return
	}
	n.clientStarted = true
	n.clientWG.Add(1)
	go n.clientLoop(leader)
}

// clientLoop asks the leader to sequence each of this process's messages in
// order. Sends to a remote leader are synchronous so the leader sees them in
// the order they were issued.
func (n *Node) clientLoop(leader int) {
	defer n.clientWG.Done()
	defer n.markClientDone()

	for k := 1; k <= n.cfg.Quota; k++ {
		req := causal.Message{
			Kind:     causal.Request,
			Sender:   n.id,
			Receiver: leader,
			Clock:    n.clock.Tick(),
			ID:       causal.MessageID(n.id, k),
		}
		if leader == n.id {
			select {
			case n.inbox <- req:
			case <-n.stopCh:
				return
			}
		} else {
			payload, err := n.codec.Encode(req)
			if err != nil {
				n.logger.Printf("encoding %v: %v", req, err)
				continue
			}
			if err := n.bcast.Send(n.ctx, leader, payload); err != nil {
				return
			}
		}

		if pause := n.cfg.ClientPause; pause > 0 {
			t := time.NewTimer(time.Duration(rand.Int63n(int64(pause) + 1)))
			select {
			case <-t.C:
			case <-n.stopCh:
				t.Stop()
				return
			}
		}
	}
	n.logger.Printf("client sent all %d requests to p%d", n.cfg.Quota, leader)
}
