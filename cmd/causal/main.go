// Command causal runs one process of the ordered-broadcast group.
//
//	causal [id]
//
// id is the process ordinal (default 0). Peer addresses, quota and timing
// come from the CAUSAL_* environment variables; see internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/guptamayank9827/causal-order/internal/config"
	"github.com/guptamayank9827/causal-order/internal/node"
	"github.com/guptamayank9827/causal-order/internal/transport"
)

const (
	exitOK    = 0
	exitRun   = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger := log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

	id, err := parseID(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\nusage: causal [id]\n", err)
		return exitUsage
	}
	cfg, err := config.FromEnv(id)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	var t transport.Transport
	switch cfg.Transport {
	case config.TransportTCP:
		t = transport.NewTCPTransport(cfg.ID, cfg.Peers, logger)
	case config.TransportGRPC:
		t = transport.NewGRPCTransport(cfg.ID, cfg.Peers, logger)
	default:
		fmt.Fprintf(os.Stderr, "transport %q cannot span processes\n", cfg.Transport)
		return exitUsage
	}

	nd := node.New(cfg, t, node.WithLogger(logger))
	logger.Printf("process %d of %d at %s, quota %d, run %s", cfg.ID, cfg.N(), cfg.Peers[cfg.ID], cfg.Quota, nd.RunID())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = nd.Run(ctx)
	var bindErr *transport.BindError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &bindErr):
		logger.Printf("cannot listen: %v", bindErr)
		return exitRun
	case errors.Is(err, context.Canceled):
		st := nd.Stats()
		logger.Printf("interrupted: delivered=%d direct=%d indirect=%d", st.Delivered, st.Direct, st.Indirect)
		return exitRun
	default:
		logger.Printf("run: %v", err)
		return exitRun
	}
}

func parseID(args []string) (int, error) {
	switch len(args) {
	case 0:
		return 0, nil
	case 1:
		id, err := strconv.Atoi(args[0])
		if err != nil || id < 0 {
			return 0, fmt.Errorf("invalid process id %q", args[0])
		}
		return id, nil
	default:
		return 0, fmt.Errorf("too many arguments: %v", args)
	}
}
