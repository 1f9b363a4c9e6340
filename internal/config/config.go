// Package config describes one process of the group: who it is, where every
// process listens, and the tunables of the protocol. Values come from
// Default() and may be overridden from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvPeers        = "CAUSAL_PEERS"
	EnvQuota        = "CAUSAL_QUOTA"
	EnvQuiescence   = "CAUSAL_QUIESCENCE"
	EnvSendAttempts = "CAUSAL_SEND_ATTEMPTS"
	EnvSendWait     = "CAUSAL_SEND_WAIT"
	EnvClientPause  = "CAUSAL_CLIENT_PAUSE"
	EnvTransport    = "CAUSAL_TRANSPORT"
	EnvVerbose      = "CAUSAL_VERBOSE"
)

const (
	TransportTCP  = "tcp"
	TransportGRPC = "grpc"
	TransportMem  = "memory"
)

const (
	DefaultProcesses  = 4
	DefaultBasePort   = 4000
	DefaultQuota      = 100
	DefaultQuiescence = 8 * time.Second
	MaxQuota          = 1000
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	ID    int
	Peers []string

	// Quota is the number of messages each process broadcasts.
	Quota int

	// Quiescence is how long to wait after opening the listener before the
	// first INTRODUCE, so peers have a chance to open theirs.
	Quiescence time.Duration

	SendAttempts int
	SendWait     time.Duration

	// ClientPause, if set, sleeps a random duration up to this value between
	// consecutive requests of the client loop.
	ClientPause time.Duration

	Transport string
	Verbose   bool
}

func Default() Config {
	peers := make([]string, DefaultProcesses)
	for i := range peers {
		peers[i] = fmt.Sprintf("127.0.0.1:%d", DefaultBasePort+i)
	}
	return Config{
		Peers:        peers,
		Quota:        DefaultQuota,
		Quiescence:   DefaultQuiescence,
		SendAttempts: 5,
		SendWait:     time.Second,
		Transport:    TransportTCP,
	}
}

func (c Config) N() int { return len(c.Peers) }

// FromEnv returns Default() for process id with any CAUSAL_* variables
// applied on top.
func FromEnv(id int) (Config, error) {
	return fromLookup(id, os.LookupEnv)
}

func fromLookup(id int, lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	c.ID = id

	if v, ok := lookup(EnvPeers); ok && strings.TrimSpace(v) != "" {
		var peers []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				peers = append(peers, p)
			}
		}
		c.Peers = peers
	}
	ints := []struct {
		key string
		dst *int
	}{
		{EnvQuota, &c.Quota},
		{EnvSendAttempts, &c.SendAttempts},
	}
	for _, f := range ints {
		if v, ok := lookup(f.key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return c, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, f.key, v, err)
			}
			*f.dst = n
		}
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvQuiescence, &c.Quiescence},
		{EnvSendWait, &c.SendWait},
		{EnvClientPause, &c.ClientPause},
	}
	for _, f := range durations {
		if v, ok := lookup(f.key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return c, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, f.key, v, err)
			}
			*f.dst = d
		}
	}
	if v, ok := lookup(EnvTransport); ok {
		c.Transport = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvVerbose); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return c, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvVerbose, v, err)
		}
		c.Verbose = b
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	n := c.N()
	switch {
	case n == 0:
		return fmt.Errorf("%w: no peers", ErrInvalid)
	case c.ID < 0 || c.ID >= n:
		return fmt.Errorf("%w: id %d outside [0, %d)", ErrInvalid, c.ID, n)
	case c.Quota < 1 || c.Quota > MaxQuota:
		return fmt.Errorf("%w: quota %d outside [1, %d]", ErrInvalid, c.Quota, MaxQuota)
	case n > MaxQuota:
		return fmt.Errorf("%w: %d processes exceed the id space", ErrInvalid, n)
	case c.SendAttempts < 1:
		return fmt.Errorf("%w: send attempts %d", ErrInvalid, c.SendAttempts)
	case c.SendWait < 0 || c.Quiescence < 0 || c.ClientPause < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalid)
	}
	switch c.Transport {
	case TransportTCP, TransportGRPC, TransportMem:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}
	return nil
}
