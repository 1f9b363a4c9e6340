package config

import (
	"errors"
	"testing"
	"time"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if c.N() != 4 || c.Peers[3] != "127.0.0.1:4003" {
		t.Fatalf("peers = %v", c.Peers)
	}
	if c.Quota != 100 || c.Quiescence != 8*time.Second || c.SendAttempts != 5 || c.SendWait != time.Second {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestEnvOverrides(t *testing.T) {
	c, err := fromLookup(2, env(map[string]string{
		EnvPeers:       "10.0.0.1:7000, 10.0.0.2:7000 ,10.0.0.3:7000",
		EnvQuota:       "7",
		EnvQuiescence:  "250ms",
		EnvSendWait:    "10ms",
		EnvClientPause: "1ms",
		EnvTransport:   "GRPC",
		EnvVerbose:     "true",
	}))
	if err != nil {
		t.Fatalf("fromLookup: %v", err)
	}
	if c.ID != 2 || c.N() != 3 || c.Peers[1] != "10.0.0.2:7000" {
		t.Fatalf("identity = %d %v", c.ID, c.Peers)
	}
	if c.Quota != 7 || c.Quiescence != 250*time.Millisecond || c.SendWait != 10*time.Millisecond {
		t.Fatalf("tunables = %+v", c)
	}
	if c.ClientPause != time.Millisecond || c.Transport != TransportGRPC || !c.Verbose {
		t.Fatalf("extras = %+v", c)
	}
}

func TestInvalidConfigs(t *testing.T) {
	cases := map[string]map[string]string{
		"bad quota number":  {EnvQuota: "many"},
		"quota too large":   {EnvQuota: "1001"},
		"quota zero":        {EnvQuota: "0"},
		"bad duration":      {EnvQuiescence: "soon"},
		"no attempts":       {EnvSendAttempts: "0"},
		"unknown transport": {EnvTransport: "carrier-pigeon"},
		"id out of range":   {EnvPeers: "a:1,b:2"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := fromLookup(3, env(vars)); !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}
}
