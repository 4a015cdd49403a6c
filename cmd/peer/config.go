package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

// Config holds peer runtime configuration.
type Config struct {
	RelayAddr   string
	UUID        string
	Key         string
	ID          string
	Target      string
	Keepalive   time.Duration
	DialTimeout time.Duration
	Debug       bool
}

func registerFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.StringVarP(&cfg.RelayAddr, "relay", "r", "127.0.0.1:21117", "relay server address")
	flags.StringVarP(&cfg.UUID, "uuid", "u", "", "session id shared with the other peer; generated and printed when empty")
	flags.StringVarP(&cfg.Key, "key", "k", "", "licence key expected by the relay")
	flags.StringVar(&cfg.ID, "id", "", "optional peer id sent with the relay request")
	flags.StringVarP(&cfg.Target, "target", "t", "", "local TCP address to expose through the session instead of stdin/stdout")
	flags.DurationVar(&cfg.Keepalive, "keepalive", 10*time.Second, "interval of empty keepalive frames; 0 disables")
	flags.DurationVar(&cfg.DialTimeout, "dial-timeout", 10*time.Second, "timeout for connecting to the relay and the target")
	flags.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
}

func (c *Config) complete() error {
	if c.RelayAddr == "" {
		return fmt.Errorf("--relay is required")
	}
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	return nil
}
