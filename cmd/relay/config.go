package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/matst80/rendezvous-relay/internal/relay"
)

const envPrefix = "RELAY_"

// Config holds all runtime configuration derived from flags, environment and .env.
type Config struct {
	Port             int
	Key              string
	LogLevel         string
	LogFile          string
	MetricsAddr      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	HandshakeTimeout time.Duration
	PairTimeout      time.Duration
	IdleTimeout      time.Duration
	IdleCheck        time.Duration
	ConnRate         float64
	GlobalConnRate   float64
	ConnBurst        int
	EnvFile          string
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	for name, d := range map[string]time.Duration{
		"handshake-timeout": c.HandshakeTimeout,
		"pair-timeout":      c.PairTimeout,
		"idle-timeout":      c.IdleTimeout,
		"idle-check":        c.IdleCheck,
	} {
		if d <= 0 {
			return fmt.Errorf("--%s must be positive, got %s", name, d)
		}
	}
	if c.ConnRate < 0 || c.GlobalConnRate < 0 {
		return fmt.Errorf("connection rates must not be negative")
	}
	return nil
}

func (c Config) ListenAddress() string {
	return ":" + strconv.Itoa(c.Port)
}

func registerFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.IntVarP(&cfg.Port, "port", "p", relay.DefaultPort, "listening port")
	flags.StringVarP(&cfg.Key, "key", "k", "", "only relay clients presenting this licence key; a base64 ed25519 private key is reduced to its public half, - or _ generates one")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&cfg.LogFile, "log-file", "console", "log file path or console")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9100", "metrics, health and dashboard listen address; empty disables")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for the shared session ledger; empty keeps it in memory")
	flags.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	flags.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database")
	flags.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", relay.DefaultHandshakeTimeout, "time allowed for the first frame")
	flags.DurationVar(&cfg.PairTimeout, "pair-timeout", relay.DefaultPairTimeout, "time a connection waits for its partner")
	flags.DurationVar(&cfg.IdleTimeout, "idle-timeout", relay.DefaultIdleTimeout, "relay ends when neither side sent anything for this long")
	flags.DurationVar(&cfg.IdleCheck, "idle-check", relay.DefaultCheckInterval, "how often the idle timeout is checked")
	flags.Float64Var(&cfg.ConnRate, "conn-rate", 0, "new connections per second allowed per source IP; 0 disables")
	flags.Float64Var(&cfg.GlobalConnRate, "global-conn-rate", 0, "new connections per second allowed in total; 0 disables")
	flags.IntVar(&cfg.ConnBurst, "conn-burst", 10, "burst size for the connection rate limits")
	flags.StringVar(&cfg.EnvFile, "env-file", ".env", "file with KEY=VALUE lines loaded into the environment")
}

// loadEnvFile copies the entries of path into the process environment
// without overriding variables that are already set. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	for _, k := range v.AllKeys() {
		name := strings.ToUpper(k)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, v.GetString(k)); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

// setFlagsFromEnvVars fills every flag not given on the command line from
// RELAY_<FLAG_NAME>, then from the legacy KEY and PORT variables.
func setFlagsFromEnvVars(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		newEnvVar := flagNameToEnvVar(f.Name, envPrefix)
		value, present := os.LookupEnv(newEnvVar)
		if !present {
			return
		}
		if err := flags.Set(f.Name, value); err != nil {
			log.Infof("unable to configure flag %s using variable %s, err: %v", f.Name, newEnvVar, err)
		}
	})

	if f := flags.Lookup("key"); f != nil && !f.Changed {
		if v, ok := os.LookupEnv("KEY"); ok {
			_ = flags.Set("key", v)
		}
	}
	// PORT is the rendezvous server port; the relay listens one above it.
	if f := flags.Lookup("port"); f != nil && !f.Changed {
		if v, err := strconv.Atoi(os.Getenv("PORT")); err == nil && v > 0 {
			_ = flags.Set("port", strconv.Itoa(v+1))
		}
	}
}

// flagNameToEnvVar converts flag name to environment var name adding a prefix,
// replacing dashes and making all uppercase (e.g. pair-timeout is converted to RELAY_PAIR_TIMEOUT)
func flagNameToEnvVar(cmdFlag string, prefix string) string {
	parsed := strings.ReplaceAll(cmdFlag, "-", "_")
	upper := strings.ToUpper(parsed)
	return prefix + upper
}
