// Package config holds the tunables of a half-duplex session: the stub's
// job-control backoff schedule, the driver's recv/drain timeouts, and the
// default kill policy. Mirrors the teacher's pkg/config in shape: a plain
// struct with defaults plus a logger factory.
package config

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// KillStep is one (signal, wait) pair of a kill policy, applied in order by
// Session.Kill.
type KillStep struct {
	Signal int           `json:"signal" yaml:"signal"`
	Wait   time.Duration `json:"wait" yaml:"wait"`
}

// Config holds the tunables for one or more half-duplex sessions.
type Config struct {
	LogLevel logrus.Level `json:"log_level" yaml:"log_level"`

	// InitialLagLinux/InitialLagBSD seed the stub's step retry loop (spec.md
	// §4.2). BSD needs a coarser first guess because a background reader is
	// charged a kernel-imposed delay per attempt.
	InitialLagLinux time.Duration `json:"initial_lag_linux" yaml:"initial_lag_linux"`
	InitialLagBSD   time.Duration `json:"initial_lag_bsd" yaml:"initial_lag_bsd"`
	LagMultiplier   float64       `json:"lag_multiplier" yaml:"lag_multiplier"`
	MaxLag          time.Duration `json:"max_lag" yaml:"max_lag"`

	// RecvTimeout is the default deadline recv() uses when the caller passes
	// no explicit timeout (0 means block forever).
	RecvTimeout time.Duration `json:"recv_timeout" yaml:"recv_timeout"`

	// GraceDrainTimeout bounds how long the driver waits to drain pty output
	// after the stub's info pipe hits EOF unexpectedly (spec.md §7, "Stub
	// crash").
	GraceDrainTimeout time.Duration `json:"grace_drain_timeout" yaml:"grace_drain_timeout"`

	// KillPolicy is the ordered (signal, wait) sequence Session.Kill applies
	// when called with no explicit policy.
	KillPolicy []KillStep `json:"kill_policy" yaml:"kill_policy"`
}

// DefaultConfig returns the defaults named in spec.md §4.2 and §4.3.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          logrus.InfoLevel,
		InitialLagLinux:   20 * time.Millisecond,
		InitialLagBSD:     150 * time.Millisecond,
		LagMultiplier:     1.5,
		MaxLag:            2 * time.Second,
		RecvTimeout:       0,
		GraceDrainTimeout: 250 * time.Millisecond,
		KillPolicy: []KillStep{
			{Signal: int(syscall.SIGTERM), Wait: 3 * time.Second},
			{Signal: int(syscall.SIGKILL), Wait: 3 * time.Second},
		},
	}
}

// NewLogger creates a configured logger instance, matching the teacher's
// text formatter (full timestamp, RFC3339).
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// LoadFile reads a YAML config file and overlays it onto DefaultConfig.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
