package session

import (
	"time"

	"github.com/danmuck/zerolink/internal/protocol/frame"
)

// Config defines connection and request defaults.
type Config struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	// HeartbeatInterval of zero disables outbound pings.
	HeartbeatInterval time.Duration
	// SessionDeadAfter of zero disables liveness enforcement.
	SessionDeadAfter   time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
	Limits             frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		WriteTimeout:       15 * time.Second,
		RequestTimeout:     30 * time.Second,
		HeartbeatInterval:  5 * time.Second,
		SessionDeadAfter:   15 * time.Second,
		MaxConnectAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		Limits: frame.DefaultLimits(),
	}
}

// WithDefaults fills unset timeouts, backoff and limits. Heartbeat fields are
// left alone since zero is meaningful for them.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.MaxDelay <= 0 {
		c.Backoff = def.Backoff
	}
	if c.Limits.MaxPayloadBytes <= 0 {
		c.Limits = def.Limits
	}
	return c
}

// CallOption adjusts a single request.
type CallOption func(*callConfig)

type callConfig struct {
	timeout time.Duration
}

// WithTimeout overrides Config.RequestTimeout for one request.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}
