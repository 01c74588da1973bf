package session

import "time"

// BackoffConfig defines reconnect backoff behavior for long-running callers.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines socket-level defaults for one ownet connection.
//
// IOTimeout is applied to every individual read and write and is independent
// of the protocol-level Request.Timeout, which only bounds the keep-alive loop.
type Config struct {
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	KeepAlive      time.Duration
	Verbose        bool
	Backoff        BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 2 * time.Second,
		IOTimeout:      2 * time.Second,
		KeepAlive:      15 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero durations from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = d.IOTimeout
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = d.KeepAlive
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}
