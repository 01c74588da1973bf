package config

import (
	"github.com/danmuck/ownetctl/internal/ownet"
	"github.com/danmuck/ownetctl/internal/protocol/session"
)

// ConnectOptions turns the configuration into connector options.
func (c Config) ConnectOptions() ownet.Options {
	opts := ownet.DefaultOptions()
	opts.Host = c.Server.Host
	opts.Port = c.Server.Port
	opts.Persistent = c.Server.Persistent
	opts.Verbose = c.Server.Verbose
	opts.Flags = c.ProtocolFlags()
	opts.RequestTimeout = c.Timeouts.Request.Duration
	opts.Session = session.Config{
		ConnectTimeout: c.Timeouts.Connect.Duration,
		IOTimeout:      c.Timeouts.IO.Duration,
		Verbose:        c.Server.Verbose,
	}.WithDefaults()
	return opts
}
