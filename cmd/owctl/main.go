package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/ownetctl/internal/config"
	"github.com/danmuck/ownetctl/internal/logging"
	"github.com/danmuck/ownetctl/internal/ownet"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootOptions struct {
	configPath string
	persistent bool
	verbose    bool
	celsius    bool
	fahrenheit bool
	kelvin     bool
	rankine    bool
	format     string
	uncached   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "owctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "owctl",
		Short: "Talk to an owserver over the ownet protocol",
		Long: `owctl reads, writes and lists 1-wire devices through owserver.

Targets are given as [owserver:]//host:port/path; host and port default
to the configured server (localhost:4304).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to an owctl TOML config")
	pf.BoolVarP(&opts.persistent, "persistent", "p", false, "reuse one connection while the server allows it")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log every frame sent and received")
	pf.BoolVarP(&opts.celsius, "Celsius", "C", false, "Celsius temperature scale")
	pf.BoolVarP(&opts.fahrenheit, "Fahrenheit", "F", false, "Fahrenheit temperature scale")
	pf.BoolVarP(&opts.kelvin, "Kelvin", "K", false, "Kelvin temperature scale")
	pf.BoolVarP(&opts.rankine, "Rankine", "R", false, "Rankine temperature scale")
	pf.StringVarP(&opts.format, "format", "f", "", "1-wire id format: f.i, fi, f.i.c, f.ic, fi.c or fic")
	pf.BoolVar(&opts.uncached, "uncached", false, "bypass the owserver cache")
	root.MarkFlagsMutuallyExclusive("Celsius", "Fahrenheit", "Kelvin", "Rankine")

	root.AddCommand(
		pingCmd(opts),
		lsCmd(opts),
		readCmd(opts),
		writeCmd(opts),
		presentCmd(opts),
		walkCmd(opts),
		sensorsCmd(opts),
		serveCmd(opts),
		configCmd(opts),
		versionCmd(),
	)
	return root
}

// loadConfig reads --config when given and applies command line overrides.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if o.persistent {
		cfg.Server.Persistent = true
	}
	if o.verbose {
		cfg.Server.Verbose = true
	}
	if o.uncached {
		cfg.Flags.Uncached = true
	}
	switch {
	case o.celsius:
		cfg.Flags.Temperature = "C"
	case o.fahrenheit:
		cfg.Flags.Temperature = "F"
	case o.kelvin:
		cfg.Flags.Temperature = "K"
	case o.rankine:
		cfg.Flags.Temperature = "R"
	}
	if o.format != "" {
		cfg.Flags.Format = o.format
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// connect opens a proxy to the server named by t, falling back to the
// configured server for empty host or port.
func (o *rootOptions) connect(ctx context.Context, t target) (ownet.Proxy, config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, config.Config{}, err
	}
	if t.Host != "" {
		cfg.Server.Host = t.Host
	}
	if t.Port != "" {
		cfg.Server.Port = t.Port
	}
	p, err := ownet.Connect(ctx, cfg.ConnectOptions())
	if err != nil {
		return nil, config.Config{}, err
	}
	log.Debug().Str("server", p.Addr()).Bool("persistent", p.Persistent()).Msg("owctl connected")
	return p, cfg, nil
}

// withProxy parses the optional URI argument, connects and runs fn.
func (o *rootOptions) withProxy(cmd *cobra.Command, args []string, fn func(ownet.Proxy, target) error) error {
	raw := ""
	if len(args) > 0 {
		raw = args[0]
	}
	t, err := parseURI(raw)
	if err != nil {
		return err
	}
	p, _, err := o.connect(cmd.Context(), t)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p, t)
}
