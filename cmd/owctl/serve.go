package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/ownetctl/internal/config"
	"github.com/danmuck/ownetctl/internal/status"
	"github.com/spf13/cobra"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve [URI] [SENSOR...]",
		Short: "Serve a polled status level over HTTP",
		Long: `serve polls the given sensor paths (or status.sensors from the config)
and reports 0 while every reading is within status.limit, rising by one
for each status.step above it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			uri, paths := "", args
			if len(args) > 0 && isServerURI(args[0]) {
				uri, paths = args[0], args[1:]
			}
			t, err := parseURI(uri)
			if err != nil {
				return err
			}
			p, cfg, err := opts.connect(cmd.Context(), t)
			if err != nil {
				return err
			}
			defer p.Close()

			so := statusOptions(cfg)
			if len(paths) > 0 {
				so.Sensors = paths
			}
			if listen != "" {
				so.Listen = listen
			}
			if len(so.Sensors) == 0 {
				return fmt.Errorf("no sensors to poll; pass paths or set status.sensors")
			}
			return status.New(p, so).Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default status.listen)")
	return cmd
}

func statusOptions(cfg config.Config) status.Options {
	so := status.DefaultOptions()
	so.Listen = cfg.Status.Listen
	so.Sensors = cfg.Status.Sensors
	so.Limit = cfg.Status.Limit
	so.Step = cfg.Status.Step
	so.Interval = cfg.Status.Interval.Duration
	so.CorsOrigins = cfg.Status.CorsOrigins
	so.Token = cfg.Status.Token
	return so
}

// isServerURI reports whether arg names a server rather than a bare path.
func isServerURI(arg string) bool {
	return strings.HasPrefix(arg, "//") || strings.HasPrefix(arg, uriScheme+":")
}
