package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/danmuck/ownetctl/internal/ownet"
	"github.com/danmuck/ownetctl/internal/protocol/frame"
	"github.com/danmuck/ownetctl/internal/sensors"
	"github.com/spf13/cobra"
)

func pingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping [URI]",
		Short: "Check that owserver answers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withProxy(cmd, args, func(p ownet.Proxy, _ target) error {
				if err := p.Ping(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", p.Addr())
				return nil
			})
		},
	}
}

func lsCmd(opts *rootOptions) *cobra.Command {
	var (
		bus     bool
		noSlash bool
	)
	cmd := &cobra.Command{
		Use:   "ls [URI]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withProxy(cmd, args, func(p ownet.Proxy, t target) error {
				entries, err := p.Dir(cmd.Context(), t.Path, ownet.DirOptions{Bus: bus, NoSlash: noSlash})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range entries {
					fmt.Fprintln(out, e)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&bus, "bus", false, "include bus directories")
	cmd.Flags().BoolVar(&noSlash, "no-slash", false, "do not mark directories with a trailing slash")
	return cmd
}

func readCmd(opts *rootOptions) *cobra.Command {
	var (
		asHex  bool
		size   int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "read URI",
		Short: "Read a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withProxy(cmd, args, func(p ownet.Proxy, t target) error {
				data, err := p.ReadAt(cmd.Context(), t.Path, size, offset)
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), data, asHex)
			})
		},
	}
	cmd.Flags().BoolVar(&asHex, "hex", false, "print data as hex")
	cmd.Flags().IntVar(&size, "size", frame.MaxPayload, "maximum bytes to read")
	cmd.Flags().IntVar(&offset, "offset", 0, "byte offset to start reading at")
	return cmd
}

func writeCmd(opts *rootOptions) *cobra.Command {
	var (
		fromHex bool
		offset  int
	)
	cmd := &cobra.Command{
		Use:   "write URI VALUE",
		Short: "Write a value to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := []byte(args[1])
			if fromHex {
				decoded, err := hex.DecodeString(args[1])
				if err != nil {
					return fmt.Errorf("decode hex value: %w", err)
				}
				data = decoded
			}
			return opts.withProxy(cmd, args[:1], func(p ownet.Proxy, t target) error {
				return p.WriteAt(cmd.Context(), t.Path, data, offset)
			})
		},
	}
	cmd.Flags().BoolVar(&fromHex, "hex", false, "VALUE is hex encoded")
	cmd.Flags().IntVar(&offset, "offset", 0, "byte offset to start writing at")
	return cmd
}

func presentCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "present URI",
		Short: "Report whether a path exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withProxy(cmd, args, func(p ownet.Proxy, t target) error {
				ok, err := p.Present(cmd.Context(), t.Path)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return nil
			})
		},
	}
}

func walkCmd(opts *rootOptions) *cobra.Command {
	var wo sensors.WalkOptions
	cmd := &cobra.Command{
		Use:   "walk [URI]",
		Short: "Print every value below a path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withProxy(cmd, args, func(p ownet.Proxy, t target) error {
				out := cmd.OutOrStdout()
				errOut := cmd.ErrOrStderr()
				return sensors.Walk(cmd.Context(), p, t.Path, wo, func(l sensors.Leaf) error {
					if l.Err != nil {
						fmt.Fprintf(errOut, "Unable to walk %s: %v\n", l.Path, l.Err)
						return nil
					}
					fmt.Fprintf(out, "%-40s %q\n", l.Path, l.Value)
					return nil
				})
			})
		},
	}
	cmd.Flags().IntVarP(&wo.Concurrency, "jobs", "j", sensors.DefaultWalkConcurrency, "requests in flight")
	cmd.Flags().BoolVar(&wo.Bus, "bus", false, "descend into bus directories")
	return cmd
}

func sensorsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sensors [URI]",
		Short: "Describe every sensor on the bus",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withProxy(cmd, args, func(p ownet.Proxy, t target) error {
				ctx := cmd.Context()
				root := sensors.NewRoot(p)
				paths := []string{t.Path}
				if t.Path == "/" {
					scanned, err := root.Scan(ctx)
					if err != nil {
						return err
					}
					paths = scanned
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "sensors on %s\n", p.Addr())
				for _, path := range paths {
					s, err := root.Sensor(ctx, path)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "\n%s\n", s)
					printSensor(cmd, out, "|-", s)
				}
				return nil
			})
		},
	}
}

func printSensor(cmd *cobra.Command, out io.Writer, prefix string, s *sensors.Sensor) {
	line := func(name string, v any) {
		fmt.Fprintf(out, "%s%s%s %v\n", prefix, name, strings.Repeat(".", max(0, 14-len(name))), v)
	}
	names := make([]string, 0, len(s.Fixed))
	for k := range s.Fixed {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		line(name, s.Fixed[name])
	}
	names = names[:0]
	for k := range s.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := s.Fields[name].Read(cmd.Context())
		if err != nil {
			line(name+"()", err)
			continue
		}
		line(name+"()", v)
	}
	names = names[:0]
	for k := range s.Dirs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		head := prefix + name + "/"
		fmt.Fprintln(out, head)
		printSensor(cmd, out, strings.Repeat(" ", len(head)-1)+prefix, s.Dirs[name])
	}
}

func printValue(out io.Writer, data []byte, asHex bool) error {
	if asHex {
		_, err := fmt.Fprintln(out, hex.EncodeToString(data))
		return err
	}
	_, err := fmt.Fprintln(out, strings.TrimRight(string(data), "\x00"))
	return err
}
