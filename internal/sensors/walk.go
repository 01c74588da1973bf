package sensors

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/danmuck/ownetctl/internal/ownet"
	"github.com/danmuck/ownetctl/internal/protocol"
	"golang.org/x/sync/errgroup"
)

const DefaultWalkConcurrency = 4

// Leaf is one value found by Walk. Err holds a server error for the entry;
// transport errors abort the walk instead.
type Leaf struct {
	Path  string
	Value []byte
	Err   error
}

type WalkOptions struct {
	// Concurrency bounds in-flight requests. Persistent proxies are always
	// walked one request at a time.
	Concurrency int
	// Bus requests bus-annotated listings.
	Bus bool
}

// Walk reads every leaf below root and calls fn for each one in path
// order. A root without a trailing slash is read as a single leaf.
func Walk(ctx context.Context, p ownet.Proxy, root string, opts WalkOptions, fn func(Leaf) error) error {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultWalkConcurrency
	}
	if p.Persistent() {
		limit = 1
	}

	var leaves []Leaf
	level := []string{root}
	for len(level) > 0 {
		var (
			files []string
			next  []string
		)
		for _, e := range level {
			if strings.HasSuffix(e, "/") {
				next = append(next, e)
			} else {
				files = append(files, e)
			}
		}

		read, err := fanOut(ctx, limit, files, func(ctx context.Context, path string) ([]byte, error) {
			return p.Read(ctx, path)
		})
		if err != nil {
			return err
		}
		for i, r := range read {
			leaves = append(leaves, Leaf{Path: files[i], Value: r.value, Err: r.err})
		}

		listed, err := fanOut(ctx, limit, next, func(ctx context.Context, path string) ([]string, error) {
			return p.Dir(ctx, path, ownet.DirOptions{Bus: opts.Bus})
		})
		if err != nil {
			return err
		}
		level = nil
		for i, r := range listed {
			if r.err != nil {
				leaves = append(leaves, Leaf{Path: next[i], Err: r.err})
				continue
			}
			level = append(level, r.value...)
		}
	}

	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Path < leaves[j].Path })
	for _, l := range leaves {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

type result[T any] struct {
	value T
	err   error
}

// fanOut runs op for every path with at most limit in flight. Server
// errors are kept per path; anything else cancels the group.
func fanOut[T any](ctx context.Context, limit int, paths []string, op func(context.Context, string) (T, error)) ([]result[T], error) {
	out := make([]result[T], len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range paths {
		g.Go(func() error {
			v, err := op(gctx, path)
			var se *protocol.ServerError
			if err != nil && !errors.As(err, &se) {
				return err
			}
			out[i] = result[T]{value: v, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
