package ownet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/ownetctl/internal/protocol"
	"github.com/danmuck/ownetctl/internal/protocol/frame"
	"github.com/danmuck/ownetctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHost = "localhost"
	DefaultPort = "4304"
)

var ErrNoCandidates = errors.New("ownet: host resolved to no addresses")

// Options configures Connect. Flags are OR-ed into every request; the
// persistence bit is owned by the connection mode and ignored here.
type Options struct {
	Host           string
	Port           string
	Flags          frame.Flags
	Persistent     bool
	Verbose        bool
	Session        session.Config
	RequestTimeout time.Duration
	Resolver       *net.Resolver
}

func DefaultOptions() Options {
	return Options{
		Host:    DefaultHost,
		Port:    DefaultPort,
		Flags:   frame.FlagOwnet,
		Session: session.DefaultConfig(),
	}
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Host) == "" {
		o.Host = DefaultHost
	}
	if strings.TrimSpace(o.Port) == "" {
		o.Port = DefaultPort
	}
	if o.Resolver == nil {
		o.Resolver = net.DefaultResolver
	}
	o.Session = o.Session.WithDefaults()
	o.Session.Verbose = o.Verbose
	return o
}

// Candidate is one resolved address to try.
type Candidate struct {
	Network string
	Addr    string
}

// Resolve expands host and port into candidates in resolver order.
func Resolve(ctx context.Context, resolver *net.Resolver, host, port string) ([]Candidate, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	pn, err := strconv.Atoi(port)
	if err != nil {
		pn, err = resolver.LookupPort(ctx, "tcp", port)
		if err != nil {
			return nil, err
		}
	}
	if pn <= 0 || pn > 65535 {
		return nil, fmt.Errorf("ownet: invalid port %q", port)
	}
	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(ips))
	for _, ip := range ips {
		network := "tcp6"
		if ip.IP.To4() != nil {
			network = "tcp4"
		}
		h := ip.IP.String()
		if ip.Zone != "" {
			h += "%" + ip.Zone
		}
		out = append(out, Candidate{Network: network, Addr: net.JoinHostPort(h, strconv.Itoa(pn))})
	}
	if len(out) == 0 {
		return nil, ErrNoCandidates
	}
	return out, nil
}

// Connect returns a proxy bound to the first candidate address that both
// accepts a connection and answers a ping. The server error table is
// loaded before returning.
func Connect(ctx context.Context, opts Options) (Proxy, error) {
	opts = opts.withDefaults()
	hostport := net.JoinHostPort(opts.Host, opts.Port)

	cands, err := Resolve(ctx, opts.Resolver, opts.Host, opts.Port)
	if err != nil {
		return nil, &protocol.ConnError{Addr: hostport, Err: err}
	}

	return connectCandidates(ctx, hostport, cands, opts)
}

func connectCandidates(ctx context.Context, hostport string, cands []Candidate, opts Options) (Proxy, error) {
	lastErr := error(ErrNoCandidates)
	for _, c := range cands {
		p := NewProxy(c, opts)
		if err := p.Ping(ctx); err != nil {
			_ = p.Close()
			log.Debug().Err(err).Str("network", c.Network).Str("addr", c.Addr).Msg("ownet candidate failed")
			lastErr = err
			continue
		}
		table := fetchErrorTable(ctx, p)
		setErrorTable(p, table)
		log.Debug().Str("addr", c.Addr).Bool("persistent", opts.Persistent).Int("errcodes", table.Len()).Msg("ownet connected")
		return p, nil
	}

	var ce *protocol.ConnError
	if errors.As(lastErr, &ce) {
		return nil, ce
	}
	return nil, &protocol.ConnError{Addr: hostport, Err: lastErr}
}

// NewProxy builds a proxy for one candidate without probing it. The error
// table starts empty.
func NewProxy(c Candidate, opts Options) Proxy {
	opts = opts.withDefaults()
	ep := endpoint{
		network: c.Network,
		addr:    c.Addr,
		flags:   opts.Flags,
		verbose: opts.Verbose,
		session: opts.Session,
		timeout: opts.RequestTimeout,
		errs:    &ErrorTable{},
	}
	if opts.Persistent {
		return newPersistentProxy(ep)
	}
	return newStatelessProxy(ep)
}

// Clone returns a new proxy of the requested mode sharing src's address,
// defaults, verbosity and error table.
func Clone(src Proxy, persistent bool) (Proxy, error) {
	var ep endpoint
	switch p := src.(type) {
	case *StatelessProxy:
		ep = *p.ep
	case *PersistentProxy:
		ep = *p.ep
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotProxy, src)
	}
	ep.flags &^= frame.FlagPersistence
	if persistent {
		return newPersistentProxy(ep), nil
	}
	return newStatelessProxy(ep), nil
}

func setErrorTable(p Proxy, table *ErrorTable) {
	switch v := p.(type) {
	case *StatelessProxy:
		v.ep.errs = table
	case *PersistentProxy:
		v.ep.errs = table
	}
}
