package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/danmuck/ownetctl/internal/observability"
	"github.com/danmuck/ownetctl/internal/protocol"
	"github.com/danmuck/ownetctl/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Request is one client message. Timeout, when non-zero, bounds the time
// spent absorbing keep-alive pulses before the real reply arrives.
type Request struct {
	Type    frame.MsgType
	Payload []byte
	Flags   frame.Flags
	Size    int32
	Offset  int32
	Timeout time.Duration
}

// Reply is the server answer with the payload truncated to the header size.
type Reply struct {
	Ret   int32
	Flags frame.Flags
	Data  []byte
}

// Conn is one ownet connection. It is not safe for concurrent use.
type Conn struct {
	conn   net.Conn
	cfg    Config
	remote string
	logger zerolog.Logger
	closed atomic.Bool
}

// Dial connects to addr over network ("tcp", "tcp4" or "tcp6").
func Dial(ctx context.Context, network, addr string, cfg Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: cfg.KeepAlive}
	raw, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, &protocol.ConnError{Addr: addr, Err: err}
	}
	c := NewConn(raw, cfg)
	if cfg.Verbose {
		c.logger.Info().Msg("ownet connect")
	}
	return c, nil
}

// NewConn wraps an established transport.
func NewConn(raw net.Conn, cfg Config) *Conn {
	cfg = cfg.WithDefaults()
	remote := addrString(raw.RemoteAddr())
	return &Conn{
		conn:   raw,
		cfg:    cfg,
		remote: remote,
		logger: log.With().
			Str("local", addrString(raw.LocalAddr())).
			Str("remote", remote).
			Logger(),
	}
}

func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Request sends req and returns the first non keep-alive reply.
func (c *Conn) Request(req Request) (Reply, error) {
	if c.closed.Load() {
		return Reply{}, &protocol.ConnError{Addr: c.remote, Err: net.ErrClosed}
	}
	start := time.Now()
	h := frame.NewRequestHeader(req.Type, len(req.Payload), req.Flags, req.Size, req.Offset)
	if err := c.send(h, req.Payload); err != nil {
		return Reply{}, err
	}
	for {
		rh, data, err := c.readReply()
		if err != nil {
			return Reply{}, err
		}
		if rh.KeepAlive(req.Type) {
			observability.RecordKeepAlive()
			if req.Timeout > 0 {
				if elapsed := time.Since(start); elapsed > req.Timeout {
					return Reply{}, fmt.Errorf("%w: %s still pending after %v",
						protocol.ErrTimeout, req.Type, elapsed.Round(time.Millisecond))
				}
			}
			continue
		}
		return Reply{Ret: rh.Ret(), Flags: rh.Flags, Data: data}, nil
	}
}

// Close shuts the connection down gracefully, then closes it. Repeated
// calls are no-ops.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.cfg.Verbose {
		c.logger.Info().Msg("ownet shutdown")
	}
	if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	return c.conn.Close()
}

func (c *Conn) send(h frame.Header, payload []byte) error {
	buf := make([]byte, frame.HeaderLen+len(payload))
	frame.PutHeader(buf, h)
	copy(buf[frame.HeaderLen:], payload)
	if c.cfg.Verbose {
		c.logger.Info().Stringer("header", h).Bytes("payload", payload).Msg("->")
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.IOTimeout))
	n, err := c.conn.Write(buf)
	if n == 0 && err != nil {
		return &protocol.ConnError{Addr: c.remote, Err: err}
	}
	if n < len(buf) {
		return &protocol.ShortIOError{Op: "write", Got: n, Want: len(buf), Err: err}
	}
	return nil
}

func (c *Conn) readReply() (frame.Header, []byte, error) {
	var hb [frame.HeaderLen]byte
	if err := c.readFull(hb[:]); err != nil {
		return frame.Header{}, nil, err
	}
	h, err := frame.DecodeHeader(hb[:])
	if err != nil {
		return frame.Header{}, nil, err
	}
	if c.cfg.Verbose {
		c.logger.Info().Stringer("header", h).Msg("<-")
	}

	if h.Version != frame.ProtocolVersion {
		return h, nil, &protocol.MalformedHeaderError{Reason: "bad version", Header: h}
	}
	if h.Payload > frame.MaxPayload {
		return h, nil, &protocol.MalformedHeaderError{Reason: "huge payload, unwilling to read", Header: h}
	}
	if h.Payload <= 0 {
		return h, []byte{}, nil
	}

	data := make([]byte, h.Payload)
	if err := c.readFull(data); err != nil {
		return h, nil, err
	}
	if c.cfg.Verbose {
		c.logger.Info().Bytes("payload", data).Msg("..")
	}
	if h.Size < 0 {
		return h, nil, &protocol.MalformedHeaderError{Reason: "negative size", Header: h}
	}
	if int(h.Size) < len(data) {
		data = data[:h.Size]
	}
	return h, data, nil
}

// readFull fills buf or fails; a peer close before buf is full is a short
// read, never a truncated success.
func (c *Conn) readFull(buf []byte) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.IOTimeout))
	n, err := io.ReadFull(c.conn, buf)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if c.cfg.Verbose {
			c.logger.Info().Bytes("partial", buf[:n]).Msg("short read")
		}
		return &protocol.ShortIOError{Op: "read", Got: n, Want: len(buf), Err: err}
	}
	return &protocol.ConnError{Addr: c.remote, Err: err}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
