package ownet

import (
	"context"

	"github.com/danmuck/ownetctl/internal/observability"
	"github.com/danmuck/ownetctl/internal/protocol/frame"
	"github.com/danmuck/ownetctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// PersistentProxy reuses one connection across calls while the server
// grants persistence. It is not safe for concurrent use.
type PersistentProxy struct {
	operations
	conn *session.Conn
}

var _ Proxy = (*PersistentProxy)(nil)

func newPersistentProxy(ep endpoint) *PersistentProxy {
	ep.flags |= frame.FlagPersistence
	p := &PersistentProxy{}
	p.operations = operations{ep: &ep, mode: modePersistent, send: p.sendmess}
	return p
}

func (p *PersistentProxy) Persistent() bool {
	return true
}

// Connected reports whether a connection is currently held.
func (p *PersistentProxy) Connected() bool {
	return p.conn != nil
}

// Open establishes the held connection if there is none.
func (p *PersistentProxy) Open(ctx context.Context) error {
	if p.conn != nil {
		return nil
	}
	conn, err := session.Dial(ctx, p.ep.network, p.ep.addr, p.ep.session)
	observability.RecordConnect(modePersistent, err == nil)
	if err != nil {
		return err
	}
	p.conn = conn
	return nil
}

// Close releases the held connection, if any.
func (p *PersistentProxy) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// With opens the connection if needed, runs fn and always releases the
// connection afterwards.
func (p *PersistentProxy) With(ctx context.Context, fn func(Proxy) error) (err error) {
	if err := p.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(p)
}

func (p *PersistentProxy) sendmess(ctx context.Context, typ frame.MsgType, payload []byte, flags frame.Flags, size, offset int32) (int32, []byte, error) {
	if err := p.Open(ctx); err != nil {
		return 0, nil, err
	}
	reply, err := p.conn.Request(session.Request{
		Type:    typ,
		Payload: payload,
		Flags:   flags | frame.FlagPersistence,
		Size:    size,
		Offset:  offset,
		Timeout: p.ep.timeout,
	})
	if err != nil {
		// The stream position is unknown after a failed exchange.
		_ = p.Close()
		return 0, nil, err
	}
	if !reply.Flags.Has(frame.FlagPersistence) {
		if p.ep.verbose {
			log.Info().Str("addr", p.ep.addr).Str("remote", p.conn.RemoteAddr()).Msg("ownet persistence not granted")
		}
		_ = p.Close()
	}
	return reply.Ret, reply.Data, nil
}
