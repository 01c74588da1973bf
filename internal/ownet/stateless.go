package ownet

import (
	"context"

	"github.com/danmuck/ownetctl/internal/observability"
	"github.com/danmuck/ownetctl/internal/protocol/frame"
	"github.com/danmuck/ownetctl/internal/protocol/session"
)

const (
	modeStateless  = "stateless"
	modePersistent = "persistent"
)

// StatelessProxy opens a fresh connection for every call and closes it
// before returning. Safe for concurrent use.
type StatelessProxy struct {
	operations
}

var _ Proxy = (*StatelessProxy)(nil)

func newStatelessProxy(ep endpoint) *StatelessProxy {
	ep.flags &^= frame.FlagPersistence
	p := &StatelessProxy{}
	p.operations = operations{ep: &ep, mode: modeStateless, send: p.sendmess}
	return p
}

func (p *StatelessProxy) Persistent() bool {
	return false
}

// Close is a no-op; a stateless proxy holds no connection between calls.
func (p *StatelessProxy) Close() error {
	return nil
}

func (p *StatelessProxy) sendmess(ctx context.Context, typ frame.MsgType, payload []byte, flags frame.Flags, size, offset int32) (int32, []byte, error) {
	conn, err := session.Dial(ctx, p.ep.network, p.ep.addr, p.ep.session)
	observability.RecordConnect(modeStateless, err == nil)
	if err != nil {
		return 0, nil, err
	}
	defer conn.Close()

	reply, err := conn.Request(session.Request{
		Type:    typ,
		Payload: payload,
		Flags:   flags &^ frame.FlagPersistence,
		Size:    size,
		Offset:  offset,
		Timeout: p.ep.timeout,
	})
	if err != nil {
		return 0, nil, err
	}
	return reply.Ret, reply.Data, nil
}
