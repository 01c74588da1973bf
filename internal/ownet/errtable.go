package ownet

import (
	"context"

	"github.com/danmuck/ownetctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

const unknownError = "(unknown error)"

// ErrorTable maps owserver error numbers to messages. The zero value is an
// empty table. A table is immutable once built and may be shared.
type ErrorTable struct {
	messages []string
}

func NewErrorTable(messages []string) *ErrorTable {
	return &ErrorTable{messages: append([]string(nil), messages...)}
}

// Lookup returns the message for error number code (the negated return
// code); entry 0 of the server table is the "good result" text.
func (t *ErrorTable) Lookup(code int32) string {
	if t == nil || code < 0 || int(code) >= len(t.messages) {
		return unknownError
	}
	return t.messages[code]
}

func (t *ErrorTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.messages)
}

// serverError builds the typed failure for a negative return code.
func (t *ErrorTable) serverError(ret int32, path string) *protocol.ServerError {
	return &protocol.ServerError{Code: -ret, Message: t.Lookup(-ret), Path: path}
}

// fetchErrorTable reads the server's own message list. Any failure yields
// an empty table.
func fetchErrorTable(ctx context.Context, p Proxy) *ErrorTable {
	data, err := p.Read(ctx, protocol.PathErrorCodes)
	if err != nil {
		log.Debug().Err(err).Str("addr", p.Addr()).Msg("ownet error table unavailable")
		return &ErrorTable{}
	}
	return &ErrorTable{messages: protocol.SplitList(data)}
}
