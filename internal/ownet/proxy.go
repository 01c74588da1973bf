package ownet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/danmuck/ownetctl/internal/observability"
	"github.com/danmuck/ownetctl/internal/protocol"
	"github.com/danmuck/ownetctl/internal/protocol/frame"
	"github.com/danmuck/ownetctl/internal/protocol/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotProxy          = errors.New("ownet: argument is not an ownet proxy")
	ErrUnexpectedPayload = errors.New("ownet: server sent unexpected payload")
)

var tracer = otel.Tracer("github.com/danmuck/ownetctl/internal/ownet")

// Proxy is the owserver operation surface shared by both connection modes.
type Proxy interface {
	Ping(ctx context.Context) error
	Present(ctx context.Context, path string) (bool, error)
	Dir(ctx context.Context, path string, opts DirOptions) ([]string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	ReadAt(ctx context.Context, path string, size, offset int) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	WriteAt(ctx context.Context, path string, data []byte, offset int) error

	// SendMessage issues a raw message with extra flags merged into the
	// proxy defaults and returns the server return code and payload.
	SendMessage(ctx context.Context, typ frame.MsgType, payload []byte, flags frame.Flags, size, offset int32) (int32, []byte, error)

	Addr() string
	Persistent() bool
	Close() error
}

// DirOptions selects the listing encoding. The zero value requests
// slash-terminated directory names without bus annotation.
type DirOptions struct {
	NoSlash bool
	Bus     bool
}

// endpoint is the immutable identity of a proxy: where it talks and how.
type endpoint struct {
	network string
	addr    string
	flags   frame.Flags
	verbose bool
	session session.Config
	timeout time.Duration
	errs    *ErrorTable
}

func (e *endpoint) String() string {
	return fmt.Sprintf("ownet server at %s", e.addr)
}

// sendFunc performs one exchange with fully merged flags; the connection
// mode owns only the persistence bit.
type sendFunc func(ctx context.Context, typ frame.MsgType, payload []byte, flags frame.Flags, size, offset int32) (int32, []byte, error)

// operations implements the protocol operations on top of a sendFunc.
type operations struct {
	ep   *endpoint
	mode string
	send sendFunc
}

func (o *operations) Addr() string {
	return o.ep.addr
}

func (o *operations) String() string {
	return o.ep.String()
}

// ErrorTable returns the table used to translate server return codes.
func (o *operations) ErrorTable() *ErrorTable {
	return o.ep.errs
}

func (o *operations) SendMessage(ctx context.Context, typ frame.MsgType, payload []byte, flags frame.Flags, size, offset int32) (int32, []byte, error) {
	return o.send(ctx, typ, payload, o.ep.flags|flags, size, offset)
}

func (o *operations) Ping(ctx context.Context) (err error) {
	ctx, done := o.observe(ctx, "ping", "")
	defer func() { done(err) }()

	ret, data, err := o.send(ctx, frame.MsgNop, nil, o.ep.flags, 0, 0)
	if err != nil {
		return err
	}
	if ret != 0 || len(data) != 0 {
		return o.ep.errs.serverError(ret, "")
	}
	return nil
}

func (o *operations) Present(ctx context.Context, path string) (ok bool, err error) {
	ctx, done := o.observe(ctx, "present", path)
	defer func() { done(err) }()

	payload, err := protocol.EncodePath(path)
	if err != nil {
		return false, err
	}
	ret, _, err := o.send(ctx, frame.MsgPresence, payload, o.ep.flags, 0, 0)
	if err != nil {
		return false, err
	}
	return ret >= 0, nil
}

func (o *operations) Dir(ctx context.Context, path string, opts DirOptions) (entries []string, err error) {
	ctx, done := o.observe(ctx, "dir", path)
	defer func() { done(err) }()

	payload, err := protocol.EncodePath(path)
	if err != nil {
		return nil, err
	}
	msg := frame.MsgDirAllSlash
	if opts.NoSlash {
		msg = frame.MsgDirAll
	}
	flags := o.ep.flags &^ frame.FlagBusRet
	if opts.Bus {
		flags |= frame.FlagBusRet
	}

	ret, data, err := o.send(ctx, msg, payload, flags, 0, 0)
	if err != nil {
		return nil, err
	}
	if ret < 0 {
		return nil, o.ep.errs.serverError(ret, path)
	}
	return protocol.SplitList(data), nil
}

func (o *operations) Read(ctx context.Context, path string) ([]byte, error) {
	return o.ReadAt(ctx, path, frame.MaxPayload, 0)
}

func (o *operations) ReadAt(ctx context.Context, path string, size, offset int) (data []byte, err error) {
	if size > frame.MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", protocol.ErrSizeTooLarge, size, frame.MaxPayload)
	}
	if size < 0 || offset < 0 {
		return nil, protocol.ErrNegativeArg
	}
	if offset > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d", protocol.ErrOffsetRange, offset)
	}
	ctx, done := o.observe(ctx, "read", path)
	defer func() { done(err) }()

	payload, err := protocol.EncodePath(path)
	if err != nil {
		return nil, err
	}
	ret, data, err := o.send(ctx, frame.MsgRead, payload, o.ep.flags, int32(size), int32(offset))
	if err != nil {
		return nil, err
	}
	if ret < 0 {
		return nil, o.ep.errs.serverError(ret, path)
	}
	return data, nil
}

func (o *operations) Write(ctx context.Context, path string, data []byte) error {
	return o.WriteAt(ctx, path, data, 0)
}

// WriteAt sends data verbatim; encoding values is the caller's job.
func (o *operations) WriteAt(ctx context.Context, path string, data []byte, offset int) (err error) {
	if offset < 0 {
		return protocol.ErrNegativeArg
	}
	if offset > math.MaxInt32 {
		return fmt.Errorf("%w: %d", protocol.ErrOffsetRange, offset)
	}
	if len(data) > frame.MaxPayload {
		return fmt.Errorf("%w: %d > %d", protocol.ErrSizeTooLarge, len(data), frame.MaxPayload)
	}
	ctx, done := o.observe(ctx, "write", path)
	defer func() { done(err) }()

	enc, err := protocol.EncodePath(path)
	if err != nil {
		return err
	}
	payload := append(enc, data...)
	ret, rdata, err := o.send(ctx, frame.MsgWrite, payload, o.ep.flags, int32(len(data)), int32(offset))
	if err != nil {
		return err
	}
	if ret < 0 {
		return o.ep.errs.serverError(ret, path)
	}
	if len(rdata) != 0 {
		return fmt.Errorf("%w: %d bytes after write to %s", ErrUnexpectedPayload, len(rdata), path)
	}
	return nil
}

// observe opens a span for op and returns the matching completion hook,
// which also records the operation metrics.
func (o *operations) observe(ctx context.Context, op, path string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ownet."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ownet.addr", o.ep.addr),
			attribute.String("ownet.mode", o.mode),
			attribute.String("ownet.path", path),
		),
	)
	return ctx, func(err error) {
		kind := errorKind(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		}
		span.End()
		observability.RecordRequest(op, o.mode, kind, time.Since(start))
	}
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, protocol.ErrServer):
		return "server"
	case errors.Is(err, protocol.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrMalformedHeader):
		return "malformed"
	case errors.Is(err, protocol.ErrShortRead):
		return "short_read"
	case errors.Is(err, protocol.ErrShortWrite):
		return "short_write"
	case errors.Is(err, protocol.ErrConnection):
		return "connection"
	default:
		return "client"
	}
}
