package session

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/ownetctl/internal/protocol"
	"github.com/danmuck/ownetctl/internal/protocol/frame"
	"github.com/danmuck/ownetctl/internal/testutil/testlog"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IOTimeout = time.Second
	cfg.Verbose = true
	return cfg
}

// pipeServer runs fn against the server end of an in-memory connection.
func pipeServer(t *testing.T, fn func(srv net.Conn)) *Conn {
	t.Helper()
	cli, srv := net.Pipe()
	go func() {
		defer srv.Close()
		fn(srv)
	}()
	c := NewConn(cli, testConfig())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readRequest(t *testing.T, r io.Reader) (frame.Header, []byte) {
	t.Helper()
	var hb [frame.HeaderLen]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		t.Errorf("server read header: %v", err)
		return frame.Header{}, nil
	}
	h, err := frame.DecodeHeader(hb[:])
	if err != nil {
		t.Errorf("server decode header: %v", err)
		return frame.Header{}, nil
	}
	payload := make([]byte, h.Payload)
	if _, err := io.ReadFull(r, payload); err != nil {
		t.Errorf("server read payload: %v", err)
	}
	return h, payload
}

func writeReply(w io.Writer, h frame.Header, payload []byte) error {
	if _, err := w.Write(frame.EncodeHeader(h)); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := w.Write(payload)
		return err
	}
	return nil
}

func TestRequestReturnsReply(t *testing.T) {
	testlog.Start(t)
	var got frame.Header
	var gotPayload []byte
	done := make(chan struct{})
	c := pipeServer(t, func(srv net.Conn) {
		defer close(done)
		got, gotPayload = readRequest(t, srv)
		_ = writeReply(srv, frame.Header{Payload: 5, Flags: frame.FlagPersistence, Size: 5}, []byte("hello"))
	})

	reply, err := c.Request(Request{
		Type:    frame.MsgRead,
		Payload: []byte("/x\x00"),
		Flags:   frame.FlagOwnet | frame.FlagPersistence,
		Size:    frame.MaxPayload,
		Offset:  2,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	<-done
	if got.MsgType() != frame.MsgRead || got.Payload != 3 || got.Size != frame.MaxPayload || got.Offset != 2 {
		t.Fatalf("unexpected request header: %+v", got)
	}
	if !bytes.Equal(gotPayload, []byte("/x\x00")) {
		t.Fatalf("unexpected request payload: %q", gotPayload)
	}
	if reply.Ret != 0 || !reply.Flags.Has(frame.FlagPersistence) || string(reply.Data) != "hello" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestRequestTruncatesToDeclaredSize(t *testing.T) {
	testlog.Start(t)
	c := pipeServer(t, func(srv net.Conn) {
		readRequest(t, srv)
		_ = writeReply(srv, frame.Header{Payload: 8, Size: 4}, []byte("12.5\x00\x00\x00\x00"))
	})
	reply, err := c.Request(Request{Type: frame.MsgRead, Payload: []byte("/t\x00"), Size: frame.MaxPayload})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if string(reply.Data) != "12.5" {
		t.Fatalf("expected truncated payload, got %q", reply.Data)
	}
}

func TestRequestAbsorbsKeepAlivePulses(t *testing.T) {
	testlog.Start(t)
	c := pipeServer(t, func(srv net.Conn) {
		readRequest(t, srv)
		for i := 0; i < 3; i++ {
			if err := writeReply(srv, frame.Header{Payload: -1, Flags: frame.FlagPersistence}, nil); err != nil {
				return
			}
		}
		_ = writeReply(srv, frame.Header{Payload: 2, Size: 2}, []byte("ok"))
	})
	reply, err := c.Request(Request{Type: frame.MsgRead, Payload: []byte("/slow\x00"), Size: frame.MaxPayload})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if string(reply.Data) != "ok" {
		t.Fatalf("unexpected reply data: %q", reply.Data)
	}
}

func TestNopNegativePayloadEndsExchange(t *testing.T) {
	testlog.Start(t)
	c := pipeServer(t, func(srv net.Conn) {
		readRequest(t, srv)
		_ = writeReply(srv, frame.Header{Payload: -1, Code: 0}, nil)
	})
	reply, err := c.Request(Request{Type: frame.MsgNop})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Ret != 0 || len(reply.Data) != 0 {
		t.Fatalf("unexpected nop reply: %+v", reply)
	}
}

func TestRequestRejectsBadVersion(t *testing.T) {
	testlog.Start(t)
	c := pipeServer(t, func(srv net.Conn) {
		readRequest(t, srv)
		_ = writeReply(srv, frame.Header{Version: 1}, nil)
	})
	_, err := c.Request(Request{Type: frame.MsgNop})
	if !errors.Is(err, protocol.ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
	var mh *protocol.MalformedHeaderError
	if !errors.As(err, &mh) || mh.Header.Version != 1 {
		t.Fatalf("expected header carried in error, got %v", err)
	}
}

func TestRequestRejectsHugePayloadWithoutReading(t *testing.T) {
	testlog.Start(t)
	c := pipeServer(t, func(srv net.Conn) {
		readRequest(t, srv)
		_ = writeReply(srv, frame.Header{Payload: frame.MaxPayload + 1, Size: frame.MaxPayload + 1}, nil)
		// Never send the payload; a client that tries to read it stalls
		// until its read deadline.
		time.Sleep(2 * time.Second)
	})
	start := time.Now()
	_, err := c.Request(Request{Type: frame.MsgRead, Payload: []byte("/x\x00"), Size: frame.MaxPayload})
	if !errors.Is(err, protocol.ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("client attempted to read oversized payload: elapsed=%v", elapsed)
	}
}

func TestRequestShortReadOnHeader(t *testing.T) {
	testlog.Start(t)
	c := pipeServer(t, func(srv net.Conn) {
		readRequest(t, srv)
		_, _ = srv.Write(make([]byte, 10))
	})
	_, err := c.Request(Request{Type: frame.MsgNop})
	if !errors.Is(err, protocol.ErrShortRead) {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
	var sio *protocol.ShortIOError
	if !errors.As(err, &sio) || sio.Got != 10 || sio.Want != frame.HeaderLen {
		t.Fatalf("unexpected short read detail: %v", err)
	}
}

func TestRequestShortReadOnPayload(t *testing.T) {
	testlog.Start(t)
	c := pipeServer(t, func(srv net.Conn) {
		readRequest(t, srv)
		_, _ = srv.Write(frame.EncodeHeader(frame.Header{Payload: 10, Size: 10}))
		_, _ = srv.Write([]byte("abc"))
	})
	_, err := c.Request(Request{Type: frame.MsgRead, Payload: []byte("/x\x00"), Size: frame.MaxPayload})
	if !errors.Is(err, protocol.ErrShortRead) {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
}

func TestRequestAccumulatesFragmentedReply(t *testing.T) {
	testlog.Start(t)
	c := pipeServer(t, func(srv net.Conn) {
		readRequest(t, srv)
		msg := append(frame.EncodeHeader(frame.Header{Payload: 11, Size: 11}), []byte("/10.AABBCC/")...)
		for _, b := range msg {
			if _, err := srv.Write([]byte{b}); err != nil {
				return
			}
		}
	})
	reply, err := c.Request(Request{Type: frame.MsgDirAllSlash, Payload: []byte("/\x00")})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if string(reply.Data) != "/10.AABBCC/" {
		t.Fatalf("unexpected data: %q", reply.Data)
	}
}

func TestRequestTimeoutWhileAbsorbingPulses(t *testing.T) {
	testlog.Start(t)
	c := pipeServer(t, func(srv net.Conn) {
		readRequest(t, srv)
		for {
			if err := writeReply(srv, frame.Header{Payload: -1}, nil); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
	_, err := c.Request(Request{
		Type:    frame.MsgRead,
		Payload: []byte("/slow\x00"),
		Size:    frame.MaxPayload,
		Timeout: 60 * time.Millisecond,
	})
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, protocol.ErrShortRead) {
		t.Fatalf("timeout must be distinct from short read")
	}
}

type shortWriter struct {
	net.Conn
	limit int
}

func (w shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		return w.limit, io.ErrShortWrite
	}
	return len(p), nil
}

func TestRequestShortWrite(t *testing.T) {
	testlog.Start(t)
	cli, srv := net.Pipe()
	defer srv.Close()
	c := NewConn(shortWriter{Conn: cli, limit: 5}, testConfig())
	defer c.Close()

	_, err := c.Request(Request{Type: frame.MsgNop})
	if !errors.Is(err, protocol.ErrShortWrite) {
		t.Fatalf("expected ErrShortWrite, got %v", err)
	}
}

func TestRequestOnClosedConn(t *testing.T) {
	testlog.Start(t)
	c := pipeServer(t, func(srv net.Conn) {})
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
	_, err := c.Request(Request{Type: frame.MsgNop})
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestDialRefused(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = Dial(t.Context(), "tcp", addr, DefaultConfig())
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := cfg.Delay(1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := cfg.Delay(2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := cfg.Delay(3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := cfg.Delay(6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Verbose: true}.WithDefaults()
	d := DefaultConfig()
	if cfg.IOTimeout != d.IOTimeout || cfg.ConnectTimeout != d.ConnectTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Verbose {
		t.Fatalf("verbose lost")
	}
}
