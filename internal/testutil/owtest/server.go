// Package owtest runs an in-process owserver stand-in for client tests.
package owtest

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danmuck/ownetctl/internal/protocol/frame"
)

// Request is one decoded client message.
type Request struct {
	Header frame.Header
	Path   string
	Data   []byte
}

// Response is what the handler wants sent back. Pulses keep-alive frames
// precede the reply. Hangup sends the full header but only half of Data,
// then closes the connection.
type Response struct {
	Ret    int32
	Data   []byte
	Pulses int
	Hangup bool
}

type Handler func(Request) Response

// Server accepts ownet connections on a loopback port.
type Server struct {
	ln      net.Listener
	handler Handler

	// Grant decides, per request index on one connection, whether a
	// requested persistence bit is echoed back. Nil grants always.
	Grant func(i int) bool

	accepts atomic.Int64

	mu       sync.Mutex
	requests []Request
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closed   bool
}

// Start listens on 127.0.0.1 and stops the server when the test ends.
func Start(t testing.TB, h Handler) *Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("owtest listen: %v", err)
	}
	s := &Server{ln: ln, handler: h, conns: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) HostPort() (string, string) {
	host, port, _ := net.SplitHostPort(s.Addr())
	return host, port
}

// Accepts is the number of TCP connections accepted so far.
func (s *Server) Accepts() int64 {
	return s.accepts.Load()
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) LastRequest() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}, false
	}
	return s.requests[len(s.requests)-1], true
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	_ = s.ln.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = c.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		s.accepts.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.Close()
	}()

	for i := 0; ; i++ {
		req, err := readRequest(c)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		resp := s.handler(req)
		keep := req.Header.Flags.Has(frame.FlagPersistence) && (s.Grant == nil || s.Grant(i))
		var flags frame.Flags
		if keep {
			flags = frame.FlagPersistence
		}
		for p := 0; p < resp.Pulses; p++ {
			if err := writeFrame(c, frame.Header{Payload: -1, Flags: flags}, nil); err != nil {
				return
			}
		}
		h := frame.Header{
			Payload: int32(len(resp.Data)),
			Code:    resp.Ret,
			Flags:   flags,
			Size:    int32(len(resp.Data)),
		}
		if resp.Hangup {
			_ = writeFrame(c, h, resp.Data[:len(resp.Data)/2])
			return
		}
		if err := writeFrame(c, h, resp.Data); err != nil {
			return
		}
		if !keep {
			return
		}
	}
}

func readRequest(r io.Reader) (Request, error) {
	var hb [frame.HeaderLen]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Request{}, err
	}
	h, err := frame.DecodeHeader(hb[:])
	if err != nil {
		return Request{}, err
	}
	if h.Payload < 0 || h.Payload > frame.MaxPayload+frame.HeaderLen {
		return Request{}, errors.New("owtest: bad request payload length")
	}
	payload := make([]byte, h.Payload)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Request{}, err
	}
	req := Request{Header: h}
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		req.Path = string(payload[:i])
		req.Data = payload[i+1:]
	}
	return req, nil
}

func writeFrame(w io.Writer, h frame.Header, payload []byte) error {
	buf := append(frame.EncodeHeader(h), payload...)
	_, err := w.Write(buf)
	return err
}
