package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderLen is the wire size of both request and reply headers.
	HeaderLen = 24

	// ProtocolVersion is the only version a conforming peer sends.
	ProtocolVersion int32 = 0

	// MaxPayload bounds both requested sizes and accepted reply payloads.
	MaxPayload = 65536
)

var ErrHeaderLen = errors.New("frame: invalid header length")

// Header is the fixed wire header shared by requests and replies.
//
// Code holds the message type on a request and the return code on a reply.
type Header struct {
	Version int32
	Payload int32
	Code    int32
	Flags   Flags
	Size    int32
	Offset  int32
}

// NewRequestHeader returns a to-server header with protocol defaults applied.
func NewRequestHeader(typ MsgType, payloadLen int, flags Flags, size, offset int32) Header {
	return Header{
		Version: ProtocolVersion,
		Payload: int32(payloadLen),
		Code:    int32(typ),
		Flags:   flags,
		Size:    size,
		Offset:  offset,
	}
}

func (h Header) MsgType() MsgType {
	return MsgType(h.Code)
}

func (h Header) Ret() int32 {
	return h.Code
}

// KeepAlive reports whether the header is a server pulse sent while a
// request of type sent is still being served.
func (h Header) KeepAlive(sent MsgType) bool {
	return h.Payload < 0 && sent != MsgNop
}

func (h Header) String() string {
	return fmt.Sprintf("Header(version=%d, payload=%d, code=%d, flags=%#x, size=%d, offset=%d)",
		h.Version, h.Payload, h.Code, uint32(h.Flags), h.Size, h.Offset)
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)
	return buf
}

// PutHeader writes h into the first HeaderLen bytes of buf.
func PutHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Version))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Payload))
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Code))
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.Flags))
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.Size))
	binary.BigEndian.PutUint32(buf[20:24], uint32(h.Offset))
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("%w: %d", ErrHeaderLen, len(b))
	}
	return Header{
		Version: int32(binary.BigEndian.Uint32(b[0:4])),
		Payload: int32(binary.BigEndian.Uint32(b[4:8])),
		Code:    int32(binary.BigEndian.Uint32(b[8:12])),
		Flags:   Flags(binary.BigEndian.Uint32(b[12:16])),
		Size:    int32(binary.BigEndian.Uint32(b[16:20])),
		Offset:  int32(binary.BigEndian.Uint32(b[20:24])),
	}, nil
}
