// Package wire implements the meta-server's binary message framing: Hello,
// Heartbeat passthrough, and ClientMessage. Every value here is carried as
// the entire body of one QUIC unidirectional stream; stream end frames the
// message, so none of these encodings carry their own outer length prefix.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// ErrMalformed is returned when a body cannot be decoded: truncated input,
// an unknown variant tag, or a length prefix exceeding the remaining bytes.
var ErrMalformed = errors.New("wire: malformed message")

// GameProtocol and ClientProtocol are the frozen 16-byte ALPN identifiers
// for game-server and game-client connections, copied byte-for-byte from
// the upstream protocol definition.
var (
	GameProtocol   = []byte{0x72, 0x7F, 0x4A, 0x53, 0x03, 0xDF, 0xDD, 0xB3, 0xAC, 0x79, 0x9E, 0x0F, 0x49, 0xB1, 0xE3, 0x60}
	ClientProtocol = []byte{0xB6, 0x46, 0x55, 0x6E, 0x05, 0x65, 0xD0, 0x9C, 0xD2, 0xFA, 0xEE, 0x31, 0xFD, 0x8A, 0x0A, 0x95}
)

// Hello is the first message a game server sends, declaring the port game
// clients should use to reach it.
type Hello struct {
	Port uint16
}

// EncodeHello serializes a Hello as its 2-byte little-endian port.
func EncodeHello(h Hello) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, h.Port)
	return buf
}

// DecodeHello parses a Hello body. Exactly 2 bytes are expected.
func DecodeHello(body []byte) (Hello, error) {
	if len(body) != 2 {
		return Hello{}, fmt.Errorf("%w: hello body length %d, want 2", ErrMalformed, len(body))
	}
	return Hello{Port: binary.LittleEndian.Uint16(body)}, nil
}

// EventKind distinguishes the two ServerDelta event variants.
type EventKind uint8

const (
	// EventShutdown reports that a server id has been retracted.
	EventShutdown EventKind = 0
	// EventUpdate carries a server's current address and state.
	EventUpdate EventKind = 1
)

// ServerDelta is one entry of a ClientMessage: a server id plus the event
// that happened to it since the client's last delivered message.
type ServerDelta struct {
	ID      uint64
	Kind    EventKind
	Address *net.UDPAddr // non-nil only when Kind == EventUpdate
	State   []byte       // non-nil only when Kind == EventUpdate
}

// ClientMessage is the push message the meta-server sends to game clients:
// an ordered sequence of server deltas framed by one QUIC uni-stream.
type ClientMessage struct {
	Servers []ServerDelta
}

// EncodeClientMessage serializes a ClientMessage. Layout: u32 count,
// then per entry: u64 id, u8 tag, and for Update only: u8 ip-length (4 or
// 16), ip bytes, u16 port, u32 state length, state bytes.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	size := 4
	for _, d := range msg.Servers {
		size += 8 + 1
		if d.Kind == EventUpdate {
			ip4 := d.Address.IP.To4()
			ipLen := 16
			if ip4 != nil {
				ipLen = 4
			}
			size += 1 + ipLen + 2 + 4 + len(d.State)
		}
	}

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(msg.Servers)))
	off += 4

	for _, d := range msg.Servers {
		binary.LittleEndian.PutUint64(buf[off:], d.ID)
		off += 8
		buf[off] = byte(d.Kind)
		off++

		switch d.Kind {
		case EventShutdown:
			// no payload
		case EventUpdate:
			if d.Address == nil {
				return nil, fmt.Errorf("wire: update event for id %d has nil address", d.ID)
			}
			ip4 := d.Address.IP.To4()
			ip := d.Address.IP.To16()
			ipLen := byte(16)
			if ip4 != nil {
				ip = ip4
				ipLen = 4
			}
			buf[off] = ipLen
			off++
			off += copy(buf[off:], ip)
			binary.LittleEndian.PutUint16(buf[off:], uint16(d.Address.Port))
			off += 2
			binary.LittleEndian.PutUint32(buf[off:], uint32(len(d.State)))
			off += 4
			off += copy(buf[off:], d.State)
		default:
			return nil, fmt.Errorf("wire: unknown event kind %d", d.Kind)
		}
	}
	return buf, nil
}

// DecodeClientMessage parses a ClientMessage body.
func DecodeClientMessage(body []byte) (ClientMessage, error) {
	r := &reader{buf: body}

	count, err := r.u32()
	if err != nil {
		return ClientMessage{}, err
	}

	msg := ClientMessage{Servers: make([]ServerDelta, 0, count)}
	for i := uint32(0); i < count; i++ {
		id, err := r.u64()
		if err != nil {
			return ClientMessage{}, err
		}
		tag, err := r.u8()
		if err != nil {
			return ClientMessage{}, err
		}

		d := ServerDelta{ID: id, Kind: EventKind(tag)}
		switch d.Kind {
		case EventShutdown:
			// no payload
		case EventUpdate:
			ipLen, err := r.u8()
			if err != nil {
				return ClientMessage{}, err
			}
			if ipLen != 4 && ipLen != 16 {
				return ClientMessage{}, fmt.Errorf("%w: invalid ip length %d", ErrMalformed, ipLen)
			}
			ip, err := r.bytes(int(ipLen))
			if err != nil {
				return ClientMessage{}, err
			}
			port, err := r.u16()
			if err != nil {
				return ClientMessage{}, err
			}
			stateLen, err := r.u32()
			if err != nil {
				return ClientMessage{}, err
			}
			state, err := r.bytes(int(stateLen))
			if err != nil {
				return ClientMessage{}, err
			}
			d.Address = &net.UDPAddr{IP: append(net.IP(nil), ip...), Port: int(port)}
			d.State = state
		default:
			return ClientMessage{}, fmt.Errorf("%w: unknown event tag %d", ErrMalformed, tag)
		}
		msg.Servers = append(msg.Servers, d)
	}

	if !r.exhausted() {
		return ClientMessage{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf)-r.off)
	}
	return msg, nil
}

// reader is a small cursor over a byte slice that returns ErrMalformed
// instead of panicking on short reads or length prefixes past the end.
type reader struct {
	buf []byte
	off int
}

func (r *reader) exhausted() bool { return r.off == len(r.buf) }

func (r *reader) u8() (uint8, error) {
	if r.off+1 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated u8", ErrMalformed)
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.off+2 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated u16", ErrMalformed)
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated u32", ErrMalformed)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.off+8 > len(r.buf) {
		return 0, fmt.Errorf("%w: truncated u64", ErrMalformed)
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrMalformed, n, len(r.buf)-r.off)
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}
