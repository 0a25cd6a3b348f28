// Package session implements the two per-connection state machines: the
// game-server session (handshake, rate-limited heartbeat ingest) and the
// game-client session (rate-limited delta push). Both are built against
// small interfaces over the QUIC connection rather than *quic.Conn
// directly, so they can be driven by in-memory fakes in tests.
package session

import (
	"context"
	"io"
)

// ReceiveStream is a readable unidirectional QUIC stream.
type ReceiveStream interface {
	io.Reader
}

// SendStream is a writable unidirectional QUIC stream.
type SendStream interface {
	io.Writer
	Close() error
}

// ServerConn is the subset of a QUIC connection a server session needs.
type ServerConn interface {
	AcceptUniStream(ctx context.Context) (ReceiveStream, error)
	RemoteAddr() (ip []byte)
	CloseWithError(code uint64, reason string) error
	Context() context.Context
}

// ClientConn is the subset of a QUIC connection a client session needs.
type ClientConn interface {
	OpenUniStreamSync(ctx context.Context) (SendStream, error)
	// AcceptStream observes bidi-stream attempts from the peer, which are
	// a protocol violation for this role. It should block
	// until the peer opens one, or return an error when the connection
	// closes.
	AcceptStream(ctx context.Context) error
	CloseWithError(code uint64, reason string) error
	Context() context.Context
}

// Application error codes closed onto the QUIC connection on protocol
// failures.
const (
	ErrCodeMalformedHello    = 1
	ErrCodeOversizedPayload  = 2
	ErrCodeProtocolViolation = 3
)

// readLimited reads r to completion. If more than limit bytes are
// produced it returns a nil body with the oversize flag (second result)
// set and a nil error; a read failure other than io.EOF is returned as the
// error. It never returns a partial read silently: any excess is detected
// as soon as the buffered bytes pass the cap.
func readLimited(r io.Reader, limit int) ([]byte, bool, error) {
	buf := make([]byte, 0, limit+1)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(buf) > limit {
				return nil, true, nil
			}
		}
		if err == io.EOF {
			return buf, false, nil
		}
		if err != nil {
			return nil, false, err
		}
	}
}
