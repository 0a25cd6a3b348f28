// Package transport constructs the QUIC endpoint the meta-server listens
// on: TLS identity, ALPN list, address-validation retry, and the
// per-connection stream limits that give the server session's rate limit
// its teeth (a sender can't get ahead of the receiver's single uni-stream
// window).
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"

	"metaserve/internal/dispatch"
	"metaserve/internal/session"
)

// Listen builds a QUIC listener bound to addr with the given TLS identity
// (already configured with the correct ALPN list) and a per-connection
// stream receive window equal to stateSize, matching the configured
// heartbeat/update payload cap.
func Listen(addr string, tlsConf *tls.Config, stateSize int) (*Listener, error) {
	quicConf := &quic.Config{
		MaxIncomingUniStreams:          1,
		MaxIncomingStreams:             0,
		InitialStreamReceiveWindow:     uint64(stateSize),
		MaxStreamReceiveWindow:         uint64(stateSize),
		RequireAddressValidation:       func(net.Addr) bool { return true },
	}

	udpConn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", addr, err)
	}

	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(tlsConf, quicConf)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("transport: quic listen: %w", err)
	}

	return &Listener{ln: ln, transport: tr, stateSize: stateSize}, nil
}

// Listener adapts a *quic.Listener to dispatch.Listener.
type Listener struct {
	ln        *quic.Listener
	transport *quic.Transport
	stateSize int
}

func (l *Listener) Accept(ctx context.Context) (dispatch.Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &connAdapter{conn: conn, stateSize: l.stateSize}, nil
}

// Close tears down the listener and its underlying UDP socket.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if cerr := l.transport.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// connAdapter adapts *quic.Conn to dispatch.Conn and, once the role is
// known, to session.ServerConn/session.ClientConn.
type connAdapter struct {
	conn      *quic.Conn
	stateSize int
}

func (c *connAdapter) HandshakeComplete() <-chan struct{} {
	return c.conn.HandshakeComplete()
}

func (c *connAdapter) ConnectionState() dispatch.ConnState {
	return dispatch.ConnState{NegotiatedProtocol: c.conn.ConnectionState().TLS.NegotiatedProtocol}
}

func (c *connAdapter) Context() context.Context { return c.conn.Context() }

func (c *connAdapter) AsServerConn() session.ServerConn { return serverConnAdapter{c.conn} }
func (c *connAdapter) AsClientConn() session.ClientConn { return clientConnAdapter{c.conn} }

type serverConnAdapter struct{ conn *quic.Conn }

func (s serverConnAdapter) AcceptUniStream(ctx context.Context) (session.ReceiveStream, error) {
	return s.conn.AcceptUniStream(ctx)
}

func (s serverConnAdapter) RemoteAddr() []byte {
	addr, ok := s.conn.RemoteAddr().(*net.UDPAddr)
	if !ok {
		return nil
	}
	return addr.IP
}

func (s serverConnAdapter) CloseWithError(code uint64, reason string) error {
	return s.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

func (s serverConnAdapter) Context() context.Context { return s.conn.Context() }

type clientConnAdapter struct{ conn *quic.Conn }

func (c clientConnAdapter) OpenUniStreamSync(ctx context.Context) (session.SendStream, error) {
	return c.conn.OpenUniStreamSync(ctx)
}

func (c clientConnAdapter) AcceptStream(ctx context.Context) error {
	_, err := c.conn.AcceptStream(ctx)
	return err
}

func (c clientConnAdapter) CloseWithError(code uint64, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

func (c clientConnAdapter) Context() context.Context { return c.conn.Context() }
