// Package dispatch accepts incoming QUIC connections, routes each one by
// its negotiated ALPN protocol to a server or client session, and manages
// the lifetime of the resulting per-connection task.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"metaserve/internal/registry"
	"metaserve/internal/session"
	"metaserve/internal/wire"
)

// Conn is the subset of a QUIC connection the dispatcher itself needs: a
// handshake wait, an ALPN readout, and a context canceled on any connection
// teardown (including a failed handshake, before HandshakeComplete ever
// fires). A Conn must also satisfy whichever of session.ServerConn/
// session.ClientConn its negotiated protocol calls for; that is asserted
// via the Server/Client accessor methods below.
type Conn interface {
	HandshakeComplete() <-chan struct{}
	ConnectionState() ConnState
	Context() context.Context
	AsServerConn() session.ServerConn
	AsClientConn() session.ClientConn
}

// ConnState carries the bit of TLS connection state the dispatcher reads.
type ConnState struct {
	NegotiatedProtocol string
}

// Listener is the subset of a QUIC listener the dispatcher drives.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
}

// Dispatcher owns the accept loop and the registry shared by every
// session it spawns.
type Dispatcher struct {
	listener  Listener
	reg       *registry.Registry
	stateSize int
	log       *slog.Logger

	wg sync.WaitGroup
}

// New constructs a dispatcher over an already-configured listener.
func New(listener Listener, reg *registry.Registry, stateSize int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{listener: listener, reg: reg, stateSize: stateSize, log: log}
}

// Run accepts connections until ctx is canceled or the listener errors,
// spawning one goroutine per connection. It returns once every spawned
// session has finished its cleanup.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.wg.Wait()
	for {
		conn, err := d.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Warn("accept failed", "err", err)
			return err
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handle(ctx, conn)
		}()
	}
}

func (d *Dispatcher) handle(ctx context.Context, conn Conn) {
	select {
	case <-conn.HandshakeComplete():
	case <-conn.Context().Done():
		d.log.Warn("handshake failed", "err", context.Cause(conn.Context()))
		return
	case <-ctx.Done():
		return
	}

	proto := conn.ConnectionState().NegotiatedProtocol
	switch proto {
	case string(wire.GameProtocol):
		d.log.Debug("dispatching server connection")
		sess := session.NewServerSession(conn.AsServerConn(), d.reg, d.stateSize, d.log)
		if err := sess.Run(ctx); err != nil {
			d.log.Debug("server session ended with error", "err", err)
		}
	case string(wire.ClientProtocol):
		d.log.Debug("dispatching client connection")
		sess := session.NewClientSession(conn.AsClientConn(), d.reg, d.log)
		if err := sess.Run(ctx); err != nil {
			d.log.Debug("client session ended with error", "err", err)
		}
	default:
		d.log.Warn("unknown ALPN protocol, dropping connection", "protocol", proto)
	}
}
