package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"metaserve/internal/registry"
	"metaserve/internal/wire"
)

// rateLimit is the minimum gap enforced between messages by both
// session types, in either direction.
const rateLimit = time.Second

// ServerSession drives one game-server connection through
// CONNECTED → HELLO_PENDING → READY → loop(AWAIT_STREAM → READ → APPLY →
// RATE_LIMIT) → TERMINATED.
type ServerSession struct {
	conn      ServerConn
	reg       *registry.Registry
	stateSize int
	log       *slog.Logger
}

// NewServerSession constructs a server session. stateSize bounds both the
// Hello body and every heartbeat body.
func NewServerSession(conn ServerConn, reg *registry.Registry, stateSize int, log *slog.Logger) *ServerSession {
	if log == nil {
		log = slog.Default()
	}
	return &ServerSession{conn: conn, reg: reg, stateSize: stateSize, log: log}
}

// Run executes the session to completion. It always returns after the
// connection ends, the peer misbehaves, or ctx is canceled; registry
// cleanup (RemoveServer) runs unconditionally before returning.
func (s *ServerSession) Run(ctx context.Context) error {
	id := s.reg.InsertServer()
	defer s.reg.RemoveServer(id)
	s.log.Debug("server session started", "id", id)

	stream, err := s.conn.AcceptUniStream(ctx)
	if err != nil {
		// No first stream ever arrived: a clean, error-free termination.
		s.log.Debug("server session ended before hello", "id", id)
		return nil
	}

	body, oversize, err := readLimited(stream, s.stateSize)
	if oversize {
		s.log.Warn("oversized hello", "id", id)
		_ = s.conn.CloseWithError(ErrCodeMalformedHello, "oversized hello")
		return fmt.Errorf("oversized hello: more than %d bytes", s.stateSize)
	}
	if err != nil {
		s.log.Warn("hello read failed", "id", id, "err", err)
		return err
	}
	hello, err := wire.DecodeHello(body)
	if err != nil {
		s.log.Warn("malformed hello", "id", id, "err", err)
		_ = s.conn.CloseWithError(ErrCodeMalformedHello, "malformed hello")
		return fmt.Errorf("malformed hello: %w", err)
	}

	remoteIP := s.conn.RemoteAddr()
	addr := &net.UDPAddr{IP: remoteIP, Port: int(hello.Port)}
	s.log.Debug("server session ready", "id", id, "addr", addr)

	for {
		stream, err := s.conn.AcceptUniStream(ctx)
		if err != nil {
			s.log.Debug("server session connection lost", "id", id, "err", err)
			return nil
		}

		body, oversize, err := readLimited(stream, s.stateSize)
		if oversize {
			s.log.Warn("oversized heartbeat", "id", id)
			_ = s.conn.CloseWithError(ErrCodeOversizedPayload, "oversized heartbeat")
			return fmt.Errorf("oversized heartbeat: more than %d bytes", s.stateSize)
		}
		if err != nil {
			s.log.Debug("heartbeat read failed", "id", id, "err", err)
			return err
		}

		s.reg.UpdateServer(id, addr, body)

		select {
		case <-time.After(rateLimit):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
