package session

import (
	"context"
	"log/slog"
	"time"

	"metaserve/internal/registry"
	"metaserve/internal/wire"
)

// ClientSession drives one game-client connection through
// CONNECTED → SNAPSHOT_ISSUED → loop(WAIT → OPEN_STREAM → BUILD → SEND →
// RATE_LIMIT) → TERMINATED.
type ClientSession struct {
	conn ClientConn
	reg  *registry.Registry
	log  *slog.Logger
}

// NewClientSession constructs a client session.
func NewClientSession(conn ClientConn, reg *registry.Registry, log *slog.Logger) *ClientSession {
	if log == nil {
		log = slog.Default()
	}
	return &ClientSession{conn: conn, reg: reg, log: log}
}

// Run executes the session to completion, calling RemoveClient
// unconditionally before returning.
func (c *ClientSession) Run(ctx context.Context) error {
	id := c.reg.InsertClient()
	defer c.reg.RemoveClient(id)
	c.log.Debug("client session started", "id", id)

	violation := c.watchProtocolViolation(ctx)

	for {
		// Subscribe before taking the delta: any registry change from
		// this point on — even one that lands before we finish building
		// and sending this iteration's message — must be observed by
		// the wait this subscription guards, or it could go unnoticed
		// forever (a late subscribe can miss an edge that already fired).
		sub := c.reg.Subscribe()

		stream, err := c.conn.OpenUniStreamSync(ctx)
		if err != nil {
			c.log.Debug("client session connection lost", "id", id, "err", err)
			return nil
		}

		delta := c.reg.TakeDelta(id)
		msg := deltaToClientMessage(delta)
		body, err := wire.EncodeClientMessage(msg)
		if err != nil {
			// Serialization of a well-formed in-memory message never
			// fails; a failure here is a programmer bug.
			panic(err)
		}
		if _, err := stream.Write(body); err != nil {
			c.log.Debug("client session write failed", "id", id, "err", err)
			return nil
		}
		if err := stream.Close(); err != nil {
			c.log.Debug("client session stream close failed", "id", id, "err", err)
			return nil
		}
		timer := time.NewTimer(rateLimit)
		floor := timer.C

		// An arm that has fired is disabled by setting its channel to nil
		// (a receive from a nil channel never proceeds), so the loop's next
		// pass doesn't re-select on an already-satisfied condition.
		notified := false
		timerDone := false
		for !notified || !timerDone {
			select {
			case <-sub:
				notified = true
				sub = nil
			case <-floor:
				timerDone = true
				floor = nil
			case err := <-violation:
				c.log.Warn("client session protocol violation", "id", id, "err", err)
				_ = c.conn.CloseWithError(ErrCodeProtocolViolation, "bidi stream not permitted")
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// watchProtocolViolation starts a background watcher that reports when
// the peer attempts to open a bidirectional stream (forbidden for game
// clients) or when the accept call itself errors out,
// which also signals the connection is no longer usable for this check.
func (c *ClientSession) watchProtocolViolation(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	go func() {
		err := c.conn.AcceptStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errProtocolViolationBidiStream
		}
		out <- err
	}()
	return out
}

var errProtocolViolationBidiStream = clientProtocolError("client opened a bidi stream")

type clientProtocolError string

func (e clientProtocolError) Error() string { return string(e) }

func deltaToClientMessage(d registry.Delta) wire.ClientMessage {
	msg := wire.ClientMessage{Servers: make([]wire.ServerDelta, 0, len(d.Shutdowns)+len(d.Updates))}
	for _, id := range d.Shutdowns {
		msg.Servers = append(msg.Servers, wire.ServerDelta{ID: id, Kind: wire.EventShutdown})
	}
	for _, u := range d.Updates {
		msg.Servers = append(msg.Servers, wire.ServerDelta{
			ID:      u.ID,
			Kind:    wire.EventUpdate,
			Address: u.Address,
			State:   u.State,
		})
	}
	return msg
}
