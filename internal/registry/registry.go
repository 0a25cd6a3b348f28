// Package registry holds the meta-server's shared, mutex-guarded view of
// live game servers and live game clients: the server table, the
// per-client dirty/lost bookkeeping, and the change-notification primitive
// that lets client sessions block until there is something new to send.
package registry

import (
	"log/slog"
	"net"
	"sync"
)

// ServerEntry is one live game-server connection's advertised state.
type ServerEntry struct {
	// Address is the public endpoint game clients should use to reach
	// this server. Nil only in the brief window between insertion and
	// the first heartbeat (see the "first-heartbeat visibility" design
	// note: a server is not advertised to any client until this is set).
	Address *net.UDPAddr
	// State is the opaque last-known heartbeat payload, bounded by the
	// configured state size cap.
	State []byte
}

// ClientEntry is one live game-client connection's delivery bookkeeping.
type ClientEntry struct {
	dirty *orderedSet
	lost  []uint64
	// known holds every server id this client has actually been, or will
	// unavoidably be, told about: ids delivered by a prior TakeDelta, plus
	// ids seeded at admission time (InsertClient snapshots already-live
	// servers into dirty as an implicit "you already know about these").
	// RemoveServer consults this, not dirty, to decide whether a Shutdown
	// is owed: an id that became dirty only from a late UpdateServer racing
	// in after admission, and retracted before ever being delivered, owes
	// nothing (the Update simply never happened from the client's view).
	known map[uint64]struct{}
}

// Registry is the process-global, mutex-guarded server/client table. The
// zero value is not usable; construct with New.
type Registry struct {
	mu      sync.Mutex
	servers *slab[ServerEntry]
	clients *slab[*ClientEntry]
	notify  *notify
	log     *slog.Logger
}

// New constructs an empty registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		servers: newSlab[ServerEntry](),
		clients: newSlab[*ClientEntry](),
		notify:  newNotify(),
		log:     log,
	}
}

// Subscribe returns a channel that closes on the next registry change
// (any update_server, remove_server, or equivalent broadcast). Callers
// that need to react to "did anything change while I was building my last
// message" must subscribe before inspecting state they are about to act
// on, per the dirty_notify edge-broadcast discipline.
func (r *Registry) Subscribe() <-chan struct{} {
	return r.notify.subscribe()
}

// InsertServer allocates a server slot with empty state and no address.
// It does not mark any client dirty: an entry with Address == nil is not
// yet advertisable.
func (r *Registry) InsertServer() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.servers.insert(ServerEntry{})
	r.log.Debug("server inserted", "id", id)
	return id
}

// UpdateServer sets a server's address and state. It returns true iff
// either value changed relative to the prior entry. On change, id is
// inserted into every client's dirty set (removed from lost first, to
// preserve invariant 2: an id is never in both dirty and lost for the
// same client), and the change is broadcast.
func (r *Registry) UpdateServer(id uint64, addr *net.UDPAddr, state []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.servers.get(id)
	if !ok {
		panic("registry: UpdateServer on unknown id")
	}

	changed := !sameAddr(entry.Address, addr) || !sameState(entry.State, state)
	if !changed {
		return false
	}

	r.servers.set(id, ServerEntry{Address: addr, State: append([]byte(nil), state...)})

	r.clients.each(func(_ uint64, c *ClientEntry) {
		removeFromLost(c, id)
		c.dirty.add(id)
	})

	r.log.Debug("server updated", "id", id, "addr", addr, "state_len", len(state))
	r.notify.broadcast()
	return true
}

// RemoveServer frees a server slot. For every client: id is dropped from
// dirty unconditionally (any pending, undelivered Update is moot once the
// server is gone). A Shutdown is appended to lost only if id is in that
// client's known set — i.e. the client has actually been told about this
// server before (by a prior TakeDelta) or was told implicitly by admission
// (InsertClient seeds dirty from already-live servers). An id that became
// dirty purely from a late UpdateServer race, with no delivery and no
// admission behind it, is not known, and its retraction is silent.
func (r *Registry) RemoveServer(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.servers.get(id); !ok {
		panic("registry: RemoveServer on unknown id")
	}
	r.servers.remove(id)

	r.clients.each(func(_ uint64, c *ClientEntry) {
		c.dirty.remove(id)
		if _, ok := c.known[id]; ok {
			delete(c.known, id)
			c.lost = append(c.lost, id)
		}
	})

	r.log.Debug("server removed", "id", id)
	r.notify.broadcast()
}

// InsertClient allocates a client slot. Its dirty set is initialized to
// every currently-live server id whose address is set; lost starts empty.
// Those seeded ids are also marked known, since admission implicitly tells
// the client about every server already live at connect time.
func (r *Registry) InsertClient() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var live []uint64
	r.servers.each(func(id uint64, e ServerEntry) {
		if e.Address != nil {
			live = append(live, id)
		}
	})

	known := make(map[uint64]struct{}, len(live))
	for _, id := range live {
		known[id] = struct{}{}
	}

	id := r.clients.insert(&ClientEntry{dirty: newOrderedSetFrom(live), known: known})
	r.log.Debug("client inserted", "id", id, "initial_dirty", len(live))
	return id
}

// RemoveClient frees a client slot. No broadcast is needed: removing a
// client changes no server's observable state.
func (r *Registry) RemoveClient(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients.get(id); !ok {
		panic("registry: RemoveClient on unknown id")
	}
	r.clients.remove(id)
	r.log.Debug("client removed", "id", id)
}

// TakeDelta drains a client's lost and dirty bookkeeping into a
// ClientMessage-shaped delta: Shutdown events first (from lost), then
// Update events (from dirty, resolved against current server state).
// Runs entirely under the registry mutex so the server state read
// corresponds to one atomic instant.
func (r *Registry) TakeDelta(id uint64) Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients.get(id)
	if !ok {
		panic("registry: TakeDelta on unknown client id")
	}

	lost := c.lost
	c.lost = nil

	dirtyIDs := c.dirty.drain()
	updates := make([]Update, 0, len(dirtyIDs))
	for _, sid := range dirtyIDs {
		entry, ok := r.servers.get(sid)
		if !ok {
			// RemoveServer strips dirty under the same mutex, so this
			// path does not occur; skip rather than panic.
			continue
		}
		if entry.Address == nil {
			panic("registry: dirty server id with nil address")
		}
		updates = append(updates, Update{ID: sid, Address: entry.Address, State: entry.State})
		c.known[sid] = struct{}{}
	}

	return Delta{Shutdowns: lost, Updates: updates}
}

// ServerCount returns the number of live server entries.
func (r *Registry) ServerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.servers.len()
}

// ClientCount returns the number of live client entries.
func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients.len()
}

// Delta is the registry's role-agnostic view of a client's pending
// message; internal/session encodes it via internal/wire.
type Delta struct {
	Shutdowns []uint64
	Updates   []Update
}

// Update is one server's resolved state at the instant TakeDelta ran.
type Update struct {
	ID      uint64
	Address *net.UDPAddr
	State   []byte
}

func removeFromLost(c *ClientEntry, id uint64) {
	for i, v := range c.lost {
		if v == id {
			c.lost = append(c.lost[:i], c.lost[i+1:]...)
			return
		}
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

func sameState(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
