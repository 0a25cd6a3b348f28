package registry

// slab is an id-reusing, array-backed allocator yielding compact uint64
// handles. Freed slots are recycled via a free list so that ids remain
// dense under steady churn, matching the upstream `slab::Slab<T>` used by
// the Rust daemon this registry is modeled on. No pack example imports a
// dedicated Go slab/freelist library, so this is hand-rolled over a plain
// slice plus a reuse stack.
type slab[T any] struct {
	entries []slabEntry[T]
	free    []uint64
}

type slabEntry[T any] struct {
	value    T
	occupied bool
}

func newSlab[T any]() *slab[T] {
	return &slab[T]{}
}

// insert allocates a slot, preferring a freed one, and returns its id.
func (s *slab[T]) insert(v T) uint64 {
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		s.entries[id] = slabEntry[T]{value: v, occupied: true}
		return id
	}
	id := uint64(len(s.entries))
	s.entries = append(s.entries, slabEntry[T]{value: v, occupied: true})
	return id
}

// get returns the value at id and whether it is currently occupied.
func (s *slab[T]) get(id uint64) (T, bool) {
	var zero T
	if id >= uint64(len(s.entries)) || !s.entries[id].occupied {
		return zero, false
	}
	return s.entries[id].value, true
}

// set overwrites the value at an occupied id. Panics if id is not occupied;
// callers must only call this on ids they hold via a live reference.
func (s *slab[T]) set(id uint64, v T) {
	if id >= uint64(len(s.entries)) || !s.entries[id].occupied {
		panic("registry: set on unoccupied slab id")
	}
	s.entries[id].value = v
}

// remove frees the slot at id, making it eligible for reuse.
func (s *slab[T]) remove(id uint64) {
	if id >= uint64(len(s.entries)) || !s.entries[id].occupied {
		panic("registry: remove on unoccupied slab id")
	}
	var zero T
	s.entries[id] = slabEntry[T]{value: zero, occupied: false}
	s.free = append(s.free, id)
}

// each calls fn for every occupied id, in ascending id order.
func (s *slab[T]) each(fn func(id uint64, v T)) {
	for id, e := range s.entries {
		if e.occupied {
			fn(uint64(id), e.value)
		}
	}
}

func (s *slab[T]) len() int {
	return len(s.entries) - len(s.free)
}
