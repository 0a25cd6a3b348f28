package registry

import "testing"

func TestSlabInsertGetRemove(t *testing.T) {
	s := newSlab[string]()
	a := s.insert("a")
	b := s.insert("b")
	if a == b {
		t.Fatalf("expected distinct ids, got %d and %d", a, b)
	}
	if v, ok := s.get(a); !ok || v != "a" {
		t.Errorf("get(a) = %q, %v", v, ok)
	}
	if s.len() != 2 {
		t.Errorf("len = %d, want 2", s.len())
	}
}

func TestSlabReusesFreedID(t *testing.T) {
	s := newSlab[int]()
	a := s.insert(1)
	s.insert(2)
	s.remove(a)
	c := s.insert(3)
	if c != a {
		t.Errorf("expected reused id %d, got %d", a, c)
	}
	if _, ok := s.get(a); !ok {
		t.Errorf("expected id %d occupied after reuse", a)
	}
}

func TestSlabGetUnoccupiedFalse(t *testing.T) {
	s := newSlab[int]()
	a := s.insert(1)
	s.remove(a)
	if _, ok := s.get(a); ok {
		t.Errorf("expected id %d to be unoccupied after remove", a)
	}
	if _, ok := s.get(999); ok {
		t.Errorf("expected out-of-range id to be unoccupied")
	}
}

func TestOrderedSetPreservesInsertionOrder(t *testing.T) {
	s := newOrderedSet()
	s.add(5)
	s.add(1)
	s.add(3)
	s.remove(1)
	s.add(7)
	got := s.drain()
	want := []uint64{5, 3, 7}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
