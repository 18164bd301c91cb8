package poll

import "testing"

func TestMapsEqual(t *testing.T) {
	a := map[uint64]uint64{1: 10, 2: 20}
	b := map[uint64]uint64{2: 20, 1: 10}

	if !MapsEqual(a, b) {
		t.Fatal("identical maps reported unequal")
	}
	if !MapsEqual(map[uint64]uint64(nil), map[uint64]uint64{}) {
		t.Fatal("nil and empty maps should compare equal")
	}

	b[2] = 21
	if MapsEqual(a, b) {
		t.Fatal("maps with differing values reported equal")
	}

	delete(b, 2)
	if MapsEqual(a, b) {
		t.Fatal("maps with differing sizes reported equal")
	}

	c := map[uint64]uint64{1: 10, 3: 20}
	if MapsEqual(a, c) {
		t.Fatal("maps with differing keys reported equal")
	}
}

func TestSetsEqual(t *testing.T) {
	a := map[uint64]struct{}{1: {}, 2: {}}
	b := map[uint64]struct{}{2: {}, 1: {}}

	if !SetsEqual(a, b) {
		t.Fatal("identical sets reported unequal")
	}

	b[3] = struct{}{}
	if SetsEqual(a, b) {
		t.Fatal("sets of different sizes reported equal")
	}

	delete(b, 1)
	if SetsEqual(a, b) {
		t.Fatal("sets with different members reported equal")
	}
}
