package mirror

import "testing"

func TestAmountRemaining(t *testing.T) {
	a := Amount{Initial: 100, Locked: 30, Filled: 20}
	if got := a.Remaining(); got != 50 {
		t.Fatalf("expected 50 remaining, got %d", got)
	}

	// Locked+filled briefly exceeding initial clamps at zero instead of
	// wrapping.
	over := Amount{Initial: 100, Locked: 80, Filled: 30}
	if got := over.Remaining(); got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
	if over.Valid() {
		t.Fatal("overcommitted amount reported valid")
	}

	exact := Amount{Initial: 100, Locked: 60, Filled: 40}
	if got := exact.Remaining(); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}
	if !exact.Valid() {
		t.Fatal("fully-used amount reported invalid")
	}
}

func TestAmountAdd(t *testing.T) {
	var sum Amount
	sum.Add(Amount{Initial: 10, Locked: 2, Filled: 3})
	sum.Add(Amount{Initial: 5, Locked: 1, Filled: 0})

	want := Amount{Initial: 15, Locked: 3, Filled: 3}
	if sum != want {
		t.Fatalf("expected %+v, got %+v", want, sum)
	}
}
