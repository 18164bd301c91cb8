// Package mirror holds the in-memory reflection of remote exchange state —
// tokens, price levels, orders, trades, books, and the vault — together with
// the sync tasks that keep each slice current by polling the ledger. Every
// mirror slice has exactly one writer task; all other access is read-only,
// and a missing entry means "not yet hydrated", never "does not exist".
package mirror

// Amount is the base-unit quantity triple of an order or price level.
// Invariant: Locked+Filled never exceeds Initial.
type Amount struct {
	Initial uint64
	Locked  uint64
	Filled  uint64
}

// Add accumulates b into a. Used when summing a price level from its
// constituent orders.
func (a *Amount) Add(b Amount) {
	a.Initial += b.Initial
	a.Locked += b.Locked
	a.Filled += b.Filled
}

// Remaining is the open quantity: initial minus filled minus locked.
// It clamps at zero rather than wrapping if the remote side briefly serves
// fields from two different blocks.
func (a Amount) Remaining() uint64 {
	used := a.Locked + a.Filled
	if used >= a.Initial {
		return 0
	}
	return a.Initial - used
}

// Valid reports whether the amount invariant holds.
func (a Amount) Valid() bool {
	return a.Locked+a.Filled <= a.Initial
}
