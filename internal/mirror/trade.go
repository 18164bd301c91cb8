package mirror

import (
	"sync"
	"time"

	"github.com/argus-terminal/argus/internal/ledger"
)

// Trade mirrors one executed trade. A trade is discovered by ID first (from
// the recent ring or an order's trade list) and hydrated later by a batched
// fact fetch; until then every field pointer is nil.
type Trade struct {
	ID uint64

	mu             sync.RWMutex
	sellOrder      *uint64
	buyOrder       *uint64
	base           *uint64
	quote          *uint64
	sellFee        *uint64
	buyFee         *uint64
	sellExecutedAt *time.Time
	buyExecutedAt  *time.Time
	createdAt      *time.Time
	block          *uint64
}

// TradeSnapshot is a point-in-time copy of a trade mirror.
type TradeSnapshot struct {
	ID             uint64
	SellOrder      *uint64
	BuyOrder       *uint64
	Base           *uint64
	Quote          *uint64
	SellFee        *uint64
	BuyFee         *uint64
	SellExecutedAt *time.Time
	BuyExecutedAt  *time.Time
	CreatedAt      *time.Time
	Block          *uint64
}

// Snapshot returns a point-in-time copy of the trade.
func (t *Trade) Snapshot() TradeSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TradeSnapshot{
		ID:             t.ID,
		SellOrder:      t.sellOrder,
		BuyOrder:       t.buyOrder,
		Base:           t.base,
		Quote:          t.quote,
		SellFee:        t.sellFee,
		BuyFee:         t.buyFee,
		SellExecutedAt: t.sellExecutedAt,
		BuyExecutedAt:  t.buyExecutedAt,
		CreatedAt:      t.createdAt,
		Block:          t.block,
	}
}

func (t *Trade) applyFact(f ledger.TradeFact) {
	t.mu.Lock()
	t.sellOrder = f.SellOrder
	t.buyOrder = f.BuyOrder
	t.base = f.Base
	t.quote = f.Quote
	t.sellFee = f.SellFee
	t.buyFee = f.BuyFee
	t.sellExecutedAt = f.SellExecutedAt
	t.buyExecutedAt = f.BuyExecutedAt
	t.createdAt = f.CreatedAt
	t.block = f.Block
	t.mu.Unlock()
}

// Maker returns the maker order ID: of the two participants, the one with
// the smaller numeric ID. False until both participant IDs are hydrated.
func (t *Trade) Maker() (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.sellOrder == nil || t.buyOrder == nil {
		return 0, false
	}
	if *t.sellOrder < *t.buyOrder {
		return *t.sellOrder, true
	}
	return *t.buyOrder, true
}

// Taker returns the taker order ID: the larger of the two participant IDs.
// False until both participant IDs are hydrated.
func (t *Trade) Taker() (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.sellOrder == nil || t.buyOrder == nil {
		return 0, false
	}
	if *t.sellOrder < *t.buyOrder {
		return *t.buyOrder, true
	}
	return *t.sellOrder, true
}

// Trades is the flat arena of trade mirrors keyed by ID, shared between the
// book task (hydration, recent ring) and the per-order tasks (discovery).
// Cross-references between entities are always IDs resolved here, never
// embedded pointers.
type Trades struct {
	mu      sync.Mutex
	m       map[uint64]*Trade
	pending []uint64
}

// NewTrades creates an empty arena.
func NewTrades() *Trades {
	return &Trades{m: make(map[uint64]*Trade)}
}

// Get returns the trade mirror for id, if it is tracked.
func (ts *Trades) Get(id uint64) (*Trade, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.m[id]
	return t, ok
}

// Ensure registers id, queueing it for hydration when first seen. It
// reports whether the trade was newly registered.
func (ts *Trades) Ensure(id uint64) (*Trade, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.m[id]; ok {
		return t, false
	}
	t := &Trade{ID: id}
	ts.m[id] = t
	ts.pending = append(ts.pending, id)
	return t, true
}

// TakePending removes and returns the IDs awaiting hydration.
func (ts *Trades) TakePending() []uint64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	p := ts.pending
	ts.pending = nil
	return p
}

// Requeue puts IDs back on the hydration queue after a failed fetch.
func (ts *Trades) Requeue(ids []uint64) {
	ts.mu.Lock()
	ts.pending = append(ids, ts.pending...)
	ts.mu.Unlock()
}

// Len returns the number of tracked trades.
func (ts *Trades) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.m)
}
