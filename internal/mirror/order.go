package mirror

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/argus-terminal/argus/internal/bus"
	"github.com/argus-terminal/argus/internal/ledger"
	"github.com/argus-terminal/argus/internal/poll"
)

// Order mirrors one order. Orders are discovered by ID (from a price level,
// a user index, or a trade) and hydrated later: the immutable facts once,
// the mutable state on every book iteration. Side is nil until hydrated.
type Order struct {
	ID uint64

	mu           sync.RWMutex
	side         *ledger.Side
	owner        *ledger.Account
	block        *uint64
	executions   *uint64
	price        uint64
	base         Amount
	expiresAt    *time.Time
	createdAt    *time.Time
	closedAt     *time.Time
	closedReason *string
	subaccount   []byte
	trades       []uint64 // append-only, in remote pagination order
}

// OrderSnapshot is a point-in-time copy of an order mirror.
type OrderSnapshot struct {
	ID           uint64
	Side         *ledger.Side
	Owner        *ledger.Account
	Block        *uint64
	Executions   *uint64
	Price        uint64
	Base         Amount
	ExpiresAt    *time.Time
	CreatedAt    *time.Time
	ClosedAt     *time.Time
	ClosedReason *string
	Trades       []uint64
}

// Snapshot returns a point-in-time copy of the order.
func (o *Order) Snapshot() OrderSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	trades := make([]uint64, len(o.trades))
	copy(trades, o.trades)
	return OrderSnapshot{
		ID:           o.ID,
		Side:         o.side,
		Owner:        o.owner,
		Block:        o.block,
		Executions:   o.executions,
		Price:        o.price,
		Base:         o.base,
		ExpiresAt:    o.expiresAt,
		CreatedAt:    o.createdAt,
		ClosedAt:     o.closedAt,
		ClosedReason: o.closedReason,
		Trades:       trades,
	}
}

// Base returns the order's current amount triple.
func (o *Order) Base() Amount {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.base
}

// Hydrated reports whether the order's immutable facts have arrived.
func (o *Order) Hydrated() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.side != nil
}

// Closed reports whether the remote side has closed the order.
func (o *Order) Closed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closedAt != nil
}

func (o *Order) applyFact(f ledger.OrderFact) {
	o.mu.Lock()
	o.side = f.Side
	o.owner = f.Owner
	o.block = f.Block
	o.executions = f.Executions
	if f.Price != nil {
		o.price = *f.Price
	}
	if f.Initial != nil {
		o.base.Initial = *f.Initial
	}
	o.expiresAt = f.ExpiresAt
	o.subaccount = f.Subaccount
	o.createdAt = f.CreatedAt
	o.mu.Unlock()
}

// applyState overwrites the mutable fields, diffing each one individually
// to report whether anything changed.
func (o *Order) applyState(s ledger.OrderState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	locked, filled := o.base.Locked, o.base.Filled
	if s.Locked != nil {
		locked = *s.Locked
	}
	if s.Filled != nil {
		filled = *s.Filled
	}

	changed := !equalTime(o.closedAt, s.ClosedAt) ||
		!equalString(o.closedReason, s.ClosedReason) ||
		locked != o.base.Locked ||
		filled != o.base.Filled

	o.closedAt = s.ClosedAt
	o.closedReason = s.ClosedReason
	o.base.Locked = locked
	o.base.Filled = filled
	return changed
}

// lastTrade returns the pagination cursor for the order's trade list.
func (o *Order) lastTrade() (uint64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.trades) == 0 {
		return 0, false
	}
	return o.trades[len(o.trades)-1], true
}

func (o *Order) appendTrades(ids []uint64) {
	o.mu.Lock()
	o.trades = append(o.trades, ids...)
	o.mu.Unlock()
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Orders is the flat arena of order mirrors keyed by ID. It is shared by
// the book task and all level tasks: whoever sees an ID first registers it,
// and the book task hydrates the pending queue in batches.
type Orders struct {
	mu      sync.Mutex
	m       map[uint64]*Order
	pending []uint64
}

// NewOrders creates an empty arena.
func NewOrders() *Orders {
	return &Orders{m: make(map[uint64]*Order)}
}

// Get returns the order mirror for id, if it is tracked.
func (os *Orders) Get(id uint64) (*Order, bool) {
	os.mu.Lock()
	defer os.mu.Unlock()
	o, ok := os.m[id]
	return o, ok
}

// Ensure registers id, queueing it for hydration when first seen. It
// reports whether the order was newly registered.
func (os *Orders) Ensure(id uint64) (*Order, bool) {
	os.mu.Lock()
	defer os.mu.Unlock()
	if o, ok := os.m[id]; ok {
		return o, false
	}
	o := &Order{ID: id}
	os.m[id] = o
	os.pending = append(os.pending, id)
	return o, true
}

// IDs returns all tracked order IDs.
func (os *Orders) IDs() []uint64 {
	os.mu.Lock()
	defer os.mu.Unlock()
	ids := make([]uint64, 0, len(os.m))
	for id := range os.m {
		ids = append(ids, id)
	}
	return ids
}

// TakePending removes and returns the IDs awaiting fact hydration.
func (os *Orders) TakePending() []uint64 {
	os.mu.Lock()
	defer os.mu.Unlock()
	p := os.pending
	os.pending = nil
	return p
}

// Requeue puts IDs back on the hydration queue after a failed fetch.
func (os *Orders) Requeue(ids []uint64) {
	os.mu.Lock()
	os.pending = append(ids, os.pending...)
	os.mu.Unlock()
}

// Len returns the number of tracked orders.
func (os *Orders) Len() int {
	os.mu.Lock()
	defer os.mu.Unlock()
	return len(os.m)
}

// OrderTask follows one order's append-only trade-ID list, registering any
// trade the shared arena has not seen for hydration by the book task. One
// task runs per tracked order for the lifetime of the process.
type OrderTask struct {
	order  *Order
	book   ledger.Address
	remote ledger.BookReader
	trades *Trades
	bus    *bus.Bus
	waiter *poll.Waiter
	back   poll.Backoff
	limit  uint32
	log    *zap.Logger
}

// NewOrderTask creates a task following the given order.
func NewOrderTask(order *Order, book ledger.Address, remote ledger.BookReader, trades *Trades, b *bus.Bus, back poll.Backoff, limit uint32, log *zap.Logger) *OrderTask {
	return &OrderTask{
		order:  order,
		book:   book,
		remote: remote,
		trades: trades,
		bus:    b,
		waiter: poll.NewWaiter(b.SubscribeRefresh()),
		back:   back,
		limit:  limit,
		log:    log,
	}
}

// Run polls until ctx is cancelled.
func (t *OrderTask) Run(ctx context.Context) {
	delay := t.back.Floor
	for {
		changed, err := t.pollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Warn("order trades poll failed",
				zap.Uint64("order", t.order.ID), zap.Error(err))
			changed = false
		}
		if changed {
			t.bus.Render()
		}
		delay = t.back.Next(changed, delay)

		switch t.waiter.Wait(ctx, delay) {
		case poll.Refreshed:
			delay = t.back.Floor
		case poll.Stopped:
			return
		}
	}
}

// pollOnce resumes trade-list pagination from the last known ID, appending
// and registering every new trade. The loop ends on an empty page.
func (t *OrderTask) pollOnce(ctx context.Context) (bool, error) {
	changed := false
	for {
		page := ledger.Page{Limit: ledger.Limit(t.limit)}
		if last, ok := t.order.lastTrade(); ok {
			page.After = ledger.After(last)
		}
		ids, err := t.remote.OrderTrades(ctx, t.book, t.order.ID, page)
		if err != nil {
			return changed, err
		}
		if len(ids) == 0 {
			return changed, nil
		}
		t.order.appendTrades(ids)
		for _, id := range ids {
			t.trades.Ensure(id)
		}
		changed = true
	}
}
