package mirror

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/argus-terminal/argus/internal/bus"
	"github.com/argus-terminal/argus/internal/ledger"
	"github.com/argus-terminal/argus/internal/poll"
)

// PriceLevel mirrors one displayed depth slot on one side of a book: the
// price tier it currently shows (0 = empty), the identity set of orders
// resident there, and their summed amount. The sum excludes orders whose
// facts have not arrived yet; they join the total once hydrated.
type PriceLevel struct {
	mu     sync.RWMutex
	price  uint64
	orders map[uint64]struct{}
	base   Amount
}

// NewPriceLevel creates an empty (inactive) level.
func NewPriceLevel() *PriceLevel {
	return &PriceLevel{orders: make(map[uint64]struct{})}
}

// LevelSnapshot is a point-in-time copy of a level.
type LevelSnapshot struct {
	Price  uint64
	Orders []uint64
	Base   Amount
}

// Snapshot returns a point-in-time copy of the level.
func (l *PriceLevel) Snapshot() LevelSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	orders := make([]uint64, 0, len(l.orders))
	for id := range l.orders {
		orders = append(orders, id)
	}
	return LevelSnapshot{Price: l.price, Orders: orders, Base: l.base}
}

// Price returns the level's current price tier; 0 means empty.
func (l *PriceLevel) Price() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.price
}

func (l *PriceLevel) ordersCopy() map[uint64]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m := make(map[uint64]struct{}, len(l.orders))
	for id := range l.orders {
		m[id] = struct{}{}
	}
	return m
}

// reset moves the level to a new price tier, clearing residents and sum.
func (l *PriceLevel) reset(price uint64) {
	l.mu.Lock()
	l.price = price
	l.orders = make(map[uint64]struct{})
	l.base = Amount{}
	l.mu.Unlock()
}

func (l *PriceLevel) replace(orders map[uint64]struct{}, base Amount) {
	l.mu.Lock()
	l.orders = orders
	l.base = base
	l.mu.Unlock()
}

// LevelTask keeps one PriceLevel current. The task never discovers its own
// price: the book aggregate assigns the desired tier via SetPrice, and the
// task applies it at the top of its next iteration.
//
// In the empty state (price 0) no network call is made, and the iteration
// counts as changed only on the transition into empty, so stale depth is
// cleared by exactly one render and the slot then decays to the ceiling.
type LevelTask struct {
	level  *PriceLevel
	side   ledger.Side
	book   ledger.Address
	remote ledger.BookReader
	orders *Orders
	bus    *bus.Bus
	waiter *poll.Waiter
	back   poll.Backoff
	limit  uint32
	log    *zap.Logger

	desired atomic.Uint64
}

// NewLevelTask creates a task owning the given level.
func NewLevelTask(level *PriceLevel, side ledger.Side, book ledger.Address, remote ledger.BookReader, orders *Orders, b *bus.Bus, back poll.Backoff, limit uint32, log *zap.Logger) *LevelTask {
	return &LevelTask{
		level:  level,
		side:   side,
		book:   book,
		remote: remote,
		orders: orders,
		bus:    b,
		waiter: poll.NewWaiter(b.SubscribeRefresh()),
		back:   back,
		limit:  limit,
		log:    log,
	}
}

// Level returns the mirror this task owns.
func (t *LevelTask) Level() *PriceLevel { return t.level }

// SetPrice records the tier this slot should mirror next. Called by the
// book aggregate after each best-prices poll; 0 empties the slot.
func (t *LevelTask) SetPrice(price uint64) {
	t.desired.Store(price)
}

// Run polls until ctx is cancelled.
func (t *LevelTask) Run(ctx context.Context) {
	delay := t.back.Floor
	for {
		changed := t.pollOnce(ctx)
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

func (t *LevelTask) pollOnce(ctx context.Context) bool {
	changed := false

	want := t.desired.Load()
	if want != t.level.Price() {
		t.level.reset(want)
		if want == 0 {
			// Transition into empty: one render clears stale depth.
			return true
		}
		// A reassigned tier is a displayed change on its own, even when
		// the new tier turns out to hold no orders.
		changed = true
	}
	if t.level.Price() == 0 {
		return false
	}

	orders, base, err := t.fetchResidents(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.log.Warn("level poll failed",
				zap.Stringer("side", t.side),
				zap.Uint64("price", t.level.Price()),
				zap.Error(err))
		}
		return false
	}

	if !poll.SetsEqual(t.level.ordersCopy(), orders) {
		changed = true
	}
	t.level.replace(orders, base)

	if len(orders) == 0 {
		// The tier drained remotely; empty the slot without waiting for
		// the book aggregate to notice.
		t.level.reset(0)
		t.desired.Store(0)
	}
	return changed
}

// fetchResidents pages through the orders resident at the level's tier,
// restarting from an empty cursor and advancing it from the last element of
// each page. Orders already in the shared arena contribute to the sum;
// unknown ones are registered for hydration and excluded until hydrated.
func (t *LevelTask) fetchResidents(ctx context.Context) (map[uint64]struct{}, Amount, error) {
	price := t.level.Price()
	orders := make(map[uint64]struct{})
	var base Amount

	page := ledger.Page{Limit: ledger.Limit(t.limit)}
	for {
		ids, err := t.remote.OrdersAt(ctx, t.book, t.side, price, page)
		if err != nil {
			return nil, Amount{}, err
		}
		if len(ids) == 0 {
			return orders, base, nil
		}
		page.After = ledger.After(ids[len(ids)-1])

		for _, id := range ids {
			orders[id] = struct{}{}
			if o, known := t.orders.Get(id); known {
				base.Add(o.Base())
			} else {
				t.orders.Ensure(id)
			}
		}
	}
}
