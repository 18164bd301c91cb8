package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/argus-terminal/argus/internal/bus"
	"github.com/argus-terminal/argus/internal/ledger"
	"github.com/argus-terminal/argus/internal/poll"
	"github.com/argus-terminal/argus/internal/wallet"
)

// Order-entry validation failures, surfaced before any network call.
var (
	ErrNoAccount  = errors.New("no session account")
	ErrFormBusy   = errors.New("a submission is already in flight")
	ErrZeroPrice  = errors.New("price must be positive")
	ErrZeroAmount = errors.New("amount must be positive")
	ErrNotReady   = errors.New("book metadata not loaded yet")
)

// OrderForm is the mutable order-entry state carried on a book. A failed
// submission leaves Price and Amount untouched so the user can resubmit
// without re-typing.
type OrderForm struct {
	Side   ledger.Side
	Price  string
	Amount string
	Busy   bool
}

// Book mirrors one order book: its static pair parameters, the rings of
// best ask/bid levels and recent trades, the session account's open orders
// and level index, and the shared order/trade arenas.
type Book struct {
	ID ledger.Address

	mu        sync.RWMutex
	meta      ledger.BookMeta
	metaReady bool

	recents []uint64 // fixed-size ring, newest first; 0 = empty slot

	userBuys    []uint64
	userSells   []uint64
	userBuySet  map[uint64]struct{}
	userSellSet map[uint64]struct{}

	userBuyLevels  map[uint64]uint64 // price -> one resident order ID
	userSellLevels map[uint64]uint64

	form OrderForm

	// Asks and Bids are fixed at construction; slot 0 is the best tier.
	Asks []*PriceLevel
	Bids []*PriceLevel

	Orders *Orders
	Trades *Trades
}

// NewBook creates an empty book mirror with the given number of depth slots
// per side and recent-trade ring size.
func NewBook(id ledger.Address, depth, ring int) *Book {
	b := &Book{
		ID:             id,
		recents:        make([]uint64, ring),
		userBuySet:     make(map[uint64]struct{}),
		userSellSet:    make(map[uint64]struct{}),
		userBuyLevels:  make(map[uint64]uint64),
		userSellLevels: make(map[uint64]uint64),
		form:           OrderForm{Side: ledger.SideBuy},
		Orders:         NewOrders(),
		Trades:         NewTrades(),
	}
	for i := 0; i < depth; i++ {
		b.Asks = append(b.Asks, NewPriceLevel())
		b.Bids = append(b.Bids, NewPriceLevel())
	}
	return b
}

// Meta returns the book's pair parameters and whether they have loaded.
func (b *Book) Meta() (ledger.BookMeta, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta, b.metaReady
}

func (b *Book) setMeta(meta ledger.BookMeta) {
	b.mu.Lock()
	b.meta = meta
	b.metaReady = true
	b.mu.Unlock()
}

// Form returns the current order-entry form.
func (b *Book) Form() OrderForm {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.form
}

// SetForm replaces the editable form fields unless a submission is in
// flight.
func (b *Book) SetForm(side ledger.Side, price, amount string) {
	b.mu.Lock()
	if !b.form.Busy {
		b.form.Side = side
		b.form.Price = price
		b.form.Amount = amount
	}
	b.mu.Unlock()
}

// setBusy flips the form's busy flag, reporting false if it was already in
// the requested state.
func (b *Book) setBusy(busy bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.form.Busy == busy {
		return false
	}
	b.form.Busy = busy
	return true
}

func (b *Book) clearForm() {
	b.mu.Lock()
	b.form.Price = ""
	b.form.Amount = ""
	b.mu.Unlock()
}

// BookSnapshot is a point-in-time copy of a book mirror for readers.
type BookSnapshot struct {
	ID             ledger.Address
	Meta           ledger.BookMeta
	MetaReady      bool
	Asks           []LevelSnapshot
	Bids           []LevelSnapshot
	Recents        []uint64
	UserBuys       []uint64
	UserSells      []uint64
	UserBuyLevels  map[uint64]uint64
	UserSellLevels map[uint64]uint64
	Form           OrderForm
}

// Snapshot returns a point-in-time copy of the book.
func (b *Book) Snapshot() BookSnapshot {
	b.mu.RLock()
	s := BookSnapshot{
		ID:             b.ID,
		Meta:           b.meta,
		MetaReady:      b.metaReady,
		Recents:        append([]uint64(nil), b.recents...),
		UserBuys:       append([]uint64(nil), b.userBuys...),
		UserSells:      append([]uint64(nil), b.userSells...),
		UserBuyLevels:  make(map[uint64]uint64, len(b.userBuyLevels)),
		UserSellLevels: make(map[uint64]uint64, len(b.userSellLevels)),
		Form:           b.form,
	}
	for p, id := range b.userBuyLevels {
		s.UserBuyLevels[p] = id
	}
	for p, id := range b.userSellLevels {
		s.UserSellLevels[p] = id
	}
	b.mu.RUnlock()

	for _, l := range b.Asks {
		s.Asks = append(s.Asks, l.Snapshot())
	}
	for _, l := range b.Bids {
		s.Bids = append(s.Bids, l.Snapshot())
	}
	return s
}

// BookLedger is the slice of the remote API a book task needs.
type BookLedger interface {
	ledger.BookReader
	ledger.BookWriter
}

// TokenLookup resolves a token mirror by address; false means the token is
// not (yet) tracked by the vault.
type TokenLookup func(ledger.Address) (*Token, bool)

// BookTask keeps one Book mirror current. It owns every slice of the book
// except the per-slot depth (owned by its LevelTasks) and the per-order
// trade lists (owned by OrderTasks it spawns). All fan-out calls of one
// iteration are joined before the iteration's mutations are applied.
type BookTask struct {
	book   *Book
	remote BookLedger
	tokens TokenLookup
	wallet *wallet.Wallet
	bus    *bus.Bus
	waiter *poll.Waiter
	back   poll.Backoff
	limit  uint32
	log    *zap.Logger

	askTasks []*LevelTask
	bidTasks []*LevelTask

	// followed tracks which orders already have an OrderTask; only the
	// task goroutine touches it.
	followed map[uint64]struct{}
}

// NewBookTask creates a task owning the given book mirror.
func NewBookTask(book *Book, remote BookLedger, tokens TokenLookup, w *wallet.Wallet, b *bus.Bus, back poll.Backoff, limit uint32, log *zap.Logger) *BookTask {
	t := &BookTask{
		book:     book,
		remote:   remote,
		tokens:   tokens,
		wallet:   w,
		bus:      b,
		waiter:   poll.NewWaiter(b.SubscribeRefresh()),
		back:     back,
		limit:    limit,
		log:      log,
		followed: make(map[uint64]struct{}),
	}
	for _, l := range book.Asks {
		t.askTasks = append(t.askTasks, NewLevelTask(l, ledger.SideSell, book.ID, remote, book.Orders, b, back, limit, log))
	}
	for _, l := range book.Bids {
		t.bidTasks = append(t.bidTasks, NewLevelTask(l, ledger.SideBuy, book.ID, remote, book.Orders, b, back, limit, log))
	}
	return t
}

// Book returns the mirror this task owns.
func (t *BookTask) Book() *Book { return t.book }

// Run fetches the book's static parameters (fatal on failure), starts the
// level tasks, and polls until ctx is cancelled.
func (t *BookTask) Run(ctx context.Context) error {
	meta, err := t.remote.BookMeta(ctx, t.book.ID)
	if err != nil {
		err = fmt.Errorf("book %s metadata: %w", t.book.ID, err)
		t.bus.Error("book metadata", err)
		return err
	}
	t.book.setMeta(meta)
	t.bus.Render()

	for _, lt := range t.askTasks {
		go lt.Run(ctx)
	}
	for _, lt := range t.bidTasks {
		go lt.Run(ctx)
	}

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
			return nil
		}
	}
}

// pollOnce runs the book's sub-polls in order. Each sub-poll recovers its
// own transient errors (logged, counted as no change); the iteration is
// changed if any sub-poll observed a change.
func (t *BookTask) pollOnce(ctx context.Context) bool {
	changed := false

	t.assignLevels(ctx)

	if account, ok := t.wallet.Account(); ok {
		if t.syncUserLevels(ctx, account) {
			changed = true
		}
		if t.syncUserOrders(ctx, account) {
			changed = true
		}
	}

	if t.hydrateOrders(ctx) {
		changed = true
	}
	if t.syncRecents(ctx) {
		changed = true
	}
	if t.hydrateTrades(ctx) {
		changed = true
	}
	if t.syncOrderStates(ctx) {
		changed = true
	}
	return changed
}

// assignLevels fetches both best-price rings concurrently, joins them, and
// hands each depth slot its desired tier. Slots beyond the returned depth
// are emptied.
func (t *BookTask) assignLevels(ctx context.Context) {
	var (
		wg     sync.WaitGroup
		asks   []uint64
		bids   []uint64
		askErr error
		bidErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		asks, askErr = t.remote.AskPrices(ctx, t.book.ID, ledger.Page{Limit: ledger.Limit(uint32(len(t.askTasks)))})
	}()
	go func() {
		defer wg.Done()
		bids, bidErr = t.remote.BidPrices(ctx, t.book.ID, ledger.Page{Limit: ledger.Limit(uint32(len(t.bidTasks)))})
	}()
	wg.Wait()

	if askErr != nil || bidErr != nil {
		if ctx.Err() == nil {
			t.log.Warn("best prices poll failed",
				zap.Stringer("book", t.book.ID),
				zap.NamedError("asks", askErr),
				zap.NamedError("bids", bidErr))
		}
		return
	}

	for i, lt := range t.askTasks {
		if i < len(asks) {
			lt.SetPrice(asks[i])
		} else {
			lt.SetPrice(0)
		}
	}
	for i, lt := range t.bidTasks {
		if i < len(bids) {
			lt.SetPrice(bids[i])
		} else {
			lt.SetPrice(0)
		}
	}
}

// syncUserLevels rebuilds the session account's price->order index for both
// sides, paginating from an empty cursor each iteration and comparing the
// rebuilt map against the mirror.
func (t *BookTask) syncUserLevels(ctx context.Context, account ledger.Account) bool {
	changed := false
	for _, side := range []ledger.Side{ledger.SideBuy, ledger.SideSell} {
		levels, err := t.fetchUserLevels(ctx, side, account)
		if err != nil {
			if ctx.Err() == nil {
				t.log.Warn("user levels poll failed",
					zap.Stringer("book", t.book.ID),
					zap.Stringer("side", side), zap.Error(err))
			}
			continue
		}

		t.book.mu.Lock()
		prev := t.book.userBuyLevels
		if side == ledger.SideSell {
			prev = t.book.userSellLevels
		}
		if !poll.MapsEqual(prev, levels) {
			changed = true
		}
		if side == ledger.SideBuy {
			t.book.userBuyLevels = levels
		} else {
			t.book.userSellLevels = levels
		}
		t.book.mu.Unlock()
	}
	return changed
}

func (t *BookTask) fetchUserLevels(ctx context.Context, side ledger.Side, account ledger.Account) (map[uint64]uint64, error) {
	levels := make(map[uint64]uint64)
	page := ledger.Page{Limit: ledger.Limit(t.limit)}
	for {
		entries, err := t.remote.UserLevels(ctx, t.book.ID, side, account, page)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return levels, nil
		}
		page.After = ledger.After(entries[len(entries)-1].Price)
		for _, e := range entries {
			levels[e.Price] = e.OrderID
			t.book.Orders.Ensure(e.OrderID)
		}
	}
}

// syncUserOrders extends the session account's open-order lists. The lists
// are append-only: pagination resumes from the last known ID, and an
// identity-set lookup deduplicates re-served IDs.
func (t *BookTask) syncUserOrders(ctx context.Context, account ledger.Account) bool {
	changed := false
	for _, side := range []ledger.Side{ledger.SideBuy, ledger.SideSell} {
		t.book.mu.RLock()
		list := t.book.userBuys
		if side == ledger.SideSell {
			list = t.book.userSells
		}
		var after *uint64
		if len(list) > 0 {
			after = ledger.After(list[len(list)-1])
		}
		t.book.mu.RUnlock()

		var fresh []uint64
		page := ledger.Page{After: after, Limit: ledger.Limit(t.limit)}
		for {
			ids, err := t.remote.UserOrders(ctx, t.book.ID, side, account, page)
			if err != nil {
				if ctx.Err() == nil {
					t.log.Warn("user orders poll failed",
						zap.Stringer("book", t.book.ID),
						zap.Stringer("side", side), zap.Error(err))
				}
				fresh = nil
				break
			}
			if len(ids) == 0 {
				break
			}
			page.After = ledger.After(ids[len(ids)-1])
			fresh = append(fresh, ids...)
		}
		if len(fresh) == 0 {
			continue
		}

		t.book.mu.Lock()
		set := t.book.userBuySet
		if side == ledger.SideSell {
			set = t.book.userSellSet
		}
		for _, id := range fresh {
			if _, dup := set[id]; dup {
				continue
			}
			set[id] = struct{}{}
			if side == ledger.SideBuy {
				t.book.userBuys = append(t.book.userBuys, id)
			} else {
				t.book.userSells = append(t.book.userSells, id)
			}
			t.book.Orders.Ensure(id)
			changed = true
		}
		t.book.mu.Unlock()
	}
	return changed
}

// hydrateOrders fetches the immutable facts for every newly-discovered
// order in one batched call and starts a trade-list follower per order.
func (t *BookTask) hydrateOrders(ctx context.Context) bool {
	ids := t.book.Orders.TakePending()
	if len(ids) == 0 {
		return false
	}
	facts, err := t.remote.OrderFacts(ctx, t.book.ID, ids)
	if err != nil {
		t.book.Orders.Requeue(ids)
		if ctx.Err() == nil {
			t.log.Warn("order hydration failed",
				zap.Stringer("book", t.book.ID),
				zap.Int("count", len(ids)), zap.Error(err))
		}
		return false
	}

	for _, f := range facts {
		o, ok := t.book.Orders.Get(f.ID)
		if !ok {
			continue
		}
		o.applyFact(f)
		if _, dup := t.followed[f.ID]; !dup {
			t.followed[f.ID] = struct{}{}
			ot := NewOrderTask(o, t.book.ID, t.remote, t.book.Trades, t.bus, t.back, t.limit, t.log)
			go ot.Run(ctx)
		}
	}
	return len(facts) > 0
}

// syncRecents refreshes the fixed-size ring of most-recent trade IDs. The
// comparison is slot-wise, not set-wise: ring position matters for display.
func (t *BookTask) syncRecents(ctx context.Context) bool {
	t.book.mu.RLock()
	size := len(t.book.recents)
	t.book.mu.RUnlock()
	if size == 0 {
		return false
	}

	ids, err := t.remote.RecentTrades(ctx, t.book.ID, uint32(size))
	if err != nil {
		if ctx.Err() == nil {
			t.log.Warn("recent trades poll failed",
				zap.Stringer("book", t.book.ID), zap.Error(err))
		}
		return false
	}

	ring := make([]uint64, size)
	for i := 0; i < size && i < len(ids); i++ {
		ring[i] = ids[i]
		t.book.Trades.Ensure(ids[i])
	}

	t.book.mu.Lock()
	changed := false
	for i := range ring {
		if t.book.recents[i] != ring[i] {
			changed = true
			break
		}
	}
	t.book.recents = ring
	t.book.mu.Unlock()
	return changed
}

// hydrateTrades fetches the facts for every newly-discovered trade in one
// batched call.
func (t *BookTask) hydrateTrades(ctx context.Context) bool {
	ids := t.book.Trades.TakePending()
	if len(ids) == 0 {
		return false
	}
	facts, err := t.remote.TradeFacts(ctx, t.book.ID, ids)
	if err != nil {
		t.book.Trades.Requeue(ids)
		if ctx.Err() == nil {
			t.log.Warn("trade hydration failed",
				zap.Stringer("book", t.book.ID),
				zap.Int("count", len(ids)), zap.Error(err))
		}
		return false
	}

	for _, f := range facts {
		if tr, ok := t.book.Trades.Get(f.ID); ok {
			tr.applyFact(f)
		}
	}
	return len(facts) > 0
}

// syncOrderStates re-fetches the mutable fields of every tracked order,
// diffing each field individually.
func (t *BookTask) syncOrderStates(ctx context.Context) bool {
	ids := t.book.Orders.IDs()
	if len(ids) == 0 {
		return false
	}
	states, err := t.remote.OrderStates(ctx, t.book.ID, ids)
	if err != nil {
		if ctx.Err() == nil {
			t.log.Warn("order states poll failed",
				zap.Stringer("book", t.book.ID),
				zap.Int("count", len(ids)), zap.Error(err))
		}
		return false
	}

	changed := false
	for _, s := range states {
		if o, ok := t.book.Orders.Get(s.ID); ok {
			if o.applyState(s) {
				changed = true
			}
		}
	}
	return changed
}

// Open validates the order-entry form and submits it. Validation failures
// are surfaced without any network call; a remote rejection is surfaced
// verbatim and leaves the form fields intact for resubmission. On success
// the form is cleared and a refresh is broadcast.
func (t *BookTask) Open(ctx context.Context) error {
	account, ok := t.wallet.Account()
	if !ok {
		t.bus.Error("open order", ErrNoAccount)
		return ErrNoAccount
	}

	meta, ready := t.book.Meta()
	if !ready {
		t.bus.Error("open order", ErrNotReady)
		return ErrNotReady
	}
	baseTok, okBase := t.tokens(meta.Base)
	quoteTok, okQuote := t.tokens(meta.Quote)
	if !okBase || !okQuote {
		t.bus.Error("open order", ErrNotReady)
		return ErrNotReady
	}

	form := t.book.Form()
	price, err := quoteTok.Parse(form.Price)
	if err == nil && price == 0 {
		err = ErrZeroPrice
	}
	if err != nil {
		t.bus.Error("open order", err)
		return err
	}
	amount, err := baseTok.Parse(form.Amount)
	if err == nil && amount == 0 {
		err = ErrZeroAmount
	}
	if err != nil {
		t.bus.Error("open order", err)
		return err
	}

	if !t.book.setBusy(true) {
		return ErrFormBusy
	}
	defer t.book.setBusy(false)

	receipt, err := t.remote.Open(ctx, t.book.ID, account, form.Side, price, amount)
	if err != nil {
		t.bus.Error("open order", err)
		return err
	}

	t.book.clearForm()
	t.bus.Success("order opened", fmt.Sprintf("settled in block %d", receipt))
	t.bus.Refresh()
	return nil
}

// CloseOrders cancels one or more of the session account's orders. On
// success a refresh is broadcast instead of waiting for the next natural
// poll.
func (t *BookTask) CloseOrders(ctx context.Context, ids []uint64) error {
	account, ok := t.wallet.Account()
	if !ok {
		t.bus.Error("close order", ErrNoAccount)
		return ErrNoAccount
	}
	if len(ids) == 0 {
		return nil
	}

	receipt, err := t.remote.Close(ctx, t.book.ID, account, ids)
	if err != nil {
		t.bus.Error("close order", err)
		return err
	}

	t.bus.Success("order closed", fmt.Sprintf("settled in block %d", receipt))
	t.bus.Refresh()
	return nil
}
