package mirror

import (
	"context"
	"sync"

	"github.com/argus-terminal/argus/internal/ledger"
)

// fakeLedger is a programmable in-memory ledger. Every method delegates to
// an optional function field; unset fields return zero values so each test
// only wires the calls it cares about. Write calls are recorded.
type fakeLedger struct {
	mu    sync.Mutex
	calls []string

	tokenMetaFn    func(token ledger.Address) (ledger.TokenMeta, error)
	balanceFn      func(token ledger.Address, account ledger.Account) (uint64, error)
	allowanceFn    func(token ledger.Address, account, spender ledger.Account) (ledger.Allowance, error)
	bookMetaFn     func(book ledger.Address) (ledger.BookMeta, error)
	askPricesFn    func(book ledger.Address, page ledger.Page) ([]uint64, error)
	bidPricesFn    func(book ledger.Address, page ledger.Page) ([]uint64, error)
	ordersAtFn     func(book ledger.Address, side ledger.Side, price uint64, page ledger.Page) ([]uint64, error)
	userLevelsFn   func(book ledger.Address, side ledger.Side, account ledger.Account, page ledger.Page) ([]ledger.LevelEntry, error)
	userOrdersFn   func(book ledger.Address, side ledger.Side, account ledger.Account, page ledger.Page) ([]uint64, error)
	orderFactsFn   func(book ledger.Address, ids []uint64) ([]ledger.OrderFact, error)
	orderStatesFn  func(book ledger.Address, ids []uint64) ([]ledger.OrderState, error)
	orderTradesFn  func(book ledger.Address, id uint64, page ledger.Page) ([]uint64, error)
	recentTradesFn func(book ledger.Address, limit uint32) ([]uint64, error)
	tradeFactsFn   func(book ledger.Address, ids []uint64) ([]ledger.TradeFact, error)
	tokensFn       func(page ledger.Page) ([]ledger.Address, error)
	booksFn        func(page ledger.Page) ([]ledger.Address, error)
	withdrawalsFn  func(tokens []ledger.Address) ([]*uint64, error)
	unlockedFn     func(queries []ledger.BalanceQuery) ([]uint64, error)

	approveFn  func(token ledger.Address, from, spender ledger.Account, amount uint64) (ledger.Receipt, error)
	transferFn func(token ledger.Address, from, to ledger.Account, amount uint64) (ledger.Receipt, error)
	openFn     func(book ledger.Address, from ledger.Account, side ledger.Side, price, amount uint64) (ledger.Receipt, error)
	closeFn    func(book ledger.Address, from ledger.Account, ids []uint64) (ledger.Receipt, error)
	depositFn  func(token ledger.Address, from ledger.Account, amount uint64) (ledger.Receipt, error)
	withdrawFn func(token ledger.Address, from ledger.Account, amount uint64) (ledger.Receipt, error)
}

var _ VaultLedger = (*fakeLedger)(nil)

func (f *fakeLedger) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeLedger) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeLedger) TokenMeta(_ context.Context, token ledger.Address) (ledger.TokenMeta, error) {
	if f.tokenMetaFn != nil {
		return f.tokenMetaFn(token)
	}
	return ledger.TokenMeta{}, nil
}

func (f *fakeLedger) Balance(_ context.Context, token ledger.Address, account ledger.Account) (uint64, error) {
	if f.balanceFn != nil {
		return f.balanceFn(token, account)
	}
	return 0, nil
}

func (f *fakeLedger) Allowance(_ context.Context, token ledger.Address, account, spender ledger.Account) (ledger.Allowance, error) {
	if f.allowanceFn != nil {
		return f.allowanceFn(token, account, spender)
	}
	return ledger.Allowance{}, nil
}

func (f *fakeLedger) BookMeta(_ context.Context, book ledger.Address) (ledger.BookMeta, error) {
	if f.bookMetaFn != nil {
		return f.bookMetaFn(book)
	}
	return ledger.BookMeta{}, nil
}

func (f *fakeLedger) AskPrices(_ context.Context, book ledger.Address, page ledger.Page) ([]uint64, error) {
	if f.askPricesFn != nil {
		return f.askPricesFn(book, page)
	}
	return nil, nil
}

func (f *fakeLedger) BidPrices(_ context.Context, book ledger.Address, page ledger.Page) ([]uint64, error) {
	if f.bidPricesFn != nil {
		return f.bidPricesFn(book, page)
	}
	return nil, nil
}

func (f *fakeLedger) OrdersAt(_ context.Context, book ledger.Address, side ledger.Side, price uint64, page ledger.Page) ([]uint64, error) {
	if f.ordersAtFn != nil {
		return f.ordersAtFn(book, side, price, page)
	}
	return nil, nil
}

func (f *fakeLedger) UserLevels(_ context.Context, book ledger.Address, side ledger.Side, account ledger.Account, page ledger.Page) ([]ledger.LevelEntry, error) {
	if f.userLevelsFn != nil {
		return f.userLevelsFn(book, side, account, page)
	}
	return nil, nil
}

func (f *fakeLedger) UserOrders(_ context.Context, book ledger.Address, side ledger.Side, account ledger.Account, page ledger.Page) ([]uint64, error) {
	if f.userOrdersFn != nil {
		return f.userOrdersFn(book, side, account, page)
	}
	return nil, nil
}

func (f *fakeLedger) OrderFacts(_ context.Context, book ledger.Address, ids []uint64) ([]ledger.OrderFact, error) {
	if f.orderFactsFn != nil {
		return f.orderFactsFn(book, ids)
	}
	return nil, nil
}

func (f *fakeLedger) OrderStates(_ context.Context, book ledger.Address, ids []uint64) ([]ledger.OrderState, error) {
	if f.orderStatesFn != nil {
		return f.orderStatesFn(book, ids)
	}
	return nil, nil
}

func (f *fakeLedger) OrderTrades(_ context.Context, book ledger.Address, id uint64, page ledger.Page) ([]uint64, error) {
	if f.orderTradesFn != nil {
		return f.orderTradesFn(book, id, page)
	}
	return nil, nil
}

func (f *fakeLedger) RecentTrades(_ context.Context, book ledger.Address, limit uint32) ([]uint64, error) {
	if f.recentTradesFn != nil {
		return f.recentTradesFn(book, limit)
	}
	return nil, nil
}

func (f *fakeLedger) TradeFacts(_ context.Context, book ledger.Address, ids []uint64) ([]ledger.TradeFact, error) {
	if f.tradeFactsFn != nil {
		return f.tradeFactsFn(book, ids)
	}
	return nil, nil
}

func (f *fakeLedger) Tokens(_ context.Context, page ledger.Page) ([]ledger.Address, error) {
	if f.tokensFn != nil {
		return f.tokensFn(page)
	}
	return nil, nil
}

func (f *fakeLedger) Books(_ context.Context, page ledger.Page) ([]ledger.Address, error) {
	if f.booksFn != nil {
		return f.booksFn(page)
	}
	return nil, nil
}

func (f *fakeLedger) WithdrawalFees(_ context.Context, tokens []ledger.Address) ([]*uint64, error) {
	if f.withdrawalsFn != nil {
		return f.withdrawalsFn(tokens)
	}
	return make([]*uint64, len(tokens)), nil
}

func (f *fakeLedger) UnlockedBalances(_ context.Context, queries []ledger.BalanceQuery) ([]uint64, error) {
	if f.unlockedFn != nil {
		return f.unlockedFn(queries)
	}
	return make([]uint64, len(queries)), nil
}

func (f *fakeLedger) Approve(_ context.Context, token ledger.Address, from, spender ledger.Account, amount uint64) (ledger.Receipt, error) {
	f.record("approve")
	if f.approveFn != nil {
		return f.approveFn(token, from, spender, amount)
	}
	return 1, nil
}

func (f *fakeLedger) Transfer(_ context.Context, token ledger.Address, from, to ledger.Account, amount uint64) (ledger.Receipt, error) {
	f.record("transfer")
	if f.transferFn != nil {
		return f.transferFn(token, from, to, amount)
	}
	return 1, nil
}

func (f *fakeLedger) Open(_ context.Context, book ledger.Address, from ledger.Account, side ledger.Side, price, amount uint64) (ledger.Receipt, error) {
	f.record("open")
	if f.openFn != nil {
		return f.openFn(book, from, side, price, amount)
	}
	return 1, nil
}

func (f *fakeLedger) Close(_ context.Context, book ledger.Address, from ledger.Account, ids []uint64) (ledger.Receipt, error) {
	f.record("close")
	if f.closeFn != nil {
		return f.closeFn(book, from, ids)
	}
	return 1, nil
}

func (f *fakeLedger) Deposit(_ context.Context, token ledger.Address, from ledger.Account, amount uint64) (ledger.Receipt, error) {
	f.record("deposit")
	if f.depositFn != nil {
		return f.depositFn(token, from, amount)
	}
	return 1, nil
}

func (f *fakeLedger) Withdraw(_ context.Context, token ledger.Address, from ledger.Account, amount uint64) (ledger.Receipt, error) {
	f.record("withdraw")
	if f.withdrawFn != nil {
		return f.withdrawFn(token, from, amount)
	}
	return 1, nil
}
