// Package ledger defines the boundary to the remote exchange ledger: the
// paginated read-only query surface the sync tasks poll, and the write
// surface behind the mutating operations. The remote ledger is ground
// truth; nothing here validates business rules on its behalf.
package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies a token, book, vault, or account owner on the ledger.
type Address = common.Address

// Account is an owner address plus an optional subaccount discriminator.
type Account struct {
	Owner      Address
	Subaccount []byte
}

// Side is the direction of an order.
type Side uint8

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Page carries the (cursor_or_empty, limit_or_empty) pair every paginated
// query accepts. A nil After starts from the beginning; a nil Limit leaves
// the page size to the remote side. An empty page marks the end.
type Page struct {
	After *uint64
	Limit *uint32
}

// After builds a cursor from the last element of the previous page.
func After(id uint64) *uint64 { return &id }

// Limit builds a page-size bound.
func Limit(n uint32) *uint32 { return &n }

// TokenMeta is the static display metadata of a token. Decimals defines the
// scaling factor for all human-readable conversions.
type TokenMeta struct {
	Name     string
	Symbol   string
	Decimals uint8
	Fee      uint64
}

// Allowance is a spending approval with an optional expiry.
type Allowance struct {
	Amount    uint64
	ExpiresAt *time.Time
}

// BookMeta is the static parameterisation of a book: its token pair, fee
// numerators over a shared denominator, and the flat close fees.
type BookMeta struct {
	Base          Address
	Quote         Address
	MakerFeeNum   uint64
	TakerFeeNum   uint64
	FeeDenom      uint64
	CloseFeeBase  uint64
	CloseFeeQuote uint64
}

// LevelEntry pairs a price tier with one resident order of the querying
// account, as returned by the user-level index queries.
type LevelEntry struct {
	Price   uint64
	OrderID uint64
}

// OrderFact holds the immutable scalar fields of an order. Every field the
// remote side may omit is a pointer; nil means absent, not zero.
type OrderFact struct {
	ID         uint64
	Side       *Side
	Owner      *Account
	Block      *uint64
	Executions *uint64
	Price      *uint64
	ExpiresAt  *time.Time
	Initial    *uint64
	Subaccount []byte
	CreatedAt  *time.Time
}

// OrderState holds the mutable fields of an order, re-fetched every book
// iteration for all tracked orders.
type OrderState struct {
	ID           uint64
	ClosedAt     *time.Time
	ClosedReason *string
	Locked       *uint64
	Filled       *uint64
}

// TradeFact holds the scalar fields of an executed trade. The sell and buy
// order IDs resolve maker/taker: the smaller ID is the maker.
type TradeFact struct {
	ID             uint64
	SellOrder      *uint64
	BuyOrder       *uint64
	Base           *uint64 // executed base quantity, debited from the seller
	Quote          *uint64 // executed quote quantity, debited from the buyer
	SellFee        *uint64 // fee charged to the sell side, in quote units
	BuyFee         *uint64 // fee charged to the buy side, in base units
	SellExecutedAt *time.Time
	BuyExecutedAt  *time.Time
	CreatedAt      *time.Time
	Block          *uint64
}

// BalanceQuery addresses one (token, account) unlocked-balance cell.
type BalanceQuery struct {
	Token   Address
	Account Account
}

// Receipt is the settlement block reference returned by a successful write.
type Receipt uint64

// TokenReader reads token metadata and per-account balances/allowances.
type TokenReader interface {
	TokenMeta(ctx context.Context, token Address) (TokenMeta, error)
	Balance(ctx context.Context, token Address, account Account) (uint64, error)
	Allowance(ctx context.Context, token Address, account, spender Account) (Allowance, error)
}

// BookReader reads book parameters, depth, orders, and trades. The query
// handle is shared and reentrant: many tasks call it concurrently.
type BookReader interface {
	BookMeta(ctx context.Context, book Address) (BookMeta, error)

	// AskPrices and BidPrices return the best-N price tiers, best first.
	AskPrices(ctx context.Context, book Address, page Page) ([]uint64, error)
	BidPrices(ctx context.Context, book Address, page Page) ([]uint64, error)

	// OrdersAt pages through the order IDs resident at one price tier.
	OrdersAt(ctx context.Context, book Address, side Side, price uint64, page Page) ([]uint64, error)

	// UserLevels pages through the querying account's open price tiers.
	UserLevels(ctx context.Context, book Address, side Side, account Account, page Page) ([]LevelEntry, error)

	// UserOrders pages through the querying account's open order IDs in
	// ascending ID order.
	UserOrders(ctx context.Context, book Address, side Side, account Account, page Page) ([]uint64, error)

	OrderFacts(ctx context.Context, book Address, ids []uint64) ([]OrderFact, error)
	OrderStates(ctx context.Context, book Address, ids []uint64) ([]OrderState, error)

	// OrderTrades pages through an order's append-only trade-ID list.
	OrderTrades(ctx context.Context, book Address, id uint64, page Page) ([]uint64, error)

	// RecentTrades returns up to limit most-recent trade IDs, newest first.
	RecentTrades(ctx context.Context, book Address, limit uint32) ([]uint64, error)

	TradeFacts(ctx context.Context, book Address, ids []uint64) ([]TradeFact, error)
}

// VaultReader reads the vault's entity registry and balances.
type VaultReader interface {
	Tokens(ctx context.Context, page Page) ([]Address, error)
	Books(ctx context.Context, page Page) ([]Address, error)
	WithdrawalFees(ctx context.Context, tokens []Address) ([]*uint64, error)
	UnlockedBalances(ctx context.Context, queries []BalanceQuery) ([]uint64, error)
}

// Reader is the full read-only query surface.
type Reader interface {
	TokenReader
	BookReader
	VaultReader
}

// TokenWriter issues token-ledger mutations on behalf of an account.
type TokenWriter interface {
	Approve(ctx context.Context, token Address, from, spender Account, amount uint64) (Receipt, error)
	Transfer(ctx context.Context, token Address, from, to Account, amount uint64) (Receipt, error)
}

// BookWriter opens and closes orders.
type BookWriter interface {
	Open(ctx context.Context, book Address, from Account, side Side, price, amount uint64) (Receipt, error)
	Close(ctx context.Context, book Address, from Account, ids []uint64) (Receipt, error)
}

// VaultWriter moves funds between the token ledger and the vault.
type VaultWriter interface {
	Deposit(ctx context.Context, token Address, from Account, amount uint64) (Receipt, error)
	Withdraw(ctx context.Context, token Address, from Account, amount uint64) (Receipt, error)
}

// Writer is the full mutating surface. Failures carry a *CallError when the
// remote side rejected the call with a structured reason; they are never
// retried automatically.
type Writer interface {
	TokenWriter
	BookWriter
	VaultWriter
}
