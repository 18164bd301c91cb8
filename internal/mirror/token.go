package mirror

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/argus-terminal/argus/internal/bus"
	"github.com/argus-terminal/argus/internal/ledger"
	"github.com/argus-terminal/argus/internal/poll"
	"github.com/argus-terminal/argus/internal/wallet"
)

// Amount-string parse failures, surfaced before any network call.
var (
	ErrAmountSyntax    = errors.New("amount is not a decimal number")
	ErrAmountNegative  = errors.New("amount must be positive")
	ErrAmountPrecision = errors.New("amount has more fractional digits than the token allows")
	ErrAmountRange     = errors.New("amount does not fit in the token's base units")
)

// Token mirrors one token's display metadata and the session account's
// balance and vault allowance. Metadata is fetched once and never changes;
// balance and allowance are overwritten by every successful poll.
type Token struct {
	ID ledger.Address

	mu        sync.RWMutex
	meta      ledger.TokenMeta
	metaReady bool

	balance         uint64
	allowance       uint64
	allowanceExpiry *time.Time
}

// NewToken creates an empty token mirror.
func NewToken(id ledger.Address) *Token {
	return &Token{ID: id}
}

// TokenSnapshot is a consistent read of a token mirror.
type TokenSnapshot struct {
	ID                 ledger.Address
	Name               string
	Symbol             string
	Decimals           uint8
	Fee                uint64
	Balance            uint64
	Allowance          uint64
	AllowanceExpiresAt *time.Time
}

// Snapshot returns a point-in-time copy of the mirror.
func (t *Token) Snapshot() TokenSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TokenSnapshot{
		ID:                 t.ID,
		Name:               t.meta.Name,
		Symbol:             t.meta.Symbol,
		Decimals:           t.meta.Decimals,
		Fee:                t.meta.Fee,
		Balance:            t.balance,
		Allowance:          t.allowance,
		AllowanceExpiresAt: t.allowanceExpiry,
	}
}

// Decimals returns the token's declared precision. Zero until metadata has
// been fetched.
func (t *Token) Decimals() uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta.Decimals
}

// Symbol returns the token's display symbol.
func (t *Token) Symbol() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta.Symbol
}

func (t *Token) setMeta(meta ledger.TokenMeta) {
	t.mu.Lock()
	t.meta = meta
	t.metaReady = true
	t.mu.Unlock()
}

// applyAccount overwrites balance and allowance, reporting whether anything
// differed from the previous snapshot.
func (t *Token) applyAccount(balance uint64, allowance ledger.Allowance) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := t.balance != balance ||
		t.allowance != allowance.Amount ||
		!equalTime(t.allowanceExpiry, allowance.ExpiresAt)

	t.balance = balance
	t.allowance = allowance.Amount
	t.allowanceExpiry = allowance.ExpiresAt
	return changed
}

// AllowanceCovers reports whether the current vault allowance covers amount
// and has not expired at now.
func (t *Token) AllowanceCovers(amount uint64, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.allowance < amount {
		return false
	}
	if t.allowanceExpiry != nil && !t.allowanceExpiry.After(now) {
		return false
	}
	return true
}

// Display converts a raw base-unit quantity to its decimal string at the
// token's declared precision. Display and Parse round-trip exactly.
func (t *Token) Display(raw uint64) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(t.Decimals()))
	return d.String()
}

// Parse converts a decimal string to raw base units. It rejects negative
// values, malformed input, more fractional digits than the token's
// precision, and values outside the base-unit range.
func (t *Token) Parse(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrAmountSyntax, s)
	}
	if d.IsNegative() {
		return 0, ErrAmountNegative
	}
	shifted := d.Shift(int32(t.Decimals()))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %q at %d decimals", ErrAmountPrecision, s, t.Decimals())
	}
	bi := shifted.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: %q", ErrAmountRange, s)
	}
	return bi.Uint64(), nil
}

// Price returns how many quote units one whole base unit costs, as a decimal
// at this token's precision. The receiver is the quote token of the pair.
func (t *Token) Price(quoteRaw, baseRaw uint64) decimal.Decimal {
	if baseRaw == 0 {
		return decimal.Zero
	}
	quote := decimal.NewFromBigInt(new(big.Int).SetUint64(quoteRaw), 0)
	base := decimal.NewFromBigInt(new(big.Int).SetUint64(baseRaw), 0)
	return quote.Div(base).Round(int32(t.Decimals()))
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// TokenLedger is the slice of the remote API a token task needs.
type TokenLedger interface {
	ledger.TokenReader
	ledger.TokenWriter
}

// TokenTask keeps one Token mirror current. Metadata fetch failure at start
// is fatal for the token: the task surfaces the error and stops without
// retrying. Steady-state polls fetch balance and allowance concurrently,
// join both, and only then mutate the mirror.
type TokenTask struct {
	token  *Token
	remote TokenLedger
	vault  ledger.Account // allowance spender
	wallet *wallet.Wallet
	bus    *bus.Bus
	waiter *poll.Waiter
	back   poll.Backoff
	log    *zap.Logger

	nowFunc func() time.Time
}

// NewTokenTask creates a task owning the given token mirror.
func NewTokenTask(token *Token, remote TokenLedger, vault ledger.Account, w *wallet.Wallet, b *bus.Bus, back poll.Backoff, log *zap.Logger) *TokenTask {
	return &TokenTask{
		token:   token,
		remote:  remote,
		vault:   vault,
		wallet:  w,
		bus:     b,
		waiter:  poll.NewWaiter(b.SubscribeRefresh()),
		back:    back,
		log:     log,
		nowFunc: time.Now,
	}
}

// Token returns the mirror this task owns.
func (t *TokenTask) Token() *Token { return t.token }

// Run polls until ctx is cancelled. It returns a non-nil error only for a
// fatal metadata failure.
func (t *TokenTask) Run(ctx context.Context) error {
	meta, err := t.remote.TokenMeta(ctx, t.token.ID)
	if err != nil {
		err = fmt.Errorf("token %s metadata: %w", t.token.ID, err)
		t.bus.Error("token metadata", err)
		return err
	}
	t.token.setMeta(meta)
	t.bus.Render()

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

// pollOnce fetches balance and allowance for the session account and applies
// them. An anonymous session or a transient error counts as unchanged.
func (t *TokenTask) pollOnce(ctx context.Context) bool {
	account, ok := t.wallet.Account()
	if !ok {
		return false
	}

	var (
		wg        sync.WaitGroup
		balance   uint64
		allowance ledger.Allowance
		balErr    error
		alwErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		balance, balErr = t.remote.Balance(ctx, t.token.ID, account)
	}()
	go func() {
		defer wg.Done()
		allowance, alwErr = t.remote.Allowance(ctx, t.token.ID, account, t.vault)
	}()
	wg.Wait()

	if balErr != nil || alwErr != nil {
		t.log.Warn("token poll failed",
			zap.Stringer("token", t.token.ID),
			zap.NamedError("balance", balErr),
			zap.NamedError("allowance", alwErr))
		return false
	}
	return t.token.applyAccount(balance, allowance)
}

// Approve passes an allowance approval through to the remote write API. The
// raw result is returned to the caller; no refresh is broadcast here, since
// approvals are normally one phase of a larger operation.
func (t *TokenTask) Approve(ctx context.Context, amount uint64) (ledger.Receipt, error) {
	account, ok := t.wallet.Account()
	if !ok {
		return 0, errors.New("no session account")
	}
	return t.remote.Approve(ctx, t.token.ID, account, t.vault, amount)
}

// Transfer passes a wallet-to-wallet transfer through to the remote write
// API, returning the raw result.
func (t *TokenTask) Transfer(ctx context.Context, amount uint64, to ledger.Account) (ledger.Receipt, error) {
	account, ok := t.wallet.Account()
	if !ok {
		return 0, errors.New("no session account")
	}
	return t.remote.Transfer(ctx, t.token.ID, account, to, amount)
}
