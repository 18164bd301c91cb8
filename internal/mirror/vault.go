package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/argus-terminal/argus/internal/bus"
	"github.com/argus-terminal/argus/internal/ledger"
	"github.com/argus-terminal/argus/internal/poll"
	"github.com/argus-terminal/argus/internal/wallet"
)

// Balance-operation validation failures, surfaced before any network call.
var (
	ErrUnknownToken    = errors.New("token is not tracked by the vault")
	ErrEmptyRecipient  = errors.New("recipient is required")
	ErrBadRecipient    = errors.New("recipient is not a valid address")
	ErrNothingToMirror = errors.New("vault hosts no tokens or books")
)

// BalanceOp selects which mutating operation a balance form drives.
type BalanceOp string

const (
	OpDeposit  BalanceOp = "deposit"
	OpWithdraw BalanceOp = "withdraw"
	OpTransfer BalanceOp = "transfer"
)

// BalanceForm is the mutable deposit/withdraw/transfer input carried per
// vault token. A failed submission leaves Amount and Recipient untouched.
type BalanceForm struct {
	Op        BalanceOp
	Amount    string
	Recipient string
	Busy      bool
}

// VaultToken is one tradable token as the vault sees it: the token mirror
// itself plus the vault-held unlocked balance, the withdrawal fee, and the
// balance-operation form.
type VaultToken struct {
	Token         *Token
	WithdrawalFee uint64
	Balance       uint64
	Form          BalanceForm
}

// VaultTokenSnapshot is a point-in-time copy of a vault token.
type VaultTokenSnapshot struct {
	Token         TokenSnapshot
	WithdrawalFee uint64
	Balance       uint64
	Form          BalanceForm
}

// Vault mirrors the vault: the registry of tradable tokens and hosted
// books, and the session account's unlocked balance per token.
type Vault struct {
	Account ledger.Account // the vault itself, as allowance spender

	mu     sync.RWMutex
	order  []ledger.Address // token iteration order, as discovered
	tokens map[ledger.Address]*VaultToken
	books  map[ledger.Address]*Book
}

// NewVault creates an empty vault mirror. The vault address doubles as the
// allowance spender account for every token approval.
func NewVault(vault ledger.Address) *Vault {
	return &Vault{
		Account: ledger.Account{Owner: vault},
		tokens:  make(map[ledger.Address]*VaultToken),
		books:   make(map[ledger.Address]*Book),
	}
}

// Token returns the vault's mirror of the given token.
func (v *Vault) Token(id ledger.Address) (*Token, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	vt, ok := v.tokens[id]
	if !ok {
		return nil, false
	}
	return vt.Token, true
}

// Book returns the vault's mirror of the given book.
func (v *Vault) Book(id ledger.Address) (*Book, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	b, ok := v.books[id]
	return b, ok
}

// TokenIDs returns the tracked token addresses in discovery order.
func (v *Vault) TokenIDs() []ledger.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]ledger.Address(nil), v.order...)
}

// BookIDs returns the tracked book addresses.
func (v *Vault) BookIDs() []ledger.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]ledger.Address, 0, len(v.books))
	for id := range v.books {
		ids = append(ids, id)
	}
	return ids
}

// TokenSnapshots returns point-in-time copies of every vault token in
// discovery order.
func (v *Vault) TokenSnapshots() []VaultTokenSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]VaultTokenSnapshot, 0, len(v.order))
	for _, id := range v.order {
		vt := v.tokens[id]
		out = append(out, VaultTokenSnapshot{
			Token:         vt.Token.Snapshot(),
			WithdrawalFee: vt.WithdrawalFee,
			Balance:       vt.Balance,
			Form:          vt.Form,
		})
	}
	return out
}

// SetBalanceForm replaces a token's editable form fields unless a
// submission is in flight.
func (v *Vault) SetBalanceForm(token ledger.Address, op BalanceOp, amount, recipient string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	vt, ok := v.tokens[token]
	if !ok {
		return ErrUnknownToken
	}
	if !vt.Form.Busy {
		vt.Form.Op = op
		vt.Form.Amount = amount
		vt.Form.Recipient = recipient
	}
	return nil
}

// VaultLedger is the full remote surface the sync engine needs.
type VaultLedger interface {
	ledger.Reader
	ledger.Writer
}

// VaultTask discovers the vault's tokens and books once at startup, spawns
// one TokenTask and one BookTask per entity, and then keeps the unlocked
// balances current. It also hosts the three mutating balance operations.
type VaultTask struct {
	vault  *Vault
	remote VaultLedger
	wallet *wallet.Wallet
	bus    *bus.Bus
	waiter *poll.Waiter
	back   poll.Backoff
	limit  uint32
	depth  int
	ring   int
	log    *zap.Logger

	taskMu     sync.RWMutex
	tokenTasks map[ledger.Address]*TokenTask
	bookTasks  map[ledger.Address]*BookTask

	nowFunc func() time.Time
}

// NewVaultTask creates the root sync task.
func NewVaultTask(vault *Vault, remote VaultLedger, w *wallet.Wallet, b *bus.Bus, back poll.Backoff, limit uint32, depth, ring int, log *zap.Logger) *VaultTask {
	return &VaultTask{
		vault:      vault,
		remote:     remote,
		wallet:     w,
		bus:        b,
		waiter:     poll.NewWaiter(b.SubscribeRefresh()),
		back:       back,
		limit:      limit,
		depth:      depth,
		ring:       ring,
		log:        log,
		tokenTasks: make(map[ledger.Address]*TokenTask),
		bookTasks:  make(map[ledger.Address]*BookTask),
	}
}

// Vault returns the mirror this task owns.
func (t *VaultTask) Vault() *Vault { return t.vault }

// BookTask returns the aggregate task for the given book, for the API
// surface to route open/close calls.
func (t *VaultTask) BookTask(id ledger.Address) (*BookTask, bool) {
	t.taskMu.RLock()
	defer t.taskMu.RUnlock()
	bt, ok := t.bookTasks[id]
	return bt, ok
}

// Run discovers the vault's entities (fatal on failure — with no tokens or
// books, nothing can function), spawns their tasks, fetches withdrawal fees
// once, and then polls unlocked balances until ctx is cancelled.
func (t *VaultTask) Run(ctx context.Context) error {
	if err := t.discover(ctx); err != nil {
		t.bus.Error("vault discovery", err)
		return err
	}

	for _, tt := range t.tokenTasks {
		go func(tt *TokenTask) {
			if err := tt.Run(ctx); err != nil && ctx.Err() == nil {
				t.log.Error("token task stopped", zap.Error(err))
			}
		}(tt)
	}
	for _, bt := range t.bookTasks {
		go func(bt *BookTask) {
			if err := bt.Run(ctx); err != nil && ctx.Err() == nil {
				t.log.Error("book task stopped", zap.Error(err))
			}
		}(bt)
	}

	if err := t.fetchWithdrawalFees(ctx); err != nil {
		err = fmt.Errorf("withdrawal fees: %w", err)
		t.bus.Error("vault discovery", err)
		return err
	}
	t.bus.Render()

	for {
		// Anonymous session: the balance loop is exited entirely; a
		// refresh (login) restarts it.
		if _, ok := t.wallet.Account(); !ok {
			switch t.waiter.Wait(ctx, t.back.Ceiling) {
			case poll.Stopped:
				return nil
			default:
				continue
			}
		}
		if done := t.balanceLoop(ctx); done {
			return nil
		}
	}
}

// discover fetches the token and book registries and builds their mirrors
// and tasks.
func (t *VaultTask) discover(ctx context.Context) error {
	tokens, err := t.remote.Tokens(ctx, ledger.Page{})
	if err != nil {
		return fmt.Errorf("vault tokens: %w", err)
	}
	books, err := t.remote.Books(ctx, ledger.Page{})
	if err != nil {
		return fmt.Errorf("vault books: %w", err)
	}
	if len(tokens) == 0 || len(books) == 0 {
		return ErrNothingToMirror
	}

	// The API surface may already be serving; BookTask readers take taskMu.
	t.taskMu.Lock()
	t.vault.mu.Lock()
	for _, id := range tokens {
		if _, dup := t.vault.tokens[id]; dup {
			continue
		}
		token := NewToken(id)
		t.vault.tokens[id] = &VaultToken{Token: token, Form: BalanceForm{Op: OpDeposit}}
		t.vault.order = append(t.vault.order, id)
		t.tokenTasks[id] = NewTokenTask(token, t.remote, t.vault.Account, t.wallet, t.bus, t.back, t.log)
	}
	for _, id := range books {
		if _, dup := t.vault.books[id]; dup {
			continue
		}
		book := NewBook(id, t.depth, t.ring)
		t.vault.books[id] = book
		t.bookTasks[id] = NewBookTask(book, t.remote, t.vault.Token, t.wallet, t.bus, t.back, t.limit, t.log)
	}
	t.vault.mu.Unlock()
	t.taskMu.Unlock()

	t.log.Info("vault discovered",
		zap.Int("tokens", len(tokens)), zap.Int("books", len(books)))
	return nil
}

func (t *VaultTask) fetchWithdrawalFees(ctx context.Context) error {
	ids := t.vault.TokenIDs()
	fees, err := t.remote.WithdrawalFees(ctx, ids)
	if err != nil {
		return err
	}
	t.vault.mu.Lock()
	for i, id := range ids {
		if i < len(fees) && fees[i] != nil {
			t.vault.tokens[id].WithdrawalFee = *fees[i]
		}
	}
	t.vault.mu.Unlock()
	return nil
}

// balanceLoop polls unlocked balances while a session account is present.
// It returns true only when ctx ends.
func (t *VaultTask) balanceLoop(ctx context.Context) bool {
	delay := t.back.Floor
	for {
		account, ok := t.wallet.Account()
		if !ok {
			return false
		}

		changed, err := t.pollBalances(ctx, account)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			t.log.Warn("unlocked balances poll failed", zap.Error(err))
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
			return true
		}
	}
}

func (t *VaultTask) pollBalances(ctx context.Context, account ledger.Account) (bool, error) {
	ids := t.vault.TokenIDs()
	queries := make([]ledger.BalanceQuery, len(ids))
	for i, id := range ids {
		queries[i] = ledger.BalanceQuery{Token: id, Account: account}
	}
	balances, err := t.remote.UnlockedBalances(ctx, queries)
	if err != nil {
		return false, err
	}
	if len(balances) != len(ids) {
		return false, fmt.Errorf("unlocked balances: got %d for %d tokens", len(balances), len(ids))
	}

	changed := false
	t.vault.mu.Lock()
	for i, id := range ids {
		vt := t.vault.tokens[id]
		if vt.Balance != balances[i] {
			vt.Balance = balances[i]
			changed = true
		}
	}
	t.vault.mu.Unlock()
	return changed, nil
}

// beginOp validates the shared preconditions of a balance operation and
// marks the token's form busy. It returns the parsed amount in base units.
func (t *VaultTask) beginOp(title string, token ledger.Address) (*VaultToken, ledger.Account, uint64, error) {
	account, ok := t.wallet.Account()
	if !ok {
		t.bus.Error(title, ErrNoAccount)
		return nil, ledger.Account{}, 0, ErrNoAccount
	}

	t.vault.mu.Lock()
	vt, ok := t.vault.tokens[token]
	if !ok {
		t.vault.mu.Unlock()
		t.bus.Error(title, ErrUnknownToken)
		return nil, ledger.Account{}, 0, ErrUnknownToken
	}
	if vt.Form.Busy {
		t.vault.mu.Unlock()
		return nil, ledger.Account{}, 0, ErrFormBusy
	}
	amountText := vt.Form.Amount
	t.vault.mu.Unlock()

	amount, err := vt.Token.Parse(amountText)
	if err == nil && amount == 0 {
		err = ErrZeroAmount
	}
	if err != nil {
		t.bus.Error(title, err)
		return nil, ledger.Account{}, 0, err
	}

	t.vault.mu.Lock()
	vt.Form.Busy = true
	t.vault.mu.Unlock()
	return vt, account, amount, nil
}

func (t *VaultTask) endOp(vt *VaultToken, clearAmount bool) {
	t.vault.mu.Lock()
	vt.Form.Busy = false
	if clearAmount {
		vt.Form.Amount = ""
	}
	t.vault.mu.Unlock()
}

// Deposit moves wallet funds into the vault. If the current allowance does
// not cover the amount or has expired, an approval for exactly the amount
// is submitted first and awaited before the deposit — the deposit call
// reads the allowance, not a separate balance check. On success the input
// amount is cleared and a refresh is broadcast. Nothing is retried.
func (t *VaultTask) Deposit(ctx context.Context, token ledger.Address) error {
	vt, account, amount, err := t.beginOp("deposit", token)
	if err != nil {
		return err
	}
	ok := false
	defer func() { t.endOp(vt, ok) }()

	if !vt.Token.AllowanceCovers(amount, t.now()) {
		if _, err := t.remote.Approve(ctx, token, account, t.vault.Account, amount); err != nil {
			t.bus.Error("deposit approval", err)
			return err
		}
	}

	receipt, err := t.remote.Deposit(ctx, token, account, amount)
	if err != nil {
		t.bus.Error("deposit", err)
		return err
	}

	ok = true
	t.bus.Success("deposit", fmt.Sprintf("settled in block %d", receipt))
	t.bus.Refresh()
	return nil
}

// Withdraw moves vault-held funds back to the wallet. No approval phase:
// the vault already holds the funds. On success a refresh is broadcast.
func (t *VaultTask) Withdraw(ctx context.Context, token ledger.Address) error {
	vt, account, amount, err := t.beginOp("withdraw", token)
	if err != nil {
		return err
	}
	ok := false
	defer func() { t.endOp(vt, ok) }()

	receipt, err := t.remote.Withdraw(ctx, token, account, amount)
	if err != nil {
		t.bus.Error("withdraw", err)
		return err
	}

	ok = true
	t.bus.Success("withdraw", fmt.Sprintf("settled in block %d", receipt))
	t.bus.Refresh()
	return nil
}

// Transfer sends wallet funds to another account. The recipient must be a
// well-formed address; validation failures are surfaced before any network
// call. On success a refresh is broadcast.
func (t *VaultTask) Transfer(ctx context.Context, token ledger.Address) error {
	t.vault.mu.RLock()
	vt, ok := t.vault.tokens[token]
	var recipientText string
	if ok {
		recipientText = vt.Form.Recipient
	}
	t.vault.mu.RUnlock()
	if !ok {
		t.bus.Error("transfer", ErrUnknownToken)
		return ErrUnknownToken
	}

	if recipientText == "" {
		t.bus.Error("transfer", ErrEmptyRecipient)
		return ErrEmptyRecipient
	}
	if !common.IsHexAddress(recipientText) {
		t.bus.Error("transfer", fmt.Errorf("%w: %q", ErrBadRecipient, recipientText))
		return ErrBadRecipient
	}
	to := ledger.Account{Owner: common.HexToAddress(recipientText)}

	vt, account, amount, err := t.beginOp("transfer", token)
	if err != nil {
		return err
	}
	ok = false
	defer func() { t.endOp(vt, ok) }()

	receipt, err := t.remote.Transfer(ctx, token, account, to, amount)
	if err != nil {
		t.bus.Error("transfer", err)
		return err
	}

	ok = true
	t.bus.Success("transfer", fmt.Sprintf("settled in block %d", receipt))
	t.bus.Refresh()
	return nil
}

func (t *VaultTask) now() time.Time {
	if t.nowFunc != nil {
		return t.nowFunc()
	}
	return time.Now()
}
