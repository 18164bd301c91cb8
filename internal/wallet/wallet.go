// Package wallet holds the authenticated session account. The login and
// logout UI flows live outside this process; collaborators report the
// outcome here, and every session change broadcasts a refresh so all sync
// tasks resynchronise immediately instead of waiting out their backoff.
package wallet

import (
	"sync"

	"github.com/argus-terminal/argus/internal/bus"
	"github.com/argus-terminal/argus/internal/ledger"
)

// Wallet is the single mutable holder of the session account. Absence of an
// account means anonymous: tasks skip account-scoped polls.
type Wallet struct {
	mu      sync.RWMutex
	account *ledger.Account

	bus *bus.Bus
}

// New creates a logged-out Wallet.
func New(b *bus.Bus) *Wallet {
	return &Wallet{bus: b}
}

// Account returns the session account, or false when anonymous.
func (w *Wallet) Account() (ledger.Account, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.account == nil {
		return ledger.Account{}, false
	}
	return *w.account, true
}

// Login installs the session account and broadcasts a refresh.
func (w *Wallet) Login(account ledger.Account) {
	w.mu.Lock()
	w.account = &account
	w.mu.Unlock()

	w.bus.Refresh()
	w.bus.Render()
}

// Logout clears the session account and broadcasts a refresh.
func (w *Wallet) Logout() {
	w.mu.Lock()
	w.account = nil
	w.mu.Unlock()

	w.bus.Refresh()
	w.bus.Render()
}
