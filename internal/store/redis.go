// Package store persists mirrored state into Redis so dashboards and other
// processes can read the latest view without talking to the ledger.
package store

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/argus-terminal/argus/internal/mirror"
)

// RedisClient abstracts the Redis operations used by Writer.
// In production this is satisfied by *redis.Client; in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
}

// bookRow holds the last-written best bid/ask for a book so duplicate
// writes can be skipped.
type bookRow struct {
	Bid string
	Ask string
}

// Writer listens for render signals and persists the current mirror state
// into Redis using the schema:
//
//	Key:    book:{book_address}     Fields: bid, ask
//	Key:    balance:{token_address}  Fields: amount, symbol
//
// Render signals coalesce, so a burst of mirror changes produces one write
// pass. Duplicate values are suppressed per key.
type Writer struct {
	client RedisClient
	vault  *mirror.Vault
	render <-chan struct{}
	log    *zap.Logger

	mu       sync.Mutex
	books    map[string]bookRow
	balances map[string]string
}

// NewWriter creates a Writer that snapshots the given vault on every render
// signal.
func NewWriter(client RedisClient, vault *mirror.Vault, render <-chan struct{}, log *zap.Logger) *Writer {
	return &Writer{
		client:   client,
		vault:    vault,
		render:   render,
		log:      log,
		books:    make(map[string]bookRow),
		balances: make(map[string]string),
	}
}

// Run blocks until ctx is cancelled, flushing mirror state to Redis after
// each render signal.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.render:
			w.flush(ctx)
		}
	}
}

func (w *Writer) flush(ctx context.Context) {
	for _, id := range w.vault.BookIDs() {
		book, ok := w.vault.Book(id)
		if !ok {
			continue
		}
		w.writeBook(ctx, book.Snapshot())
	}
	for _, vt := range w.vault.TokenSnapshots() {
		w.writeBalance(ctx, vt)
	}
}

// writeBook persists the best bid/ask of a book. Level slot 0 holds the
// tier nearest the spread; a zero price means the side is empty.
func (w *Writer) writeBook(ctx context.Context, s mirror.BookSnapshot) {
	bid := topPrice(s.Bids)
	ask := topPrice(s.Asks)
	key := "book:" + s.ID.Hex()

	w.mu.Lock()
	prev, exists := w.books[key]
	if exists && prev.Bid == bid && prev.Ask == ask {
		w.mu.Unlock()
		return
	}
	w.books[key] = bookRow{Bid: bid, Ask: ask}
	w.mu.Unlock()

	if err := w.client.HSet(ctx, key, "bid", bid, "ask", ask); err != nil {
		w.log.Warn("redis book write failed", zap.String("key", key), zap.Error(err))
	}
}

func (w *Writer) writeBalance(ctx context.Context, vt mirror.VaultTokenSnapshot) {
	amount := strconv.FormatUint(vt.Balance, 10)
	key := "balance:" + vt.Token.ID.Hex()

	w.mu.Lock()
	if prev, exists := w.balances[key]; exists && prev == amount {
		w.mu.Unlock()
		return
	}
	w.balances[key] = amount
	w.mu.Unlock()

	if err := w.client.HSet(ctx, key, "amount", amount, "symbol", vt.Token.Symbol); err != nil {
		w.log.Warn("redis balance write failed", zap.String("key", key), zap.Error(err))
	}
}

func topPrice(levels []mirror.LevelSnapshot) string {
	if len(levels) == 0 || levels[0].Price == 0 {
		return "0"
	}
	return strconv.FormatUint(levels[0].Price, 10)
}
