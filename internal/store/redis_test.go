package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/argus-terminal/argus/internal/mirror"
)

// mockRedis records every HSet call for assertion.
type mockRedis struct {
	mu    sync.Mutex
	calls []hsetCall
}

type hsetCall struct {
	Key    string
	Fields map[string]string
}

func (m *mockRedis) HSet(_ context.Context, key string, values ...any) error {
	fields := make(map[string]string)
	for i := 0; i+1 < len(values); i += 2 {
		k, _ := values[i].(string)
		v, _ := values[i+1].(string)
		fields[k] = v
	}
	m.mu.Lock()
	m.calls = append(m.calls, hsetCall{Key: key, Fields: fields})
	m.mu.Unlock()
	return nil
}

func (m *mockRedis) getCalls() []hsetCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]hsetCall, len(m.calls))
	copy(out, m.calls)
	return out
}

var (
	vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	bookAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func newWriter(mock *mockRedis) *Writer {
	return NewWriter(mock, mirror.NewVault(vaultAddr), make(chan struct{}), zap.NewNop())
}

func TestWriter_BookHSetCommand(t *testing.T) {
	mock := &mockRedis{}
	w := newWriter(mock)

	w.writeBook(context.Background(), mirror.BookSnapshot{
		ID:   bookAddr,
		Bids: []mirror.LevelSnapshot{{Price: 1480}, {Price: 1470}},
		Asks: []mirror.LevelSnapshot{{Price: 1520}, {Price: 1530}},
	})

	calls := mock.getCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 HSET call, got %d", len(calls))
	}
	c := calls[0]
	if c.Key != "book:"+bookAddr.Hex() {
		t.Fatalf("wrong key: %s", c.Key)
	}
	// Slot 0 holds the tier nearest the spread on each side.
	if c.Fields["bid"] != "1480" {
		t.Fatalf("expected bid '1480', got %q", c.Fields["bid"])
	}
	if c.Fields["ask"] != "1520" {
		t.Fatalf("expected ask '1520', got %q", c.Fields["ask"])
	}
}

func TestWriter_BookDuplicateSuppression(t *testing.T) {
	mock := &mockRedis{}
	w := newWriter(mock)
	ctx := context.Background()

	snap := mirror.BookSnapshot{
		ID:   bookAddr,
		Bids: []mirror.LevelSnapshot{{Price: 1480}},
		Asks: []mirror.LevelSnapshot{{Price: 1520}},
	}

	w.writeBook(ctx, snap)
	w.writeBook(ctx, snap)
	w.writeBook(ctx, snap)

	if calls := mock.getCalls(); len(calls) != 1 {
		t.Fatalf("expected 1 HSET call (duplicates suppressed), got %d", len(calls))
	}

	snap.Bids[0].Price = 1490
	w.writeBook(ctx, snap)

	calls := mock.getCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 HSET calls after price change, got %d", len(calls))
	}
	if calls[1].Fields["bid"] != "1490" {
		t.Fatalf("expected updated bid '1490', got %q", calls[1].Fields["bid"])
	}
}

func TestWriter_BalanceHSetCommand(t *testing.T) {
	mock := &mockRedis{}
	w := newWriter(mock)
	ctx := context.Background()

	vt := mirror.VaultTokenSnapshot{
		Token:   mirror.TokenSnapshot{ID: tokenAddr, Symbol: "TST"},
		Balance: 12500,
	}
	w.writeBalance(ctx, vt)
	w.writeBalance(ctx, vt)

	calls := mock.getCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 HSET call, got %d", len(calls))
	}
	c := calls[0]
	if c.Key != "balance:"+tokenAddr.Hex() {
		t.Fatalf("wrong key: %s", c.Key)
	}
	if c.Fields["amount"] != "12500" {
		t.Fatalf("expected amount '12500', got %q", c.Fields["amount"])
	}
	if c.Fields["symbol"] != "TST" {
		t.Fatalf("expected symbol 'TST', got %q", c.Fields["symbol"])
	}

	vt.Balance = 13000
	w.writeBalance(ctx, vt)
	if calls := mock.getCalls(); len(calls) != 2 {
		t.Fatalf("expected 2 HSET calls after balance change, got %d", len(calls))
	}
}

func TestWriter_FlushesOnRenderSignal(t *testing.T) {
	mock := &mockRedis{}
	render := make(chan struct{}, 1)
	w := NewWriter(mock, mirror.NewVault(vaultAddr), render, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go w.Run(ctx)

	// An empty vault writes nothing; the loop must still consume signals.
	render <- struct{}{}
	time.Sleep(100 * time.Millisecond)
	if calls := mock.getCalls(); len(calls) != 0 {
		t.Fatalf("empty vault produced writes: %v", calls)
	}
}

func TestTopPrice(t *testing.T) {
	if got := topPrice(nil); got != "0" {
		t.Fatalf("expected '0' for empty side, got %q", got)
	}
	if got := topPrice([]mirror.LevelSnapshot{{Price: 0}}); got != "0" {
		t.Fatalf("expected '0' for empty slot, got %q", got)
	}
	if got := topPrice([]mirror.LevelSnapshot{{Price: 1500}, {Price: 1600}}); got != "1500" {
		t.Fatalf("expected best slot '1500', got %q", got)
	}
}
