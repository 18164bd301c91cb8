package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/argus-terminal/argus/internal/bus"
	"github.com/argus-terminal/argus/internal/ledger"
	"github.com/argus-terminal/argus/internal/poll"
)

func TestOrderApplyState(t *testing.T) {
	o := &Order{ID: 1}
	price, initial := uint64(100), uint64(50)
	o.applyFact(ledger.OrderFact{ID: 1, Price: &price, Initial: &initial})

	locked, filled := uint64(10), uint64(5)
	if !o.applyState(ledger.OrderState{ID: 1, Locked: &locked, Filled: &filled}) {
		t.Fatal("first state should report a change")
	}
	if got := o.Base(); got.Locked != 10 || got.Filled != 5 {
		t.Fatalf("unexpected base %+v", got)
	}

	if o.applyState(ledger.OrderState{ID: 1, Locked: &locked, Filled: &filled}) {
		t.Fatal("identical state should report no change")
	}

	// A nil field preserves the current value rather than zeroing it.
	if o.applyState(ledger.OrderState{ID: 1, Locked: &locked}) {
		t.Fatal("nil filled should preserve current value, not change it")
	}
	if got := o.Base(); got.Filled != 5 {
		t.Fatalf("nil filled zeroed the mirror: %+v", got)
	}

	now := time.Now()
	reason := "cancelled"
	if !o.applyState(ledger.OrderState{ID: 1, ClosedAt: &now, ClosedReason: &reason, Locked: &locked, Filled: &filled}) {
		t.Fatal("closing should report a change")
	}
	if !o.Closed() {
		t.Fatal("order should be closed")
	}
}

func TestOrderTaskResumesFromLastTrade(t *testing.T) {
	book := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	b := bus.New()
	arena := NewTrades()

	o := &Order{ID: 7}
	o.appendTrades([]uint64{100, 101})

	var cursors []*uint64
	remote := &fakeLedger{
		orderTradesFn: func(_ ledger.Address, id uint64, page ledger.Page) ([]uint64, error) {
			if id != 7 {
				t.Errorf("queried wrong order %d", id)
			}
			cursors = append(cursors, page.After)
			if page.After != nil && *page.After == 101 {
				return []uint64{102, 103}, nil
			}
			return nil, nil
		},
	}

	task := NewOrderTask(o, book, remote, arena, b, poll.DefaultBackoff(), 50, zap.NewNop())

	changed, err := task.pollOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("new trades should report a change")
	}

	if len(cursors) != 2 {
		t.Fatalf("expected pagination to stop on the empty page, got %d calls", len(cursors))
	}
	if cursors[0] == nil || *cursors[0] != 101 {
		t.Fatalf("first page should resume after trade 101, got %v", cursors[0])
	}
	if cursors[1] == nil || *cursors[1] != 103 {
		t.Fatalf("second page should resume after trade 103, got %v", cursors[1])
	}

	if last, _ := o.lastTrade(); last != 103 {
		t.Fatalf("expected last trade 103, got %d", last)
	}
	if _, ok := arena.Get(102); !ok {
		t.Fatal("new trade 102 not registered in the arena")
	}

	// Quiet list: no change, no network beyond one empty page.
	cursors = nil
	changed, err = task.pollOnce(context.Background())
	if err != nil || changed {
		t.Fatalf("quiet poll: changed=%v err=%v", changed, err)
	}
}
