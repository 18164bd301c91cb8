package bus

import (
	"errors"
	"testing"
	"time"
)

func TestBus_RenderReachesEverySubscriber(t *testing.T) {
	b := New()
	first := b.SubscribeRender()
	second := b.SubscribeRender()

	b.Render()

	for i, ch := range []<-chan struct{}{first, second} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never signalled", i)
		}
	}
}

func TestBus_RepeatSignalsCoalesce(t *testing.T) {
	b := New()
	ch := b.SubscribeRefresh()

	// Three broadcasts with nobody receiving latch a single signal.
	b.Refresh()
	b.Refresh()
	b.Refresh()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("latched refresh never delivered")
	}

	select {
	case <-ch:
		t.Fatal("coalesced broadcasts delivered more than one signal")
	default:
	}
}

func TestBus_NoticeCarriesPayload(t *testing.T) {
	b := New()
	fixed := time.UnixMilli(1700000000000)
	b.nowFunc = func() time.Time { return fixed }

	ch := b.SubscribeNotices()
	b.Error("deposit", errors.New("insufficient funds"))

	select {
	case n := <-ch:
		if n.Level != LevelError {
			t.Fatalf("expected error level, got %s", n.Level)
		}
		if n.Title != "deposit" {
			t.Fatalf("unexpected title %q", n.Title)
		}
		if n.Cause != "insufficient funds" {
			t.Fatalf("unexpected cause %q", n.Cause)
		}
		if n.ID == "" {
			t.Fatal("notice has no id")
		}
		if !n.At.Equal(fixed) {
			t.Fatalf("unexpected timestamp %v", n.At)
		}
	case <-time.After(time.Second):
		t.Fatal("notice never delivered")
	}
}

func TestBus_SlowNoticeSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	b.SubscribeNotices() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Success("ok", "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}
}
