package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func testServer(t *testing.T, handler func(path string, body map[string]any) any) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body on %s: %v", r.URL.Path, err)
		}
		resp := handler(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestClientBalance(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	c := testServer(t, func(path string, body map[string]any) any {
		if path != "/v1/token/balance" {
			t.Errorf("unexpected path %s", path)
		}
		return map[string]any{"balance": 777}
	})

	got, err := c.Balance(context.Background(), token, Account{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 777 {
		t.Fatalf("expected 777, got %d", got)
	}
}

func TestClientAllowanceTimestamps(t *testing.T) {
	at := time.Unix(0, 1700000000000000000)
	c := testServer(t, func(path string, _ map[string]any) any {
		return map[string]any{"amount": 50, "expires_at": at.UnixNano()}
	})

	got, err := c.Allowance(context.Background(), Address{}, Account{}, Account{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Amount != 50 {
		t.Fatalf("expected amount 50, got %d", got.Amount)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(at) {
		t.Fatalf("expected expiry %v, got %v", at, got.ExpiresAt)
	}
}

func TestClientPaginationTravelsInBody(t *testing.T) {
	var sawAfter, sawLimit float64
	c := testServer(t, func(path string, body map[string]any) any {
		page := body["page"].(map[string]any)
		sawAfter = page["after"].(float64)
		sawLimit = page["limit"].(float64)
		return map[string]any{"orders": []uint64{10, 11}}
	})

	got, err := c.UserOrders(context.Background(), Address{}, SideBuy, Account{}, Page{After: After(9), Limit: Limit(25)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawAfter != 9 || sawLimit != 25 {
		t.Fatalf("cursor not transmitted: after=%v limit=%v", sawAfter, sawLimit)
	}
	if len(got) != 2 || got[0] != 10 {
		t.Fatalf("unexpected orders %v", got)
	}
}

func TestClientWriteReceipt(t *testing.T) {
	c := testServer(t, func(path string, _ map[string]any) any {
		if path != "/v1/vault/deposit" {
			t.Errorf("unexpected path %s", path)
		}
		return map[string]any{"receipt": 421}
	})

	receipt, err := c.Deposit(context.Background(), Address{}, Account{}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt != 421 {
		t.Fatalf("expected receipt 421, got %d", receipt)
	}
}

func TestClientWriteReject(t *testing.T) {
	c := testServer(t, func(string, map[string]any) any {
		return map[string]any{"reject": "insufficient funds"}
	})

	_, err := c.Withdraw(context.Background(), Address{}, Account{}, 5)
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Reason != "insufficient funds" {
		t.Fatalf("unexpected reason %q", callErr.Reason)
	}
}

func TestClientHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Tokens(context.Background(), Page{}); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
