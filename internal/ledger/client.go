package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a JSON-over-HTTP implementation of Reader and Writer. Every
// method maps to one POST against the remote gateway; pagination cursors
// and limits travel in the request body. The client is reentrant and safe
// for concurrent use by all sync tasks.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client against the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

var (
	_ Reader = (*Client)(nil)
	_ Writer = (*Client)(nil)
)

// wireAccount is the request encoding of an Account.
type wireAccount struct {
	Owner      Address `json:"owner"`
	Subaccount []byte  `json:"subaccount,omitempty"`
}

func toWire(a Account) wireAccount {
	return wireAccount{Owner: a.Owner, Subaccount: a.Subaccount}
}

type wirePage struct {
	After *uint64 `json:"after,omitempty"`
	Limit *uint32 `json:"limit,omitempty"`
}

func pageWire(p Page) wirePage { return wirePage{After: p.After, Limit: p.Limit} }

// writeResult is the discriminated response of every write call: exactly one
// of receipt or reject is present.
type writeResult struct {
	Receipt *uint64 `json:"receipt,omitempty"`
	Reject  *string `json:"reject,omitempty"`
}

func (r writeResult) receipt() (Receipt, error) {
	if r.Reject != nil {
		return 0, &CallError{Reason: *r.Reject}
	}
	if r.Receipt == nil {
		return 0, fmt.Errorf("write result carries neither receipt nor reject")
	}
	return Receipt(*r.Receipt), nil
}

// do posts req as JSON to path and decodes the response body into resp.
func (c *Client) do(ctx context.Context, path string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", path, httpResp.StatusCode, raw)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// nanos converts an optional unix-nanosecond wire timestamp.
func nanos(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := time.Unix(0, *n)
	return &t
}

func (c *Client) TokenMeta(ctx context.Context, token Address) (TokenMeta, error) {
	req := struct {
		Token Address `json:"token"`
	}{token}
	var resp TokenMeta
	err := c.do(ctx, "/v1/token/meta", req, &resp)
	return resp, err
}

func (c *Client) Balance(ctx context.Context, token Address, account Account) (uint64, error) {
	req := struct {
		Token   Address     `json:"token"`
		Account wireAccount `json:"account"`
	}{token, toWire(account)}
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	err := c.do(ctx, "/v1/token/balance", req, &resp)
	return resp.Balance, err
}

func (c *Client) Allowance(ctx context.Context, token Address, account, spender Account) (Allowance, error) {
	req := struct {
		Token   Address     `json:"token"`
		Account wireAccount `json:"account"`
		Spender wireAccount `json:"spender"`
	}{token, toWire(account), toWire(spender)}
	var resp struct {
		Amount    uint64 `json:"amount"`
		ExpiresAt *int64 `json:"expires_at,omitempty"`
	}
	if err := c.do(ctx, "/v1/token/allowance", req, &resp); err != nil {
		return Allowance{}, err
	}
	return Allowance{Amount: resp.Amount, ExpiresAt: nanos(resp.ExpiresAt)}, nil
}

func (c *Client) BookMeta(ctx context.Context, book Address) (BookMeta, error) {
	req := struct {
		Book Address `json:"book"`
	}{book}
	var resp BookMeta
	err := c.do(ctx, "/v1/book/meta", req, &resp)
	return resp, err
}

func (c *Client) prices(ctx context.Context, path string, book Address, page Page) ([]uint64, error) {
	req := struct {
		Book Address  `json:"book"`
		Page wirePage `json:"page"`
	}{book, pageWire(page)}
	var resp struct {
		Prices []uint64 `json:"prices"`
	}
	err := c.do(ctx, path, req, &resp)
	return resp.Prices, err
}

func (c *Client) AskPrices(ctx context.Context, book Address, page Page) ([]uint64, error) {
	return c.prices(ctx, "/v1/book/asks", book, page)
}

func (c *Client) BidPrices(ctx context.Context, book Address, page Page) ([]uint64, error) {
	return c.prices(ctx, "/v1/book/bids", book, page)
}

func (c *Client) OrdersAt(ctx context.Context, book Address, side Side, price uint64, page Page) ([]uint64, error) {
	req := struct {
		Book  Address  `json:"book"`
		Side  Side     `json:"side"`
		Price uint64   `json:"price"`
		Page  wirePage `json:"page"`
	}{book, side, price, pageWire(page)}
	var resp struct {
		Orders []uint64 `json:"orders"`
	}
	err := c.do(ctx, "/v1/book/orders-at", req, &resp)
	return resp.Orders, err
}

func (c *Client) UserLevels(ctx context.Context, book Address, side Side, account Account, page Page) ([]LevelEntry, error) {
	req := struct {
		Book    Address     `json:"book"`
		Side    Side        `json:"side"`
		Account wireAccount `json:"account"`
		Page    wirePage    `json:"page"`
	}{book, side, toWire(account), pageWire(page)}
	var resp struct {
		Levels []LevelEntry `json:"levels"`
	}
	err := c.do(ctx, "/v1/book/user-levels", req, &resp)
	return resp.Levels, err
}

func (c *Client) UserOrders(ctx context.Context, book Address, side Side, account Account, page Page) ([]uint64, error) {
	req := struct {
		Book    Address     `json:"book"`
		Side    Side        `json:"side"`
		Account wireAccount `json:"account"`
		Page    wirePage    `json:"page"`
	}{book, side, toWire(account), pageWire(page)}
	var resp struct {
		Orders []uint64 `json:"orders"`
	}
	err := c.do(ctx, "/v1/book/user-orders", req, &resp)
	return resp.Orders, err
}

// wireOrderFact mirrors OrderFact with timestamps in unix nanoseconds.
type wireOrderFact struct {
	ID         uint64       `json:"id"`
	Side       *Side        `json:"side,omitempty"`
	Owner      *wireAccount `json:"owner,omitempty"`
	Block      *uint64      `json:"block,omitempty"`
	Executions *uint64      `json:"executions,omitempty"`
	Price      *uint64      `json:"price,omitempty"`
	ExpiresAt  *int64       `json:"expires_at,omitempty"`
	Initial    *uint64      `json:"initial,omitempty"`
	Subaccount []byte       `json:"subaccount,omitempty"`
	CreatedAt  *int64       `json:"created_at,omitempty"`
}

func (c *Client) OrderFacts(ctx context.Context, book Address, ids []uint64) ([]OrderFact, error) {
	req := struct {
		Book Address  `json:"book"`
		IDs  []uint64 `json:"ids"`
	}{book, ids}
	var resp struct {
		Orders []wireOrderFact `json:"orders"`
	}
	if err := c.do(ctx, "/v1/book/order-facts", req, &resp); err != nil {
		return nil, err
	}
	facts := make([]OrderFact, len(resp.Orders))
	for i, w := range resp.Orders {
		f := OrderFact{
			ID:         w.ID,
			Side:       w.Side,
			Block:      w.Block,
			Executions: w.Executions,
			Price:      w.Price,
			ExpiresAt:  nanos(w.ExpiresAt),
			Initial:    w.Initial,
			Subaccount: w.Subaccount,
			CreatedAt:  nanos(w.CreatedAt),
		}
		if w.Owner != nil {
			f.Owner = &Account{Owner: w.Owner.Owner, Subaccount: w.Owner.Subaccount}
		}
		facts[i] = f
	}
	return facts, nil
}

func (c *Client) OrderStates(ctx context.Context, book Address, ids []uint64) ([]OrderState, error) {
	req := struct {
		Book Address  `json:"book"`
		IDs  []uint64 `json:"ids"`
	}{book, ids}
	var resp struct {
		Orders []struct {
			ID           uint64  `json:"id"`
			ClosedAt     *int64  `json:"closed_at,omitempty"`
			ClosedReason *string `json:"closed_reason,omitempty"`
			Locked       *uint64 `json:"locked,omitempty"`
			Filled       *uint64 `json:"filled,omitempty"`
		} `json:"orders"`
	}
	if err := c.do(ctx, "/v1/book/order-states", req, &resp); err != nil {
		return nil, err
	}
	states := make([]OrderState, len(resp.Orders))
	for i, w := range resp.Orders {
		states[i] = OrderState{
			ID:           w.ID,
			ClosedAt:     nanos(w.ClosedAt),
			ClosedReason: w.ClosedReason,
			Locked:       w.Locked,
			Filled:       w.Filled,
		}
	}
	return states, nil
}

func (c *Client) OrderTrades(ctx context.Context, book Address, id uint64, page Page) ([]uint64, error) {
	req := struct {
		Book  Address  `json:"book"`
		Order uint64   `json:"order"`
		Page  wirePage `json:"page"`
	}{book, id, pageWire(page)}
	var resp struct {
		Trades []uint64 `json:"trades"`
	}
	err := c.do(ctx, "/v1/book/order-trades", req, &resp)
	return resp.Trades, err
}

func (c *Client) RecentTrades(ctx context.Context, book Address, limit uint32) ([]uint64, error) {
	req := struct {
		Book  Address `json:"book"`
		Limit uint32  `json:"limit"`
	}{book, limit}
	var resp struct {
		Trades []uint64 `json:"trades"`
	}
	err := c.do(ctx, "/v1/book/recent-trades", req, &resp)
	return resp.Trades, err
}

func (c *Client) TradeFacts(ctx context.Context, book Address, ids []uint64) ([]TradeFact, error) {
	req := struct {
		Book Address  `json:"book"`
		IDs  []uint64 `json:"ids"`
	}{book, ids}
	var resp struct {
		Trades []struct {
			ID             uint64  `json:"id"`
			SellOrder      *uint64 `json:"sell_order,omitempty"`
			BuyOrder       *uint64 `json:"buy_order,omitempty"`
			Base           *uint64 `json:"base,omitempty"`
			Quote          *uint64 `json:"quote,omitempty"`
			SellFee        *uint64 `json:"sell_fee,omitempty"`
			BuyFee         *uint64 `json:"buy_fee,omitempty"`
			SellExecutedAt *int64  `json:"sell_executed_at,omitempty"`
			BuyExecutedAt  *int64  `json:"buy_executed_at,omitempty"`
			CreatedAt      *int64  `json:"created_at,omitempty"`
			Block          *uint64 `json:"block,omitempty"`
		} `json:"trades"`
	}
	if err := c.do(ctx, "/v1/book/trade-facts", req, &resp); err != nil {
		return nil, err
	}
	facts := make([]TradeFact, len(resp.Trades))
	for i, w := range resp.Trades {
		facts[i] = TradeFact{
			ID:             w.ID,
			SellOrder:      w.SellOrder,
			BuyOrder:       w.BuyOrder,
			Base:           w.Base,
			Quote:          w.Quote,
			SellFee:        w.SellFee,
			BuyFee:         w.BuyFee,
			SellExecutedAt: nanos(w.SellExecutedAt),
			BuyExecutedAt:  nanos(w.BuyExecutedAt),
			CreatedAt:      nanos(w.CreatedAt),
			Block:          w.Block,
		}
	}
	return facts, nil
}

func (c *Client) registry(ctx context.Context, path string, page Page) ([]Address, error) {
	req := struct {
		Page wirePage `json:"page"`
	}{pageWire(page)}
	var resp struct {
		Entries []Address `json:"entries"`
	}
	err := c.do(ctx, path, req, &resp)
	return resp.Entries, err
}

func (c *Client) Tokens(ctx context.Context, page Page) ([]Address, error) {
	return c.registry(ctx, "/v1/vault/tokens", page)
}

func (c *Client) Books(ctx context.Context, page Page) ([]Address, error) {
	return c.registry(ctx, "/v1/vault/books", page)
}

func (c *Client) WithdrawalFees(ctx context.Context, tokens []Address) ([]*uint64, error) {
	req := struct {
		Tokens []Address `json:"tokens"`
	}{tokens}
	var resp struct {
		Fees []*uint64 `json:"fees"`
	}
	err := c.do(ctx, "/v1/vault/withdrawal-fees", req, &resp)
	return resp.Fees, err
}

func (c *Client) UnlockedBalances(ctx context.Context, queries []BalanceQuery) ([]uint64, error) {
	type wireQuery struct {
		Token   Address     `json:"token"`
		Account wireAccount `json:"account"`
	}
	wq := make([]wireQuery, len(queries))
	for i, q := range queries {
		wq[i] = wireQuery{Token: q.Token, Account: toWire(q.Account)}
	}
	req := struct {
		Queries []wireQuery `json:"queries"`
	}{wq}
	var resp struct {
		Balances []uint64 `json:"balances"`
	}
	err := c.do(ctx, "/v1/vault/unlocked-balances", req, &resp)
	return resp.Balances, err
}

func (c *Client) write(ctx context.Context, path string, req any) (Receipt, error) {
	var resp writeResult
	if err := c.do(ctx, path, req, &resp); err != nil {
		return 0, err
	}
	return resp.receipt()
}

func (c *Client) Approve(ctx context.Context, token Address, from, spender Account, amount uint64) (Receipt, error) {
	req := struct {
		Token   Address     `json:"token"`
		From    wireAccount `json:"from"`
		Spender wireAccount `json:"spender"`
		Amount  uint64      `json:"amount"`
	}{token, toWire(from), toWire(spender), amount}
	return c.write(ctx, "/v1/token/approve", req)
}

func (c *Client) Transfer(ctx context.Context, token Address, from, to Account, amount uint64) (Receipt, error) {
	req := struct {
		Token  Address     `json:"token"`
		From   wireAccount `json:"from"`
		To     wireAccount `json:"to"`
		Amount uint64      `json:"amount"`
	}{token, toWire(from), toWire(to), amount}
	return c.write(ctx, "/v1/token/transfer", req)
}

func (c *Client) Open(ctx context.Context, book Address, from Account, side Side, price, amount uint64) (Receipt, error) {
	req := struct {
		Book   Address     `json:"book"`
		From   wireAccount `json:"from"`
		Side   Side        `json:"side"`
		Price  uint64      `json:"price"`
		Amount uint64      `json:"amount"`
	}{book, toWire(from), side, price, amount}
	return c.write(ctx, "/v1/book/open", req)
}

func (c *Client) Close(ctx context.Context, book Address, from Account, ids []uint64) (Receipt, error) {
	req := struct {
		Book Address     `json:"book"`
		From wireAccount `json:"from"`
		IDs  []uint64    `json:"ids"`
	}{book, toWire(from), ids}
	return c.write(ctx, "/v1/book/close", req)
}

func (c *Client) Deposit(ctx context.Context, token Address, from Account, amount uint64) (Receipt, error) {
	req := struct {
		Token  Address     `json:"token"`
		From   wireAccount `json:"from"`
		Amount uint64      `json:"amount"`
	}{token, toWire(from), amount}
	return c.write(ctx, "/v1/vault/deposit", req)
}

func (c *Client) Withdraw(ctx context.Context, token Address, from Account, amount uint64) (Receipt, error) {
	req := struct {
		Token  Address     `json:"token"`
		From   wireAccount `json:"from"`
		Amount uint64      `json:"amount"`
	}{token, toWire(from), amount}
	return c.write(ctx, "/v1/vault/withdraw", req)
}
