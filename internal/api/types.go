package api

import (
	"time"

	"github.com/argus-terminal/argus/internal/bus"
	"github.com/argus-terminal/argus/internal/ledger"
	"github.com/argus-terminal/argus/internal/mirror"
)

// TokenInfo is the JSON view of one vault token.
type TokenInfo struct {
	Address            string     `json:"address"`
	Name               string     `json:"name"`
	Symbol             string     `json:"symbol"`
	Decimals           uint8      `json:"decimals"`
	TransferFee        uint64     `json:"transferFee"`
	WithdrawalFee      uint64     `json:"withdrawalFee"`
	WalletBalance      uint64     `json:"walletBalance"`
	VaultBalance       uint64     `json:"vaultBalance"`
	Allowance          uint64     `json:"allowance"`
	AllowanceExpiresAt *time.Time `json:"allowanceExpiresAt,omitempty"`
	Form               FormInfo   `json:"form"`
}

// FormInfo is the JSON view of a balance-operation form.
type FormInfo struct {
	Op        string `json:"op"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient,omitempty"`
	Busy      bool   `json:"busy"`
}

// LevelInfo is one order-book tier.
type LevelInfo struct {
	Price  uint64   `json:"price"`
	Orders []uint64 `json:"orders"`
	Base   uint64   `json:"base"`
}

// BookInfo is the JSON view of one book mirror.
type BookInfo struct {
	Address        string            `json:"address"`
	Base           string            `json:"base"`
	Quote          string            `json:"quote"`
	MakerFeeNum    uint64            `json:"makerFeeNum"`
	TakerFeeNum    uint64            `json:"takerFeeNum"`
	FeeDenom       uint64            `json:"feeDenom"`
	Ready          bool              `json:"ready"`
	Asks           []LevelInfo       `json:"asks"`
	Bids           []LevelInfo       `json:"bids"`
	Recents        []uint64          `json:"recents"`
	UserBuys       []uint64          `json:"userBuys"`
	UserSells      []uint64          `json:"userSells"`
	UserBuyLevels  map[uint64]uint64 `json:"userBuyLevels"`
	UserSellLevels map[uint64]uint64 `json:"userSellLevels"`
	Form           OrderFormInfo     `json:"form"`
}

// OrderFormInfo is the JSON view of the order entry form.
type OrderFormInfo struct {
	Side   string `json:"side"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Busy   bool   `json:"busy"`
}

// OrderInfo is the JSON view of one mirrored order. Missing fields mean
// the order is not yet hydrated.
type OrderInfo struct {
	ID           uint64     `json:"id"`
	Side         *string    `json:"side,omitempty"`
	Owner        *string    `json:"owner,omitempty"`
	Block        *uint64    `json:"block,omitempty"`
	Executions   *uint64    `json:"executions,omitempty"`
	Price        uint64     `json:"price"`
	Initial      uint64     `json:"initial"`
	Locked       uint64     `json:"locked"`
	Filled       uint64     `json:"filled"`
	Remaining    uint64     `json:"remaining"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`
	ClosedReason *string    `json:"closedReason,omitempty"`
	Trades       []uint64   `json:"trades"`
}

// TradeInfo is the JSON view of one mirrored trade.
type TradeInfo struct {
	ID             uint64     `json:"id"`
	SellOrder      *uint64    `json:"sellOrder,omitempty"`
	BuyOrder       *uint64    `json:"buyOrder,omitempty"`
	Base           *uint64    `json:"base,omitempty"`
	Quote          *uint64    `json:"quote,omitempty"`
	SellFee        *uint64    `json:"sellFee,omitempty"`
	BuyFee         *uint64    `json:"buyFee,omitempty"`
	SellExecutedAt *time.Time `json:"sellExecutedAt,omitempty"`
	BuyExecutedAt  *time.Time `json:"buyExecutedAt,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	Block          *uint64    `json:"block,omitempty"`
	Maker          *uint64    `json:"maker,omitempty"`
	Taker          *uint64    `json:"taker,omitempty"`
}

// SessionInfo reports the authenticated account, if any.
type SessionInfo struct {
	Account    string `json:"account,omitempty"`
	Subaccount string `json:"subaccount,omitempty"`
	LoggedIn   bool   `json:"loggedIn"`
}

// LoginRequest installs a session account.
type LoginRequest struct {
	Account    string `json:"account"`
	Subaccount string `json:"subaccount,omitempty"`
}

// BalanceFormRequest edits a token's balance-operation form.
type BalanceFormRequest struct {
	Op        string `json:"op"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient,omitempty"`
}

// OrderFormRequest edits a book's order entry form.
type OrderFormRequest struct {
	Side   string `json:"side"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// CloseOrdersRequest names the orders to close.
type CloseOrdersRequest struct {
	Orders []uint64 `json:"orders"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSEvent is the envelope for every message the hub pushes.
type WSEvent struct {
	Type   string      `json:"type"` // "render" or "notice"
	Notice *NoticeInfo `json:"notice,omitempty"`
}

// NoticeInfo is the JSON view of a bus notice.
type NoticeInfo struct {
	ID    string    `json:"id"`
	Level string    `json:"level"`
	Title string    `json:"title"`
	Cause string    `json:"cause,omitempty"`
	At    time.Time `json:"at"`
}

func tokenInfo(vt mirror.VaultTokenSnapshot) TokenInfo {
	return TokenInfo{
		Address:            vt.Token.ID.Hex(),
		Name:               vt.Token.Name,
		Symbol:             vt.Token.Symbol,
		Decimals:           vt.Token.Decimals,
		TransferFee:        vt.Token.Fee,
		WithdrawalFee:      vt.WithdrawalFee,
		WalletBalance:      vt.Token.Balance,
		VaultBalance:       vt.Balance,
		Allowance:          vt.Token.Allowance,
		AllowanceExpiresAt: vt.Token.AllowanceExpiresAt,
		Form: FormInfo{
			Op:        string(vt.Form.Op),
			Amount:    vt.Form.Amount,
			Recipient: vt.Form.Recipient,
			Busy:      vt.Form.Busy,
		},
	}
}

func levelInfo(s mirror.LevelSnapshot) LevelInfo {
	return LevelInfo{Price: s.Price, Orders: s.Orders, Base: s.Base.Remaining()}
}

func bookInfo(s mirror.BookSnapshot) BookInfo {
	info := BookInfo{
		Address:        s.ID.Hex(),
		Base:           s.Meta.Base.Hex(),
		Quote:          s.Meta.Quote.Hex(),
		MakerFeeNum:    s.Meta.MakerFeeNum,
		TakerFeeNum:    s.Meta.TakerFeeNum,
		FeeDenom:       s.Meta.FeeDenom,
		Ready:          s.MetaReady,
		Recents:        s.Recents,
		UserBuys:       s.UserBuys,
		UserSells:      s.UserSells,
		UserBuyLevels:  s.UserBuyLevels,
		UserSellLevels: s.UserSellLevels,
		Form: OrderFormInfo{
			Side:   s.Form.Side.String(),
			Price:  s.Form.Price,
			Amount: s.Form.Amount,
			Busy:   s.Form.Busy,
		},
	}
	for _, l := range s.Asks {
		info.Asks = append(info.Asks, levelInfo(l))
	}
	for _, l := range s.Bids {
		info.Bids = append(info.Bids, levelInfo(l))
	}
	return info
}

func orderInfo(s mirror.OrderSnapshot) OrderInfo {
	info := OrderInfo{
		ID:           s.ID,
		Block:        s.Block,
		Executions:   s.Executions,
		Price:        s.Price,
		Initial:      s.Base.Initial,
		Locked:       s.Base.Locked,
		Filled:       s.Base.Filled,
		Remaining:    s.Base.Remaining(),
		ExpiresAt:    s.ExpiresAt,
		CreatedAt:    s.CreatedAt,
		ClosedAt:     s.ClosedAt,
		ClosedReason: s.ClosedReason,
		Trades:       s.Trades,
	}
	if s.Side != nil {
		side := s.Side.String()
		info.Side = &side
	}
	if s.Owner != nil {
		owner := s.Owner.Owner.Hex()
		info.Owner = &owner
	}
	return info
}

func tradeInfo(t *mirror.Trade) TradeInfo {
	s := t.Snapshot()
	info := TradeInfo{
		ID:             s.ID,
		SellOrder:      s.SellOrder,
		BuyOrder:       s.BuyOrder,
		Base:           s.Base,
		Quote:          s.Quote,
		SellFee:        s.SellFee,
		BuyFee:         s.BuyFee,
		SellExecutedAt: s.SellExecutedAt,
		BuyExecutedAt:  s.BuyExecutedAt,
		CreatedAt:      s.CreatedAt,
		Block:          s.Block,
	}
	if maker, ok := t.Maker(); ok {
		info.Maker = &maker
	}
	if taker, ok := t.Taker(); ok {
		info.Taker = &taker
	}
	return info
}

func noticeInfo(n bus.Notice) NoticeInfo {
	return NoticeInfo{
		ID:    n.ID,
		Level: string(n.Level),
		Title: n.Title,
		Cause: n.Cause,
		At:    n.At,
	}
}

func parseSide(s string) (ledger.Side, bool) {
	switch s {
	case "buy":
		return ledger.SideBuy, true
	case "sell":
		return ledger.SideSell, true
	}
	return 0, false
}
