// Package api exposes the mirrored state over HTTP and WebSocket: read
// endpoints serve mirror snapshots, write endpoints drive the session and
// the mutating ledger operations, and /ws streams render signals and
// notices to connected frontends.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/argus-terminal/argus/internal/bus"
	"github.com/argus-terminal/argus/internal/ledger"
	"github.com/argus-terminal/argus/internal/mirror"
	"github.com/argus-terminal/argus/internal/wallet"
)

// Server handles the REST API and WebSocket connections.
type Server struct {
	addr    string
	origins []string
	task    *mirror.VaultTask
	vault   *mirror.Vault
	wallet  *wallet.Wallet
	bus     *bus.Bus
	router  *mux.Router
	hub     *Hub
	log     *zap.Logger
}

// NewServer wires the API surface over the given sync engine.
func NewServer(addr string, origins []string, task *mirror.VaultTask, w *wallet.Wallet, b *bus.Bus, log *zap.Logger) *Server {
	s := &Server{
		addr:    addr,
		origins: origins,
		task:    task,
		vault:   task.Vault(),
		wallet:  w,
		bus:     b,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/vault", s.handleGetVault).Methods("GET")
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{address}/form", s.handleBalanceForm).Methods("POST")
	api.HandleFunc("/tokens/{address}/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/tokens/{address}/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/tokens/{address}/transfer", s.handleTransfer).Methods("POST")

	api.HandleFunc("/books", s.handleGetBooks).Methods("GET")
	api.HandleFunc("/books/{address}", s.handleGetBook).Methods("GET")
	api.HandleFunc("/books/{address}/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/books/{address}/trades/{id}", s.handleGetTrade).Methods("GET")
	api.HandleFunc("/books/{address}/form", s.handleOrderForm).Methods("POST")
	api.HandleFunc("/books/{address}/open", s.handleOpenOrder).Methods("POST")
	api.HandleFunc("/books/{address}/close", s.handleCloseOrders).Methods("POST")

	api.HandleFunc("/session", s.handleGetSession).Methods("GET")
	api.HandleFunc("/session/login", s.handleLogin).Methods("POST")
	api.HandleFunc("/session/logout", s.handleLogout).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully. It
// also runs the hub and the bus-to-hub forwarder.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.forward(ctx)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           c.Handler(s.router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", zap.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

// forward relays render signals and notices from the bus to the hub.
func (s *Server) forward(ctx context.Context) {
	render := s.bus.SubscribeRender()
	notices := s.bus.SubscribeNotices()
	for {
		select {
		case <-ctx.Done():
			return
		case <-render:
			s.hub.Push(WSEvent{Type: "render"})
		case n := <-notices:
			info := noticeInfo(n)
			s.hub.Push(WSEvent{Type: "notice", Notice: &info})
		}
	}
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	books := make([]string, 0)
	for _, id := range s.vault.BookIDs() {
		books = append(books, id.Hex())
	}
	tokens := make([]TokenInfo, 0)
	for _, vt := range s.vault.TokenSnapshots() {
		tokens = append(tokens, tokenInfo(vt))
	}
	respondJSON(w, map[string]any{"vault": s.vault.Account.Owner.Hex(), "tokens": tokens, "books": books})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := make([]TokenInfo, 0)
	for _, vt := range s.vault.TokenSnapshots() {
		tokens = append(tokens, tokenInfo(vt))
	}
	respondJSON(w, tokens)
}

func (s *Server) handleGetBooks(w http.ResponseWriter, r *http.Request) {
	books := make([]BookInfo, 0)
	for _, id := range s.vault.BookIDs() {
		if book, ok := s.vault.Book(id); ok {
			books = append(books, bookInfo(book.Snapshot()))
		}
	}
	respondJSON(w, books)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, ok := s.bookFromPath(w, r)
	if !ok {
		return
	}
	respondJSON(w, bookInfo(book.Snapshot()))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	book, ok := s.bookFromPath(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	order, ok := book.Orders.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not mirrored", "")
		return
	}
	respondJSON(w, orderInfo(order.Snapshot()))
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	book, ok := s.bookFromPath(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid trade id", err.Error())
		return
	}
	trade, ok := book.Trades.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "trade not mirrored", "")
		return
	}
	respondJSON(w, tradeInfo(trade))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info := SessionInfo{}
	if account, ok := s.wallet.Account(); ok {
		info.LoggedIn = true
		info.Account = account.Owner.Hex()
		info.Subaccount = string(account.Subaccount)
	}
	respondJSON(w, info)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Account) {
		respondError(w, http.StatusBadRequest, "invalid account address", req.Account)
		return
	}
	account := ledger.Account{Owner: common.HexToAddress(req.Account)}
	if req.Subaccount != "" {
		account.Subaccount = []byte(req.Subaccount)
	}
	s.wallet.Login(account)
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.wallet.Logout()
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleBalanceForm(w http.ResponseWriter, r *http.Request) {
	token, ok := s.tokenAddr(w, r)
	if !ok {
		return
	}
	var req BalanceFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	op := mirror.BalanceOp(req.Op)
	switch op {
	case mirror.OpDeposit, mirror.OpWithdraw, mirror.OpTransfer:
	default:
		respondError(w, http.StatusBadRequest, "invalid op", req.Op)
		return
	}
	if err := s.vault.SetBalanceForm(token, op, req.Amount, req.Recipient); err != nil {
		respondOpError(w, err)
		return
	}
	s.bus.Render()
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.runBalanceOp(w, r, s.task.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.runBalanceOp(w, r, s.task.Withdraw)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	s.runBalanceOp(w, r, s.task.Transfer)
}

func (s *Server) runBalanceOp(w http.ResponseWriter, r *http.Request, op func(context.Context, ledger.Address) error) {
	token, ok := s.tokenAddr(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), token); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleOrderForm(w http.ResponseWriter, r *http.Request) {
	book, ok := s.bookFromPath(w, r)
	if !ok {
		return
	}
	var req OrderFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	side, ok := parseSide(req.Side)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid side", req.Side)
		return
	}
	book.SetForm(side, req.Price, req.Amount)
	s.bus.Render()
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleOpenOrder(w http.ResponseWriter, r *http.Request) {
	task, ok := s.bookTaskFromPath(w, r)
	if !ok {
		return
	}
	if err := task.Open(r.Context()); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleCloseOrders(w http.ResponseWriter, r *http.Request) {
	task, ok := s.bookTaskFromPath(w, r)
	if !ok {
		return
	}
	var req CloseOrdersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := task.CloseOrders(r.Context(), req.Orders); err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) tokenAddr(w http.ResponseWriter, r *http.Request) (ledger.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid token address", raw)
		return ledger.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) bookFromPath(w http.ResponseWriter, r *http.Request) (*mirror.Book, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid book address", raw)
		return nil, false
	}
	book, ok := s.vault.Book(common.HexToAddress(raw))
	if !ok {
		respondError(w, http.StatusNotFound, "book not mirrored", raw)
		return nil, false
	}
	return book, true
}

func (s *Server) bookTaskFromPath(w http.ResponseWriter, r *http.Request) (*mirror.BookTask, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid book address", raw)
		return nil, false
	}
	task, ok := s.task.BookTask(common.HexToAddress(raw))
	if !ok {
		respondError(w, http.StatusNotFound, "book not mirrored", raw)
		return nil, false
	}
	return task, true
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errText, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errText, Message: message})
}

// respondOpError maps mutating-operation failures onto HTTP statuses:
// validation problems are the caller's fault, a busy form is a conflict,
// a ledger rejection or transport failure is an upstream error.
func respondOpError(w http.ResponseWriter, err error) {
	var callErr *ledger.CallError
	switch {
	case errors.Is(err, mirror.ErrFormBusy):
		respondError(w, http.StatusConflict, "operation in flight", err.Error())
	case errors.Is(err, mirror.ErrNoAccount):
		respondError(w, http.StatusUnauthorized, "no session account", err.Error())
	case errors.As(err, &callErr):
		respondError(w, http.StatusBadGateway, "ledger rejected call", callErr.Reason)
	case errors.Is(err, mirror.ErrUnknownToken),
		errors.Is(err, mirror.ErrZeroAmount),
		errors.Is(err, mirror.ErrZeroPrice),
		errors.Is(err, mirror.ErrNotReady),
		errors.Is(err, mirror.ErrEmptyRecipient),
		errors.Is(err, mirror.ErrBadRecipient),
		errors.Is(err, mirror.ErrAmountSyntax),
		errors.Is(err, mirror.ErrAmountNegative),
		errors.Is(err, mirror.ErrAmountPrecision),
		errors.Is(err, mirror.ErrAmountRange):
		respondError(w, http.StatusBadRequest, "invalid input", err.Error())
	default:
		respondError(w, http.StatusBadGateway, "operation failed", err.Error())
	}
}
