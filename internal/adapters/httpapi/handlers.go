package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/shopspring/decimal"
)

type handlers struct {
	eng    Engine
	logger *slog.Logger
}

// --- request bodies ---

// TradeRequest sirve para buy y sell. Limit es el coste máximo en compras y
// lo mínimo a recibir en ventas; cero desactiva el control en compras.
type TradeRequest struct {
	Account string          `json:"account"`
	Side    domain.Side     `json:"side"`
	Shares  decimal.Decimal `json:"shares"`
	Limit   decimal.Decimal `json:"limit"`
}

// AmountRequest cubre liquidez, merge, depósitos y retiradas.
type AmountRequest struct {
	Account string          `json:"account,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
}

type AccountRequest struct {
	Account string `json:"account"`
}

type DisputeRequest struct {
	Challenger     string          `json:"challenger"`
	CounterDeposit decimal.Decimal `json:"counter_deposit"`
}

type ResolveRequest struct {
	Caller  string      `json:"caller"`
	Outcome domain.Side `json:"outcome"`
}

// --- responses ---

type CategoryResponse struct {
	Category string   `json:"category"`
	IDs      []string `json:"ids"`
}

type BalanceResponse struct {
	Account string          `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

type RedeemResponse struct {
	Account string          `json:"account"`
	Payout  decimal.Decimal `json:"payout"`
}

// fail responde con el status del error. Los 500 se loguean y no filtran detalle.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "httpapi: "+op+" failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- markets ---

// GET /api/markets?category=crypto devuelve ids; sin categoría, las vistas completas.
func (h *handlers) listMarkets(w http.ResponseWriter, r *http.Request) {
	if category := r.URL.Query().Get("category"); category != "" {
		writeJSON(w, http.StatusOK, CategoryResponse{
			Category: category,
			IDs:      h.eng.ListMarketsByCategory(category),
		})
		return
	}
	writeJSON(w, http.StatusOK, h.eng.Markets())
}

func (h *handlers) createMarket(w http.ResponseWriter, r *http.Request) {
	var cfg domain.MarketConfig
	if err := decodeBody(w, r, &cfg); err != nil {
		h.fail(w, r, "create market", err)
		return
	}
	var err error
	if cfg.Creator, err = normalizeAccount(cfg.Creator); err != nil {
		h.fail(w, r, "create market", err)
		return
	}
	if cfg.Resolver, err = normalizeAccount(cfg.Resolver); err != nil {
		h.fail(w, r, "create market", err)
		return
	}
	view, err := h.eng.CreateMarket(r.Context(), cfg)
	if err != nil {
		h.fail(w, r, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *handlers) getMarket(w http.ResponseWriter, r *http.Request) {
	view, err := h.eng.GetMarket(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) getPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.eng.GetTokenPrices(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get prices", err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

func (h *handlers) getGraduation(w http.ResponseWriter, r *http.Request) {
	p, err := h.eng.GetGraduationProgress(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "graduation progress", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/markets/{id}/quote?side=yes&action=buy&amount=10
func (h *handlers) quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, err := domain.ParseSide(q.Get("side"))
	if err != nil {
		h.fail(w, r, "quote", err)
		return
	}
	action := domain.ActionBuy
	if raw := q.Get("action"); raw != "" {
		if action, err = domain.ParseAction(raw); err != nil {
			h.fail(w, r, "quote", err)
			return
		}
	}
	shares, err := parseDecimal("amount", q.Get("amount"))
	if err != nil {
		h.fail(w, r, "quote", err)
		return
	}
	quote, err := h.eng.Quote(r.PathValue("id"), action, side, shares)
	if err != nil {
		h.fail(w, r, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *handlers) marketTrades(w http.ResponseWriter, r *http.Request) {
	f := ports.TradeFilter{MarketID: r.PathValue("id"), Limit: parseLimit(r)}
	if raw := r.URL.Query().Get("account"); raw != "" {
		acct, err := normalizeAccount(raw)
		if err != nil {
			h.fail(w, r, "market trades", err)
			return
		}
		f.Account = acct
	}
	h.trades(w, r, f)
}

func (h *handlers) position(w http.ResponseWriter, r *http.Request) {
	acct, err := normalizeAccount(r.PathValue("account"))
	if err != nil {
		h.fail(w, r, "position", err)
		return
	}
	pos, err := h.eng.Position(r.PathValue("id"), acct)
	if err != nil {
		h.fail(w, r, "position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// --- trading ---

func (h *handlers) buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, domain.ActionBuy)
}

func (h *handlers) sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, domain.ActionSell)
}

func (h *handlers) trade(w http.ResponseWriter, r *http.Request, action domain.TradeAction) {
	op := "trade " + string(action)
	var req TradeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	acct, err := normalizeAccount(req.Account)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	side, err := domain.ParseSide(string(req.Side))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	var trade domain.Trade
	if action == domain.ActionBuy {
		trade, err = h.eng.Buy(r.Context(), r.PathValue("id"), acct, side, req.Shares, req.Limit)
	} else {
		trade, err = h.eng.Sell(r.Context(), r.PathValue("id"), acct, side, req.Shares, req.Limit)
	}
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

func (h *handlers) addLiquidity(w http.ResponseWriter, r *http.Request) {
	id, acct, amount, ok := h.amountRequest(w, r, "add liquidity")
	if !ok {
		return
	}
	ch, err := h.eng.AddLiquidity(r.Context(), id, acct, amount)
	if err != nil {
		h.fail(w, r, "add liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// El body usa "amount" para las LP shares a quemar.
func (h *handlers) removeLiquidity(w http.ResponseWriter, r *http.Request) {
	id, acct, shares, ok := h.amountRequest(w, r, "remove liquidity")
	if !ok {
		return
	}
	ch, err := h.eng.RemoveLiquidity(r.Context(), id, acct, shares)
	if err != nil {
		h.fail(w, r, "remove liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *handlers) merge(w http.ResponseWriter, r *http.Request) {
	id, acct, amount, ok := h.amountRequest(w, r, "merge")
	if !ok {
		return
	}
	pos, err := h.eng.Merge(r.Context(), id, acct, amount)
	if err != nil {
		h.fail(w, r, "merge", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (h *handlers) amountRequest(w http.ResponseWriter, r *http.Request, op string) (string, string, decimal.Decimal, bool) {
	var req AmountRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, op, err)
		return "", "", decimal.Zero, false
	}
	acct, err := normalizeAccount(req.Account)
	if err != nil {
		h.fail(w, r, op, err)
		return "", "", decimal.Zero, false
	}
	return r.PathValue("id"), acct, req.Amount, true
}

func (h *handlers) redeem(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.accountBody(w, r, "redeem")
	if !ok {
		return
	}
	payout, err := h.eng.Redeem(r.Context(), r.PathValue("id"), acct)
	if err != nil {
		h.fail(w, r, "redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, RedeemResponse{Account: acct, Payout: payout})
}

func (h *handlers) graduate(w http.ResponseWriter, r *http.Request) {
	view, err := h.eng.Graduate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "graduate", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.accountBody(w, r, "cancel")
	if !ok {
		return
	}
	view, err := h.eng.Cancel(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		h.fail(w, r, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) accountBody(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	var req AccountRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, op, err)
		return "", false
	}
	acct, err := normalizeAccount(req.Account)
	if err != nil {
		h.fail(w, r, op, err)
		return "", false
	}
	return acct, true
}

// --- resolution ---

func (h *handlers) submitProposal(w http.ResponseWriter, r *http.Request) {
	var in domain.ProposalInput
	if err := decodeBody(w, r, &in); err != nil {
		h.fail(w, r, "submit proposal", err)
		return
	}
	var err error
	if in.Proposer, err = normalizeAccount(in.Proposer); err != nil {
		h.fail(w, r, "submit proposal", err)
		return
	}
	if in.Outcome, err = domain.ParseSide(string(in.Outcome)); err != nil {
		h.fail(w, r, "submit proposal", err)
		return
	}
	p, err := h.eng.SubmitProposal(r.Context(), r.PathValue("id"), in)
	if err != nil {
		h.fail(w, r, "submit proposal", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handlers) dispute(w http.ResponseWriter, r *http.Request) {
	var req DisputeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, "dispute", err)
		return
	}
	challenger, err := normalizeAccount(req.Challenger)
	if err != nil {
		h.fail(w, r, "dispute", err)
		return
	}
	p, err := h.eng.DisputeProposal(r.Context(), r.PathValue("id"), challenger, req.CounterDeposit)
	if err != nil {
		h.fail(w, r, "dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) finalize(w http.ResponseWriter, r *http.Request) {
	view, err := h.eng.Finalize(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "finalize", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, "resolve", err)
		return
	}
	caller, err := normalizeAccount(req.Caller)
	if err != nil {
		h.fail(w, r, "resolve", err)
		return
	}
	outcome, err := domain.ParseSide(string(req.Outcome))
	if err != nil {
		h.fail(w, r, "resolve", err)
		return
	}
	view, err := h.eng.ResolveDispute(r.Context(), r.PathValue("id"), caller, outcome)
	if err != nil {
		h.fail(w, r, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- accounts ---

func (h *handlers) balance(w http.ResponseWriter, r *http.Request) {
	acct, err := normalizeAccount(r.PathValue("account"))
	if err != nil {
		h.fail(w, r, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: acct, Balance: h.eng.Balance(acct)})
}

func (h *handlers) portfolio(w http.ResponseWriter, r *http.Request) {
	acct, err := normalizeAccount(r.PathValue("account"))
	if err != nil {
		h.fail(w, r, "portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, h.eng.Portfolio(acct))
}

func (h *handlers) accountTrades(w http.ResponseWriter, r *http.Request) {
	acct, err := normalizeAccount(r.PathValue("account"))
	if err != nil {
		h.fail(w, r, "account trades", err)
		return
	}
	h.trades(w, r, ports.TradeFilter{
		MarketID: r.URL.Query().Get("market"),
		Account:  acct,
		Limit:    parseLimit(r),
	})
}

func (h *handlers) trades(w http.ResponseWriter, r *http.Request, f ports.TradeFilter) {
	trades, err := h.eng.Trades(r.Context(), f)
	if err != nil {
		h.fail(w, r, "trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (h *handlers) deposit(w http.ResponseWriter, r *http.Request) {
	h.fund(w, r, "deposit", h.eng.Deposit)
}

func (h *handlers) withdraw(w http.ResponseWriter, r *http.Request) {
	h.fund(w, r, "withdraw", h.eng.Withdraw)
}

func (h *handlers) fund(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error)) {
	acct, err := normalizeAccount(r.PathValue("account"))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	var req AmountRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	bal, err := fn(r.Context(), acct, req.Amount)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: acct, Balance: bal})
}
