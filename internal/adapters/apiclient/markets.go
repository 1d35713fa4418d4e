package apiclient

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/shopspring/decimal"
)

// Wire types compartidos con httpapi. Se duplican aquí para que el cliente
// no importe el servidor.
type tradeRequest struct {
	Account string          `json:"account"`
	Side    domain.Side     `json:"side"`
	Shares  decimal.Decimal `json:"shares"`
	Limit   decimal.Decimal `json:"limit"`
}

type amountRequest struct {
	Account string          `json:"account,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
}

type accountRequest struct {
	Account string `json:"account"`
}

type balanceResponse struct {
	Account string          `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

func marketPath(id, suffix string) string {
	return "/api/markets/" + url.PathEscape(id) + suffix
}

func accountPath(account, suffix string) string {
	return "/api/accounts/" + url.PathEscape(account) + suffix
}

// Health devuelve nil si el servidor responde.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/api/health", nil)
}

// Markets devuelve todas las vistas en orden de creación.
func (c *Client) Markets(ctx context.Context) ([]domain.MarketView, error) {
	var out []domain.MarketView
	if err := c.get(ctx, "/api/markets", &out); err != nil {
		return nil, fmt.Errorf("apiclient.Markets: %w", err)
	}
	return out, nil
}

// MarketsByCategory devuelve los ids de una categoría.
func (c *Client) MarketsByCategory(ctx context.Context, category string) ([]string, error) {
	var out struct {
		IDs []string `json:"ids"`
	}
	if err := c.get(ctx, "/api/markets?category="+url.QueryEscape(category), &out); err != nil {
		return nil, fmt.Errorf("apiclient.MarketsByCategory: %w", err)
	}
	return out.IDs, nil
}

func (c *Client) Market(ctx context.Context, id string) (domain.MarketView, error) {
	var out domain.MarketView
	if err := c.get(ctx, marketPath(id, ""), &out); err != nil {
		return domain.MarketView{}, fmt.Errorf("apiclient.Market: %w", err)
	}
	return out, nil
}

func (c *Client) Prices(ctx context.Context, id string) (domain.TokenPrices, error) {
	var out domain.TokenPrices
	if err := c.get(ctx, marketPath(id, "/prices"), &out); err != nil {
		return domain.TokenPrices{}, fmt.Errorf("apiclient.Prices: %w", err)
	}
	return out, nil
}

func (c *Client) Graduation(ctx context.Context, id string) (domain.GraduationProgress, error) {
	var out domain.GraduationProgress
	if err := c.get(ctx, marketPath(id, "/graduation"), &out); err != nil {
		return domain.GraduationProgress{}, fmt.Errorf("apiclient.Graduation: %w", err)
	}
	return out, nil
}

// Quote cotiza sin ejecutar.
func (c *Client) Quote(ctx context.Context, id string, action domain.TradeAction, side domain.Side, shares decimal.Decimal) (domain.Quote, error) {
	q := url.Values{}
	q.Set("action", string(action))
	q.Set("side", string(side))
	q.Set("amount", shares.String())
	var out domain.Quote
	if err := c.get(ctx, marketPath(id, "/quote?"+q.Encode()), &out); err != nil {
		return domain.Quote{}, fmt.Errorf("apiclient.Quote: %w", err)
	}
	return out, nil
}

// Trades devuelve el historial de un mercado, o de una cuenta si account no
// está vacío y id sí.
func (c *Client) Trades(ctx context.Context, id, account string, limit int) ([]domain.Trade, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var path string
	switch {
	case id != "":
		if account != "" {
			q.Set("account", account)
		}
		path = marketPath(id, "/trades")
	case account != "":
		path = accountPath(account, "/trades")
	default:
		return nil, fmt.Errorf("apiclient.Trades: %w: market or account required", domain.ErrInvalidAmount)
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []domain.Trade
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("apiclient.Trades: %w", err)
	}
	return out, nil
}

func (c *Client) CreateMarket(ctx context.Context, cfg domain.MarketConfig) (domain.MarketView, error) {
	var out domain.MarketView
	if err := c.post(ctx, "/api/markets", cfg, &out); err != nil {
		return domain.MarketView{}, fmt.Errorf("apiclient.CreateMarket: %w", err)
	}
	return out, nil
}

// Buy compra pagando como máximo maxCost (cero = sin tope).
func (c *Client) Buy(ctx context.Context, id, account string, side domain.Side, shares, maxCost decimal.Decimal) (domain.Trade, error) {
	return c.trade(ctx, "/buy", id, account, side, shares, maxCost)
}

// Sell vende recibiendo al menos minProceeds.
func (c *Client) Sell(ctx context.Context, id, account string, side domain.Side, shares, minProceeds decimal.Decimal) (domain.Trade, error) {
	return c.trade(ctx, "/sell", id, account, side, shares, minProceeds)
}

func (c *Client) trade(ctx context.Context, suffix, id, account string, side domain.Side, shares, limit decimal.Decimal) (domain.Trade, error) {
	var out domain.Trade
	req := tradeRequest{Account: account, Side: side, Shares: shares, Limit: limit}
	if err := c.post(ctx, marketPath(id, suffix), req, &out); err != nil {
		return domain.Trade{}, fmt.Errorf("apiclient.Trade: %w", err)
	}
	return out, nil
}

func (c *Client) AddLiquidity(ctx context.Context, id, account string, amount decimal.Decimal) (domain.LiquidityChange, error) {
	var out domain.LiquidityChange
	if err := c.post(ctx, marketPath(id, "/liquidity/add"), amountRequest{Account: account, Amount: amount}, &out); err != nil {
		return domain.LiquidityChange{}, fmt.Errorf("apiclient.AddLiquidity: %w", err)
	}
	return out, nil
}

func (c *Client) RemoveLiquidity(ctx context.Context, id, account string, shares decimal.Decimal) (domain.LiquidityChange, error) {
	var out domain.LiquidityChange
	if err := c.post(ctx, marketPath(id, "/liquidity/remove"), amountRequest{Account: account, Amount: shares}, &out); err != nil {
		return domain.LiquidityChange{}, fmt.Errorf("apiclient.RemoveLiquidity: %w", err)
	}
	return out, nil
}

func (c *Client) Merge(ctx context.Context, id, account string, amount decimal.Decimal) (domain.Position, error) {
	var out domain.Position
	if err := c.post(ctx, marketPath(id, "/merge"), amountRequest{Account: account, Amount: amount}, &out); err != nil {
		return domain.Position{}, fmt.Errorf("apiclient.Merge: %w", err)
	}
	return out, nil
}

func (c *Client) Redeem(ctx context.Context, id, account string) (decimal.Decimal, error) {
	var out struct {
		Payout decimal.Decimal `json:"payout"`
	}
	if err := c.post(ctx, marketPath(id, "/redeem"), accountRequest{Account: account}, &out); err != nil {
		return decimal.Zero, fmt.Errorf("apiclient.Redeem: %w", err)
	}
	return out.Payout, nil
}

func (c *Client) Graduate(ctx context.Context, id string) (domain.MarketView, error) {
	var out domain.MarketView
	if err := c.post(ctx, marketPath(id, "/graduate"), nil, &out); err != nil {
		return domain.MarketView{}, fmt.Errorf("apiclient.Graduate: %w", err)
	}
	return out, nil
}

func (c *Client) Cancel(ctx context.Context, id, caller string) (domain.MarketView, error) {
	var out domain.MarketView
	if err := c.post(ctx, marketPath(id, "/cancel"), accountRequest{Account: caller}, &out); err != nil {
		return domain.MarketView{}, fmt.Errorf("apiclient.Cancel: %w", err)
	}
	return out, nil
}

func (c *Client) SubmitProposal(ctx context.Context, id string, in domain.ProposalInput) (domain.Proposal, error) {
	var out domain.Proposal
	if err := c.post(ctx, marketPath(id, "/proposals"), in, &out); err != nil {
		return domain.Proposal{}, fmt.Errorf("apiclient.SubmitProposal: %w", err)
	}
	return out, nil
}

func (c *Client) Dispute(ctx context.Context, id, challenger string, counterDeposit decimal.Decimal) (domain.Proposal, error) {
	body := struct {
		Challenger     string          `json:"challenger"`
		CounterDeposit decimal.Decimal `json:"counter_deposit"`
	}{challenger, counterDeposit}
	var out domain.Proposal
	if err := c.post(ctx, marketPath(id, "/dispute"), body, &out); err != nil {
		return domain.Proposal{}, fmt.Errorf("apiclient.Dispute: %w", err)
	}
	return out, nil
}

func (c *Client) Finalize(ctx context.Context, id string) (domain.MarketView, error) {
	var out domain.MarketView
	if err := c.post(ctx, marketPath(id, "/finalize"), nil, &out); err != nil {
		return domain.MarketView{}, fmt.Errorf("apiclient.Finalize: %w", err)
	}
	return out, nil
}

func (c *Client) Resolve(ctx context.Context, id, caller string, outcome domain.Side) (domain.MarketView, error) {
	body := struct {
		Caller  string      `json:"caller"`
		Outcome domain.Side `json:"outcome"`
	}{caller, outcome}
	var out domain.MarketView
	if err := c.post(ctx, marketPath(id, "/resolve"), body, &out); err != nil {
		return domain.MarketView{}, fmt.Errorf("apiclient.Resolve: %w", err)
	}
	return out, nil
}

// --- accounts ---

func (c *Client) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	var out balanceResponse
	if err := c.get(ctx, accountPath(account, "/balance"), &out); err != nil {
		return decimal.Zero, fmt.Errorf("apiclient.Balance: %w", err)
	}
	return out.Balance, nil
}

func (c *Client) Portfolio(ctx context.Context, account string) (domain.Portfolio, error) {
	var out domain.Portfolio
	if err := c.get(ctx, accountPath(account, "/portfolio"), &out); err != nil {
		return domain.Portfolio{}, fmt.Errorf("apiclient.Portfolio: %w", err)
	}
	return out, nil
}

func (c *Client) Deposit(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	var out balanceResponse
	if err := c.post(ctx, accountPath(account, "/deposit"), amountRequest{Amount: amount}, &out); err != nil {
		return decimal.Zero, fmt.Errorf("apiclient.Deposit: %w", err)
	}
	return out.Balance, nil
}

func (c *Client) Withdraw(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	var out balanceResponse
	if err := c.post(ctx, accountPath(account, "/withdraw"), amountRequest{Amount: amount}, &out); err != nil {
		return decimal.Zero, fmt.Errorf("apiclient.Withdraw: %w", err)
	}
	return out.Balance, nil
}
