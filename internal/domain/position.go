package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position son las tenencias de una cuenta en un mercado.
// El coste es promedio: las ventas reducen el coste pro rata.
type Position struct {
	Account  string          `json:"account"`
	MarketID string          `json:"market_id"`
	Yes      decimal.Decimal `json:"yes"`
	No       decimal.Decimal `json:"no"`
	YesCost  decimal.Decimal `json:"yes_cost"`
	NoCost   decimal.Decimal `json:"no_cost"`
	LPShares decimal.Decimal `json:"lp_shares"`
	LPCost   decimal.Decimal `json:"lp_cost"`
}

// NewPosition devuelve una posición vacía.
func NewPosition(account, marketID string) Position {
	return Position{
		Account:  account,
		MarketID: marketID,
		Yes:      decimal.Zero,
		No:       decimal.Zero,
		YesCost:  decimal.Zero,
		NoCost:   decimal.Zero,
		LPShares: decimal.Zero,
		LPCost:   decimal.Zero,
	}
}

// Shares devuelve el balance del lado dado.
func (p Position) Shares(side Side) decimal.Decimal {
	if side == SideYes {
		return p.Yes
	}
	return p.No
}

// Cost devuelve el coste base del lado dado.
func (p Position) Cost(side Side) decimal.Decimal {
	if side == SideYes {
		return p.YesCost
	}
	return p.NoCost
}

// TradeCost es lo pagado por las shares YES/NO que quedan.
func (p Position) TradeCost() decimal.Decimal {
	return p.YesCost.Add(p.NoCost)
}

// CostBasis es el coste total de la posición, liquidez incluida.
func (p Position) CostBasis() decimal.Decimal {
	return p.TradeCost().Add(p.LPCost)
}

// IsEmpty reports whether nothing is held (logically removed).
func (p Position) IsEmpty() bool {
	return p.Yes.IsZero() && p.No.IsZero() && p.LPShares.IsZero()
}

// Credit añade shares con su coste.
func (p Position) Credit(side Side, shares, cost decimal.Decimal) Position {
	if side == SideYes {
		p.Yes = p.Yes.Add(shares)
		p.YesCost = p.YesCost.Add(cost)
	} else {
		p.No = p.No.Add(shares)
		p.NoCost = p.NoCost.Add(cost)
	}
	return p
}

// Debit quita shares y reduce el coste base pro rata.
func (p Position) Debit(side Side, shares decimal.Decimal) Position {
	held := p.Shares(side)
	cost := p.Cost(side)
	var released decimal.Decimal
	if shares.GreaterThanOrEqual(held) {
		released = cost
	} else {
		released = floorUnit(div(cost.Mul(shares), held))
	}
	if side == SideYes {
		p.Yes = p.Yes.Sub(shares)
		p.YesCost = p.YesCost.Sub(released)
	} else {
		p.No = p.No.Sub(shares)
		p.NoCost = p.NoCost.Sub(released)
	}
	return p
}

// AddLP suma shares LP con su coste.
func (p Position) AddLP(shares, cost decimal.Decimal) Position {
	p.LPShares = p.LPShares.Add(shares)
	p.LPCost = p.LPCost.Add(cost)
	return p
}

// RemoveLP quita shares LP y libera su coste pro rata.
func (p Position) RemoveLP(shares decimal.Decimal) Position {
	if shares.GreaterThanOrEqual(p.LPShares) {
		p.LPShares = decimal.Zero
		p.LPCost = decimal.Zero
		return p
	}
	released := floorUnit(div(p.LPCost.Mul(shares), p.LPShares))
	p.LPShares = p.LPShares.Sub(shares)
	p.LPCost = p.LPCost.Sub(released)
	return p
}

// Clear vacía la posición (mercado cancelado o redimido).
func (p Position) Clear() Position {
	return NewPosition(p.Account, p.MarketID)
}

// Trade es un buy/sell ejecutado contra el pool.
type Trade struct {
	ID       string          `json:"id"`
	MarketID string          `json:"market_id"`
	Account  string          `json:"account"`
	Side     Side            `json:"side"`
	Action   TradeAction     `json:"action"`
	Shares   decimal.Decimal `json:"shares"`
	Amount   decimal.Decimal `json:"amount"`
	Price    decimal.Decimal `json:"price"`
	Fee      decimal.Decimal `json:"fee"`
	At       time.Time       `json:"at"`
}

// PortfolioEntry es una posición valorada a precio de pool.
type PortfolioEntry struct {
	Position      Position        `json:"position"`
	Title         string          `json:"title"`
	Status        MarketStatus    `json:"status"`
	Prices        TokenPrices     `json:"prices"`
	Value         decimal.Decimal `json:"value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio agrega todas las posiciones de una cuenta.
type Portfolio struct {
	Account   string           `json:"account"`
	Balance   decimal.Decimal  `json:"balance"`
	Entries   []PortfolioEntry `json:"entries"`
	Value     decimal.Decimal  `json:"value"`
	CostBasis decimal.Decimal  `json:"cost_basis"`
	PnL       decimal.Decimal  `json:"pnl"`
}

// Valuate marca la posición a mercado. En mercados resueltos las shares
// ganadoras valen 1 y las perdedoras 0.
func Valuate(m Market, pool Pool, pos Position) PortfolioEntry {
	prices := pool.Prices()
	switch {
	case m.Status == StatusResolved && m.Outcome == SideYes:
		prices = TokenPrices{Yes: one, No: decimal.Zero}
	case m.Status == StatusResolved && m.Outcome == SideNo:
		prices = TokenPrices{Yes: decimal.Zero, No: one}
	}
	value := pos.Yes.Mul(prices.Yes).Add(pos.No.Mul(prices.No))
	if pos.LPShares.IsPositive() && pool.LPShares.IsPositive() {
		frac := div(pos.LPShares, pool.LPShares)
		lp := pool.YesReserve.Mul(prices.Yes).Add(pool.NoReserve.Mul(prices.No)).Mul(frac)
		value = value.Add(lp)
	}
	value = value.Round(AmountScale)
	return PortfolioEntry{
		Position:      pos,
		Title:         m.Title,
		Status:        m.Status,
		Prices:        prices,
		Value:         value,
		UnrealizedPnL: value.Sub(pos.CostBasis()),
	}
}
