package domain

// pool.go — market maker de producto fijo para sets YES/NO.
//
// 1 unidad de colateral mintea 1 YES + 1 NO. El pool guarda tokens de
// resultado; el colateral total respalda exactamente los sets en circulación,
// así que cada share ganadora siempre se puede redimir por 1.
//
//   p(YES) = NoReserve / (YesReserve + NoReserve)
//
// El fee se descuenta del input al calcular el invariante pero se acredita
// entero a las reservas, así que yes*no nunca baja en un swap.

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Pool es el AMM de un mercado.
type Pool struct {
	MarketID   string          `json:"market_id"`
	YesReserve decimal.Decimal `json:"yes_reserve"`
	NoReserve  decimal.Decimal `json:"no_reserve"`
	LPShares   decimal.Decimal `json:"lp_shares"`
	Collateral decimal.Decimal `json:"collateral"`
	Volume     decimal.Decimal `json:"volume"`
	FeeRate    decimal.Decimal `json:"fee_rate"`
	TradeCount int64           `json:"trade_count"`
}

// TradeAction distingue compras y ventas.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// ParseAction acepta "buy"/"sell" en cualquier capitalización.
func ParseAction(s string) (TradeAction, error) {
	switch TradeAction(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy, nil
	case ActionSell:
		return ActionSell, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidAmount, s)
}

// Quote es el resultado de cotizar un trade sin ejecutarlo.
// Para compras Amount es el coste; para ventas, lo que recibe el trader.
type Quote struct {
	Side        Side            `json:"side"`
	Action      TradeAction     `json:"action"`
	Shares      decimal.Decimal `json:"shares"`
	Amount      decimal.Decimal `json:"amount"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	Fee         decimal.Decimal `json:"fee"`
	YesReserve  decimal.Decimal `json:"-"`
	NoReserve   decimal.Decimal `json:"-"`
	NewYesPrice decimal.Decimal `json:"new_yes_price"`
}

// NewPool crea el pool con liquidez inicial 50/50.
func NewPool(marketID string, liquidity, feeRate decimal.Decimal) Pool {
	return Pool{
		MarketID:   marketID,
		YesReserve: liquidity,
		NoReserve:  liquidity,
		LPShares:   liquidity,
		Collateral: liquidity,
		Volume:     decimal.Zero,
		FeeRate:    feeRate,
	}
}

// K es el invariante de producto.
func (p Pool) K() decimal.Decimal {
	return p.YesReserve.Mul(p.NoReserve)
}

func (p Pool) reserves(side Side) (own, other decimal.Decimal) {
	if side == SideYes {
		return p.YesReserve, p.NoReserve
	}
	return p.NoReserve, p.YesReserve
}

func (p Pool) withReserves(side Side, own, other decimal.Decimal) Pool {
	if side == SideYes {
		p.YesReserve, p.NoReserve = own, other
	} else {
		p.NoReserve, p.YesReserve = own, other
	}
	return p
}

// ImpliedProbability es reserve(complemento) / (yes + no).
func (p Pool) ImpliedProbability(side Side) decimal.Decimal {
	prices := p.Prices()
	if side == SideYes {
		return prices.Yes
	}
	return prices.No
}

// Prices calcula los precios YES/NO. NO se deriva como 1 - YES para que la
// suma sea exactamente 1.
func (p Pool) Prices() TokenPrices {
	total := p.YesReserve.Add(p.NoReserve)
	if !total.IsPositive() {
		half := decimal.NewFromFloat(0.5)
		return TokenPrices{Yes: half, No: half}
	}
	yes := p.NoReserve.DivRound(total, PriceScale)
	return TokenPrices{Yes: yes, No: one.Sub(yes)}
}

// LiquidityValue es el valor de las reservas a precios actuales.
func (p Pool) LiquidityValue() decimal.Decimal {
	prices := p.Prices()
	return p.YesReserve.Mul(prices.Yes).Add(p.NoReserve.Mul(prices.No)).Round(AmountScale)
}

// QuoteBuy cotiza la compra de shares del lado side.
func (p Pool) QuoteBuy(side Side, shares decimal.Decimal) (Quote, error) {
	if err := ValidateAmount("shares", shares); err != nil {
		return Quote{}, err
	}
	rs, ro := p.reserves(side)
	if !rs.IsPositive() || !ro.IsPositive() {
		return Quote{}, fmt.Errorf("%w: pool is empty", ErrInsufficientReserve)
	}

	// x² + x(rs + ro - a) - a·ro = 0, raíz positiva.
	b := rs.Add(ro).Sub(shares)
	disc := b.Mul(b).Add(shares.Mul(ro).Mul(decimal.NewFromInt(4)))
	root := sqrt(disc)
	var x decimal.Decimal
	if b.IsNegative() {
		x = root.Sub(b).DivRound(two, calcPrecision)
	} else {
		x = div(two.Mul(shares).Mul(ro), b.Add(root))
	}

	feeMul := one.Sub(p.FeeRate)
	cost := ceilUnit(div(x, feeMul))
	newOwn := rs.Add(cost).Sub(shares)
	newOther := ro.Add(cost)
	// El redondeo nunca puede dejar k por debajo.
	for newOwn.Mul(newOther).LessThan(p.K()) {
		cost = cost.Add(Unit)
		newOwn = newOwn.Add(Unit)
		newOther = newOther.Add(Unit)
	}
	if newOwn.LessThan(MinReserve) {
		return Quote{}, fmt.Errorf("%w: buying %s %s would drain the pool", ErrInsufficientReserve, shares, side)
	}

	next := p.withReserves(side, newOwn, newOther)
	return Quote{
		Side:        side,
		Action:      ActionBuy,
		Shares:      shares,
		Amount:      cost,
		AvgPrice:    cost.DivRound(shares, PriceScale),
		Fee:         ceilUnit(cost.Mul(p.FeeRate)),
		YesReserve:  next.YesReserve,
		NoReserve:   next.NoReserve,
		NewYesPrice: next.Prices().Yes,
	}, nil
}

// QuoteSell cotiza la venta de shares del lado side.
func (p Pool) QuoteSell(side Side, shares decimal.Decimal) (Quote, error) {
	if err := ValidateAmount("shares", shares); err != nil {
		return Quote{}, err
	}
	rs, ro := p.reserves(side)
	if !rs.IsPositive() || !ro.IsPositive() {
		return Quote{}, fmt.Errorf("%w: pool is empty", ErrInsufficientReserve)
	}

	// y² - y(rs + a + ro) + a·ro = 0, raíz menor (forma estable).
	b := rs.Add(shares).Add(ro)
	disc := b.Mul(b).Sub(shares.Mul(ro).Mul(decimal.NewFromInt(4)))
	y := div(two.Mul(shares).Mul(ro), b.Add(sqrt(disc)))

	feeMul := one.Sub(p.FeeRate)
	proceeds := floorUnit(y.Mul(feeMul))
	newOwn := rs.Add(shares).Sub(proceeds)
	newOther := ro.Sub(proceeds)
	for proceeds.IsPositive() && newOwn.Mul(newOther).LessThan(p.K()) {
		proceeds = proceeds.Sub(Unit)
		newOwn = newOwn.Add(Unit)
		newOther = newOther.Add(Unit)
	}
	if !proceeds.IsPositive() {
		return Quote{}, fmt.Errorf("%w: selling %s %s yields nothing", ErrInsufficientReserve, shares, side)
	}
	if newOther.LessThan(MinReserve) {
		return Quote{}, fmt.Errorf("%w: selling %s %s would drain the pool", ErrInsufficientReserve, shares, side)
	}

	next := p.withReserves(side, newOwn, newOther)
	return Quote{
		Side:        side,
		Action:      ActionSell,
		Shares:      shares,
		Amount:      proceeds,
		AvgPrice:    proceeds.DivRound(shares, PriceScale),
		Fee:         floorUnit(div(proceeds, feeMul).Sub(proceeds)),
		YesReserve:  next.YesReserve,
		NoReserve:   next.NoReserve,
		NewYesPrice: next.Prices().Yes,
	}, nil
}

// Quote cotiza según la acción.
func (p Pool) Quote(action TradeAction, side Side, shares decimal.Decimal) (Quote, error) {
	if !side.Valid() {
		return Quote{}, fmt.Errorf("%w: unknown side %q", ErrInvalidAmount, side)
	}
	switch action {
	case ActionBuy:
		return p.QuoteBuy(side, shares)
	case ActionSell:
		return p.QuoteSell(side, shares)
	}
	return Quote{}, fmt.Errorf("%w: unknown action %q", ErrInvalidAmount, action)
}

// Swap ejecuta una compra con tope de coste y devuelve el pool resultante.
// maxCost cero desactiva el tope.
func (p Pool) Swap(side Side, shares, maxCost decimal.Decimal) (Pool, Quote, error) {
	q, err := p.QuoteBuy(side, shares)
	if err != nil {
		return p, Quote{}, err
	}
	if maxCost.IsPositive() && q.Amount.GreaterThan(maxCost) {
		return p, Quote{}, fmt.Errorf("%w: cost %s > max %s", ErrSlippageExceeded, q.Amount, maxCost)
	}
	return p.apply(q), q, nil
}

// SwapOut ejecuta una venta con mínimo de lo recibido.
func (p Pool) SwapOut(side Side, shares, minProceeds decimal.Decimal) (Pool, Quote, error) {
	q, err := p.QuoteSell(side, shares)
	if err != nil {
		return p, Quote{}, err
	}
	if q.Amount.LessThan(minProceeds) {
		return p, Quote{}, fmt.Errorf("%w: proceeds %s < min %s", ErrSlippageExceeded, q.Amount, minProceeds)
	}
	return p.apply(q), q, nil
}

func (p Pool) apply(q Quote) Pool {
	p.YesReserve = q.YesReserve
	p.NoReserve = q.NoReserve
	if q.Action == ActionBuy {
		p.Collateral = p.Collateral.Add(q.Amount)
	} else {
		p.Collateral = p.Collateral.Sub(q.Amount)
	}
	p.Volume = p.Volume.Add(q.Amount)
	p.TradeCount++
	return p
}

// LiquidityChange describe el efecto de añadir o retirar liquidez.
// Yes/No son los tokens que vuelven al proveedor.
type LiquidityChange struct {
	Shares decimal.Decimal `json:"shares"`
	Yes    decimal.Decimal `json:"yes"`
	No     decimal.Decimal `json:"no"`
	Merged decimal.Decimal `json:"merged"`
}

// AddLiquidity mintea amount sets y los reparte en la proporción actual.
// Los tokens que no entran en el pool vuelven al proveedor.
func (p Pool) AddLiquidity(amount decimal.Decimal) (Pool, LiquidityChange, error) {
	if err := ValidateAmount("amount", amount); err != nil {
		return p, LiquidityChange{}, err
	}
	if !p.LPShares.IsPositive() || !p.YesReserve.IsPositive() || !p.NoReserve.IsPositive() {
		p.YesReserve = p.YesReserve.Add(amount)
		p.NoReserve = p.NoReserve.Add(amount)
		p.LPShares = p.LPShares.Add(amount)
		p.Collateral = p.Collateral.Add(amount)
		return p, LiquidityChange{Shares: amount, Yes: decimal.Zero, No: decimal.Zero}, nil
	}

	weight := decimal.Max(p.YesReserve, p.NoReserve)
	minted := floorUnit(div(amount.Mul(p.LPShares), weight))
	addYes := floorUnit(div(amount.Mul(p.YesReserve), weight))
	addNo := floorUnit(div(amount.Mul(p.NoReserve), weight))
	if !minted.IsPositive() {
		return p, LiquidityChange{}, fmt.Errorf("%w: amount %s mints no shares", ErrInvalidAmount, amount)
	}

	p.YesReserve = p.YesReserve.Add(addYes)
	p.NoReserve = p.NoReserve.Add(addNo)
	p.LPShares = p.LPShares.Add(minted)
	p.Collateral = p.Collateral.Add(amount)
	return p, LiquidityChange{
		Shares: minted,
		Yes:    amount.Sub(addYes),
		No:     amount.Sub(addNo),
	}, nil
}

// RemoveLiquidity quema shares LP y devuelve tokens en la proporción actual.
// Los pares YES+NO devueltos se fusionan en colateral (Merged).
func (p Pool) RemoveLiquidity(shares decimal.Decimal) (Pool, LiquidityChange, error) {
	if err := ValidateAmount("shares", shares); err != nil {
		return p, LiquidityChange{}, err
	}
	if shares.GreaterThan(p.LPShares) {
		return p, LiquidityChange{}, fmt.Errorf("%w: %s shares > pool total %s", ErrInsufficientReserve, shares, p.LPShares)
	}

	var outYes, outNo decimal.Decimal
	if shares.Equal(p.LPShares) {
		outYes, outNo = p.YesReserve, p.NoReserve
	} else {
		outYes = floorUnit(div(p.YesReserve.Mul(shares), p.LPShares))
		outNo = floorUnit(div(p.NoReserve.Mul(shares), p.LPShares))
	}
	merged := decimal.Min(outYes, outNo)

	p.YesReserve = p.YesReserve.Sub(outYes)
	p.NoReserve = p.NoReserve.Sub(outNo)
	p.LPShares = p.LPShares.Sub(shares)
	p.Collateral = p.Collateral.Sub(merged)
	return p, LiquidityChange{
		Shares: shares,
		Yes:    outYes.Sub(merged),
		No:     outNo.Sub(merged),
		Merged: merged,
	}, nil
}

// Merge quema amount sets en circulación a cambio de colateral.
func (p Pool) Merge(amount decimal.Decimal) (Pool, error) {
	return p.release("merge", amount)
}

// Redeem paga amount shares ganadoras con colateral tras la resolución.
func (p Pool) Redeem(amount decimal.Decimal) (Pool, error) {
	return p.release("redeem", amount)
}

func (p Pool) release(op string, amount decimal.Decimal) (Pool, error) {
	if err := ValidateAmount("amount", amount); err != nil {
		return p, err
	}
	if amount.GreaterThan(p.Collateral) {
		return p, fmt.Errorf("%w: %s %s > collateral %s", ErrInsufficientReserve, op, amount, p.Collateral)
	}
	p.Collateral = p.Collateral.Sub(amount)
	return p, nil
}

// WithdrawResolved retira la parte de shares LP de las reservas de un
// mercado resuelto. Devuelve las shares ganadoras que le tocan; las
// perdedoras se queman.
func (p Pool) WithdrawResolved(outcome Side, shares decimal.Decimal) (Pool, decimal.Decimal, error) {
	next, change, err := p.RemoveLiquidity(shares)
	if err != nil {
		return p, decimal.Zero, err
	}
	// RemoveLiquidity fusiona los pares; aquí se deshace la fusión porque
	// el colateral lo paga Redeem.
	next.Collateral = next.Collateral.Add(change.Merged)
	won := change.Merged.Add(change.Yes)
	if outcome == SideNo {
		won = change.Merged.Add(change.No)
	}
	return next, won, nil
}
