package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// AmountScale es la unidad mínima representable: 1e-18 (wei-like).
	AmountScale int32 = 18
	// PriceScale son los decimales con los que se publican precios y probabilidades.
	PriceScale int32 = 18
	// calcPrecision es la precisión intermedia de divisiones y raíces.
	calcPrecision int32 = 36
)

var (
	// MaxAmount acota cualquier cantidad de entrada. Con reservas ≤ 1e30 los
	// productos intermedios caben holgadamente en la precisión de cálculo.
	MaxAmount = decimal.New(1, 30)
	// MinReserve es la reserva mínima que un trade puede dejar en el pool.
	MinReserve = decimal.New(1, -6)
	// Unit es la unidad mínima (1e-18).
	Unit = decimal.New(1, -AmountScale)

	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// ValidateAmount rechaza cantidades no positivas, demasiado grandes o con
// más decimales que la unidad mínima.
func ValidateAmount(name string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, name)
	}
	if v.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, name, MaxAmount)
	}
	if !v.Equal(v.Truncate(AmountScale)) {
		return fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, name, AmountScale)
	}
	return nil
}

// ceilUnit redondea hacia +inf a la unidad mínima.
func ceilUnit(v decimal.Decimal) decimal.Decimal {
	return v.RoundCeil(AmountScale)
}

// floorUnit redondea hacia -inf a la unidad mínima.
func floorUnit(v decimal.Decimal) decimal.Decimal {
	return v.RoundFloor(AmountScale)
}

// div divide con la precisión intermedia del engine.
func div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, calcPrecision)
}

// sqrt calcula la raíz cuadrada por Newton-Raphson partiendo de la
// aproximación float64. shopspring/decimal no trae Sqrt.
func sqrt(v decimal.Decimal) decimal.Decimal {
	if !v.IsPositive() {
		return decimal.Zero
	}
	x := decimal.NewFromFloat(math.Sqrt(v.InexactFloat64()))
	if !x.IsPositive() {
		x = one
	}
	eps := decimal.New(1, -calcPrecision)
	for i := 0; i < 64; i++ {
		next := x.Add(div(v, x)).DivRound(two, calcPrecision)
		if next.Sub(x).Abs().LessThanOrEqual(eps) {
			return next
		}
		x = next
	}
	return x
}

// ProRata devuelve floor(amount * part / whole) a la unidad mínima.
func ProRata(amount, part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return floorUnit(div(amount.Mul(part), whole))
}
