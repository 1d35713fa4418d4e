package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GraduationStats son las entradas del evaluador.
type GraduationStats struct {
	Liquidity decimal.Decimal
	Volume    decimal.Decimal
	Age       time.Duration
}

// GraduationProgress es el progreso de cada umbral, acotado a [0, 1].
type GraduationProgress struct {
	LiquidityProgress decimal.Decimal    `json:"liquidity_progress"`
	VolumeProgress    decimal.Decimal    `json:"volume_progress"`
	AgeProgress       decimal.Decimal    `json:"age_progress"`
	CanGraduate       bool               `json:"can_graduate"`
	Stats             GraduationStats    `json:"-"`
	Criteria          GraduationCriteria `json:"-"`
}

// EvaluateGraduation es pura: sin crédito parcial, los tres umbrales deben
// estar al 100%.
func EvaluateGraduation(stats GraduationStats, c GraduationCriteria) GraduationProgress {
	liq := progress(stats.Liquidity, c.LiquidityThreshold)
	vol := progress(stats.Volume, c.VolumeThreshold)
	age := progress(
		decimal.NewFromInt(int64(stats.Age/time.Second)),
		decimal.NewFromInt(int64(c.AgeThreshold/time.Second)),
	)
	return GraduationProgress{
		LiquidityProgress: liq,
		VolumeProgress:    vol,
		AgeProgress:       age,
		CanGraduate:       liq.Equal(one) && vol.Equal(one) && age.Equal(one),
		Stats:             stats,
		Criteria:          c,
	}
}

// progress = min(current/threshold, 1). Un umbral no positivo cuenta como cumplido.
func progress(current, threshold decimal.Decimal) decimal.Decimal {
	if !threshold.IsPositive() {
		return one
	}
	if current.GreaterThanOrEqual(threshold) {
		return one
	}
	if !current.IsPositive() {
		return decimal.Zero
	}
	// floor: un valor por debajo del umbral nunca redondea a 1.
	return div(current, threshold).RoundFloor(PriceScale)
}
