package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Side es uno de los dos lados del mercado.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// ParseSide acepta "yes"/"no" en cualquier capitalización.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, nil
	case SideNo:
		return SideNo, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrInvalidAmount, s)
}

// Opposite devuelve el lado complementario.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// MarketStatus es el estado de resolución del mercado. Graduated va aparte.
type MarketStatus string

const (
	StatusActive          MarketStatus = "ACTIVE"
	StatusProposalPending MarketStatus = "PROPOSAL_PENDING"
	StatusDisputed        MarketStatus = "DISPUTED"
	StatusResolved        MarketStatus = "RESOLVED"
	StatusCancelled       MarketStatus = "CANCELLED"
)

var transitions = map[MarketStatus][]MarketStatus{
	StatusActive:          {StatusProposalPending, StatusCancelled},
	StatusProposalPending: {StatusDisputed, StatusResolved, StatusCancelled},
	StatusDisputed:        {StatusResolved, StatusCancelled},
}

// CanTransition reports whether the lifecycle allows from → to.
func CanTransition(from, to MarketStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Tradable reports whether buys and sells are accepted in this status.
func (s MarketStatus) Tradable() bool {
	return s == StatusActive || s == StatusProposalPending || s == StatusDisputed
}

// Final reports whether the status is terminal.
func (s MarketStatus) Final() bool {
	return s == StatusResolved || s == StatusCancelled
}

// GraduationCriteria son los umbrales de graduación, fijos desde la creación.
type GraduationCriteria struct {
	LiquidityThreshold decimal.Decimal `json:"liquidity_threshold"`
	VolumeThreshold    decimal.Decimal `json:"volume_threshold"`
	AgeThreshold       time.Duration   `json:"age_threshold"`
}

// Market es un mercado binario YES/NO.
type Market struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	Category        string             `json:"category"`
	Creator         string             `json:"creator"`
	Resolver        string             `json:"resolver"`
	SettlementAsset string             `json:"settlement_asset"`
	EndTime         time.Time          `json:"end_time"`
	MinDeposit      decimal.Decimal    `json:"min_deposit"`
	Status          MarketStatus       `json:"status"`
	Graduated       bool               `json:"graduated"`
	GraduatedAt     *time.Time         `json:"graduated_at,omitempty"`
	Outcome         Side               `json:"outcome,omitempty"`
	Criteria        GraduationCriteria `json:"graduation_criteria"`
	CreatedAt       time.Time          `json:"created_at"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
	Version         uint64             `json:"version"`
}

// Transition moves the market to a new status or fails without mutating it.
func (m *Market) Transition(to MarketStatus) error {
	if !CanTransition(m.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrMarketClosed, m.Status, to)
	}
	m.Status = to
	return nil
}

// Age devuelve la edad del mercado en now.
func (m Market) Age(now time.Time) time.Duration {
	if now.Before(m.CreatedAt) {
		return 0
	}
	return now.Sub(m.CreatedAt)
}

// Ended reports whether the trading period is over.
func (m Market) Ended(now time.Time) bool {
	return !now.Before(m.EndTime)
}

// MarketConfig son los parámetros de createMarket.
type MarketConfig struct {
	Title            string              `json:"title" validate:"required,max=200"`
	Description      string              `json:"description" validate:"max=5000"`
	Category         string              `json:"category" validate:"required,max=64"`
	Creator          string              `json:"creator" validate:"required"`
	Resolver         string              `json:"resolver" validate:"required"`
	SettlementAsset  string              `json:"settlement_asset"`
	EndTime          time.Time           `json:"end_time" validate:"required"`
	MinDeposit       decimal.Decimal     `json:"min_deposit"`
	InitialLiquidity decimal.Decimal     `json:"initial_liquidity"`
	FeeRate          *decimal.Decimal    `json:"fee_rate,omitempty"`
	Graduation       *GraduationCriteria `json:"graduation,omitempty"`
}

var validate = validator.New()

// MaxFeeRate es el fee máximo aceptado al crear un mercado.
var MaxFeeRate = decimal.NewFromFloat(0.1)

// Validate comprueba la config antes de tocar ningún estado.
func (c MarketConfig) Validate(now time.Time) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(c.Category) == "" {
		return fmt.Errorf("%w: category is empty", ErrInvalidConfig)
	}
	if !c.EndTime.After(now) {
		return fmt.Errorf("%w: end time %s is not in the future", ErrInvalidConfig, c.EndTime.Format(time.RFC3339))
	}
	if err := ValidateAmount("min_deposit", c.MinDeposit); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := ValidateAmount("initial_liquidity", c.InitialLiquidity); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.FeeRate != nil && (c.FeeRate.IsNegative() || c.FeeRate.GreaterThanOrEqual(MaxFeeRate)) {
		return fmt.Errorf("%w: fee rate %s outside [0, %s)", ErrInvalidConfig, c.FeeRate, MaxFeeRate)
	}
	if g := c.Graduation; g != nil {
		if !g.LiquidityThreshold.IsPositive() || !g.VolumeThreshold.IsPositive() || g.AgeThreshold <= 0 {
			return fmt.Errorf("%w: graduation thresholds must be positive", ErrInvalidConfig)
		}
	}
	return nil
}

// TokenPrices son los precios YES/NO derivados de las reservas.
type TokenPrices struct {
	Yes decimal.Decimal `json:"yes"`
	No  decimal.Decimal `json:"no"`
}

// MarketView es el snapshot de lectura de un mercado.
type MarketView struct {
	Market    Market      `json:"market"`
	Pool      Pool        `json:"pool"`
	Prices    TokenPrices `json:"prices"`
	Proposals []Proposal  `json:"proposals"`
}

// TruncateTitle devuelve el título truncado a maxLen caracteres.
// Si está vacío usa el ID como fallback.
func TruncateTitle(title, id string, maxLen int) string {
	t := title
	if t == "" {
		if len(id) > 20 {
			t = id[:20] + "..."
		} else {
			t = id
		}
	}
	if len(t) > maxLen {
		t = t[:maxLen-3] + "..."
	}
	return t
}
