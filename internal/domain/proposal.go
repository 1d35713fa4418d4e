package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProposalStatus es el ciclo de vida de una propuesta de resolución.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "PENDING"
	ProposalDisputed ProposalStatus = "DISPUTED"
	ProposalAccepted ProposalStatus = "ACCEPTED"
	ProposalRejected ProposalStatus = "REJECTED"
)

// Open reports whether the proposal still holds escrowed deposits.
func (s ProposalStatus) Open() bool {
	return s == ProposalPending || s == ProposalDisputed
}

// Proposal es una afirmación de resultado respaldada por un depósito.
// Los depósitos quedan en escrow en la propuesta, fuera de las reservas.
type Proposal struct {
	ID              string          `json:"id"`
	MarketID        string          `json:"market_id"`
	Proposer        string          `json:"proposer"`
	Outcome         Side            `json:"outcome"`
	Title           string          `json:"title,omitempty"`
	Description     string          `json:"description,omitempty"`
	Evidence        string          `json:"evidence"`
	Deposit         decimal.Decimal `json:"deposit"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	DisputeDeadline time.Time       `json:"dispute_deadline"`
	Status          ProposalStatus  `json:"status"`
	Challenger      string          `json:"challenger,omitempty"`
	CounterDeposit  decimal.Decimal `json:"counter_deposit"`
	DisputedAt      *time.Time      `json:"disputed_at,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

// ProposalInput son los parámetros de submitProposal.
type ProposalInput struct {
	Proposer    string          `json:"proposer" validate:"required"`
	Outcome     Side            `json:"outcome" validate:"required,oneof=YES NO"`
	Title       string          `json:"title" validate:"max=200"`
	Description string          `json:"description" validate:"max=5000"`
	Evidence    string          `json:"evidence" validate:"max=2000"`
	Deposit     decimal.Decimal `json:"deposit"`
}

// ForfeitPolicy reparte el depósito perdedor de una disputa: WinnerShare al
// lado que prevalece y el resto a Sink. Sink vacío = se quema.
type ForfeitPolicy struct {
	WinnerShare decimal.Decimal `json:"winner_share"`
	Sink        string          `json:"sink"`
}

// Split divide el depósito perdido en (ganador, sink).
func (f ForfeitPolicy) Split(forfeited decimal.Decimal) (toWinner, toSink decimal.Decimal) {
	share := decimal.Min(decimal.Max(f.WinnerShare, decimal.Zero), one)
	toWinner = floorUnit(forfeited.Mul(share))
	return toWinner, forfeited.Sub(toWinner)
}

// BalanceDelta es un movimiento firmado sobre el saldo de liquidación.
type BalanceDelta struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// IntentKind distingue los tipos de liquidación.
type IntentKind string

const (
	IntentFinalize          IntentKind = "FINALIZE"
	IntentDisputeResolution IntentKind = "DISPUTE_RESOLUTION"
	IntentCancel            IntentKind = "CANCEL"
)

// IntentStatus indica si la intención ya se aplicó.
type IntentStatus string

const (
	IntentPending IntentStatus = "PENDING"
	IntentApplied IntentStatus = "APPLIED"
)

// SettlementIntent describe todo lo que cambia al cerrar un mercado. Se
// persiste antes de aplicarse y se reaplica tal cual tras un crash; nunca se
// recalcula el resultado.
type SettlementIntent struct {
	ID             string         `json:"id"`
	MarketID       string         `json:"market_id"`
	Kind           IntentKind     `json:"kind"`
	Outcome        Side           `json:"outcome,omitempty"`
	ProposalID     string         `json:"proposal_id,omitempty"`
	ProposalStatus ProposalStatus `json:"proposal_status,omitempty"`
	Deltas         []BalanceDelta `json:"deltas"`
	Status         IntentStatus   `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	AppliedAt      *time.Time     `json:"applied_at,omitempty"`
}

// MarketRecord es lo que se archiva al cerrar un mercado.
type MarketRecord struct {
	Market    Market            `json:"market"`
	Pool      Pool              `json:"pool"`
	Proposals []Proposal        `json:"proposals"`
	Intent    *SettlementIntent `json:"intent,omitempty"`
	Archived  time.Time         `json:"archived_at"`
}
