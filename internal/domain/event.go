package domain

import "time"

// EventType identifica un cambio publicado a los suscriptores.
type EventType string

const (
	EventMarketCreated     EventType = "market_created"
	EventTrade             EventType = "trade"
	EventLiquidity         EventType = "liquidity"
	EventProposalSubmitted EventType = "proposal_submitted"
	EventProposalDisputed  EventType = "proposal_disputed"
	EventMarketResolved    EventType = "market_resolved"
	EventMarketCancelled   EventType = "market_cancelled"
	EventMarketGraduated   EventType = "market_graduated"
)

// Event es el mensaje que recibe el feed de precios.
type Event struct {
	Type     EventType    `json:"type"`
	MarketID string       `json:"market_id"`
	Category string       `json:"category"`
	Status   MarketStatus `json:"status"`
	Prices   TokenPrices  `json:"prices"`
	Version  uint64       `json:"version"`
	Trade    *Trade       `json:"trade,omitempty"`
	At       time.Time    `json:"at"`
}
