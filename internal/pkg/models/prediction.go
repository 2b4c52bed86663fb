package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Vodeneev/goalbot/internal/pkg/enums"
)

// Prediction is a time-boxed wager placed on a match. It is created open and
// resolved exactly once by settlement; after that it never changes.
type Prediction struct {
	ID         string               `json:"id"`
	MatchID    string               `json:"match_id"`
	Type       enums.PredictionType `json:"type"`
	Minute     int                  `json:"minute"`
	Stake      decimal.Decimal      `json:"stake"`
	Confidence float64              `json:"confidence"`
	// Frozen copy of the match state when the prediction was made.
	StatsAtCreation StatLine          `json:"stats_at_creation"`
	GoalsHome       int               `json:"goals_home"`
	GoalsAway       int               `json:"goals_away"`
	Danger          enums.DangerLevel `json:"danger"`
	Reason          string            `json:"reason"`

	Resolved   bool             `json:"resolved"`
	Correct    *bool            `json:"correct,omitempty"`
	Profit     *decimal.Decimal `json:"profit,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}

// Settlement describes how one open prediction resolves.
type Settlement struct {
	PredictionID string
	Correct      bool
	// Multiplier is applied to the stake: positive payout when correct, -1 when lost.
	Multiplier decimal.Decimal
}

// SettlementResult is what an atomic settlement wrote.
type SettlementResult struct {
	Prediction Prediction
	Entry      LedgerEntry
}
