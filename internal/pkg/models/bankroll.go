package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReasonPredictionWin  = "prediction_win"
	ReasonPredictionLoss = "prediction_loss"
)

var (
	DefaultBalance         = decimal.NewFromInt(100)
	DefaultStakePercentage = decimal.NewFromInt(5)
)

// BankrollConfig is the single shared bankroll. Balance only moves through settlement,
// which writes a LedgerEntry for every change.
type BankrollConfig struct {
	Balance         decimal.Decimal `json:"balance"`
	InitialBalance  decimal.Decimal `json:"initial_balance"`
	StakePercentage decimal.Decimal `json:"stake_percentage"`
	Active          bool            `json:"active"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DefaultBankrollConfig is used when no bankroll row exists yet.
func DefaultBankrollConfig() BankrollConfig {
	return BankrollConfig{
		Balance:         DefaultBalance,
		InitialBalance:  DefaultBalance,
		StakePercentage: DefaultStakePercentage,
		Active:          true,
		UpdatedAt:       time.Now().UTC(),
	}
}

// StakeFor returns balance × stakePercentage / 100.
func (c BankrollConfig) StakeFor() decimal.Decimal {
	return c.Balance.Mul(c.StakePercentage).Div(decimal.NewFromInt(100))
}

// LedgerEntry is an append-only record of one balance transition.
type LedgerEntry struct {
	ID              int64           `json:"id"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	Change          decimal.Decimal `json:"change"`
	Reason          string          `json:"reason"`
	PredictionID    string          `json:"prediction_id"`
	CreatedAt       time.Time       `json:"created_at"`
}
