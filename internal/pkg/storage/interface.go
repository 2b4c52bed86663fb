package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Vodeneev/goalbot/internal/pkg/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyResolved = errors.New("prediction already resolved")
	// ErrLedgerMismatch means initial balance plus all ledger changes no longer equals the balance.
	ErrLedgerMismatch = errors.New("ledger does not add up to balance")
)

const (
	DefaultLeague = "Unknown League"
	DefaultStatus = "Live"
)

// Store is the persistence contract shared by the tracker, the engine and settlement.
// Implementations must be safe for concurrent use by both loops.
type Store interface {
	// UpsertMatch creates the match if absent, otherwise updates its mutable fields.
	// A snapshot is appended when the update carries stats. A nil minute keeps the last
	// known clock.
	UpsertMatch(ctx context.Context, u models.MatchUpdate) error

	// GetMatch returns ErrNotFound for an unknown external id.
	GetMatch(ctx context.Context, externalID string) (*models.Match, error)

	// TrackedMatches returns every match still being followed.
	TrackedMatches(ctx context.Context) ([]models.Match, error)

	// MarkUntracked stops a match from being analyzed without marking it finished.
	MarkUntracked(ctx context.Context, externalID string) error

	// RecentSnapshots returns at most limit latest snapshots ordered oldest to newest.
	RecentSnapshots(ctx context.Context, matchID string, limit int) ([]models.Snapshot, error)

	// MatchesWithOpenPredictions returns the ids of every match, tracked or not, holding an open prediction.
	MatchesWithOpenPredictions(ctx context.Context) ([]string, error)

	// OpenPredictions returns the unresolved predictions of a match.
	OpenPredictions(ctx context.Context, matchID string) ([]models.Prediction, error)

	// CreatePrediction inserts p only if no open prediction of the same type exists for the match.
	// Returns true if the record was newly inserted.
	CreatePrediction(ctx context.Context, p *models.Prediction) (bool, error)

	// ResolvedPredictions returns the resolved predictions of a match.
	ResolvedPredictions(ctx context.Context, matchID string) ([]models.Prediction, error)

	// GetBankroll returns the bankroll, creating it with defaults when absent.
	GetBankroll(ctx context.Context) (models.BankrollConfig, error)

	SetBankrollActive(ctx context.Context, active bool) error

	// SettlePrediction resolves one open prediction, moves the balance by Multiplier × stake
	// and appends the ledger entry, all as one unit. A resolved prediction yields ErrAlreadyResolved.
	SettlePrediction(ctx context.Context, s models.Settlement) (*models.SettlementResult, error)

	// Ledger returns every ledger entry, oldest first.
	Ledger(ctx context.Context) ([]models.LedgerEntry, error)

	// VerifyLedger returns ErrLedgerMismatch if initial balance + Σ changes != balance.
	VerifyLedger(ctx context.Context) error

	// GetWeights returns the weight state, seeding it when absent.
	GetWeights(ctx context.Context) (models.WeightState, error)

	SaveWeights(ctx context.Context, w models.WeightState) error

	Summary(ctx context.Context) (Summary, error)

	Close() error
}

// Summary aggregates counters for status queries.
type Summary struct {
	LiveMatches     int             `json:"live_matches"`
	FinishedMatches int             `json:"finished_matches"`
	OpenPredictions int             `json:"open_predictions"`
	Won             int             `json:"won"`
	Lost            int             `json:"lost"`
	WinRate         float64         `json:"win_rate"`
	Balance         decimal.Decimal `json:"balance"`
}

func winRate(won, lost int) float64 {
	if won+lost == 0 {
		return 0
	}
	return float64(won) / float64(won+lost)
}

func leagueOrDefault(league string) string {
	if league == "" {
		return DefaultLeague
	}
	return league
}

func statusOrDefault(status string) string {
	if status == "" {
		return DefaultStatus
	}
	return status
}

func reasonFor(correct bool) string {
	if correct {
		return models.ReasonPredictionWin
	}
	return models.ReasonPredictionLoss
}

func checkLedger(initial, balance decimal.Decimal, entries []models.LedgerEntry) error {
	sum := initial
	for _, e := range entries {
		sum = sum.Add(e.Change)
	}
	if !sum.Equal(balance) {
		return fmt.Errorf("%w: initial %s + changes = %s, balance %s", ErrLedgerMismatch, initial, sum, balance)
	}
	return nil
}
