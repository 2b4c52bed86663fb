package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Vodeneev/goalbot/internal/pkg/enums"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
	"github.com/Vodeneev/goalbot/internal/pkg/storage"
)

// Payout multipliers applied to the stake.
var (
	HTWinMultiplier      = decimal.RequireFromString("0.3")
	FTEarlyWinMultiplier = decimal.RequireFromString("0.1")
	FTLateWinMultiplier  = decimal.RequireFromString("0.3")
	BTTSWinMultiplier    = decimal.RequireFromString("0.2")
	LossMultiplier       = decimal.NewFromInt(-1)
)

// FT predictions made before this minute win the smaller early-entry payout.
const ftEarlyEntryCutoffMinute = 45

type Store interface {
	GetMatch(ctx context.Context, externalID string) (*models.Match, error)
	OpenPredictions(ctx context.Context, matchID string) ([]models.Prediction, error)
	SettlePrediction(ctx context.Context, s models.Settlement) (*models.SettlementResult, error)
	VerifyLedger(ctx context.Context) error
}

// WeightUpdater is invoked once per settled match.
type WeightUpdater interface {
	Update(ctx context.Context, matchID string) (models.WeightState, bool, error)
}

// Settler resolves open predictions. Settlement of one match is serialized by a per-match
// lock and every balance change by a process-wide bankroll lock.
type Settler struct {
	store   Store
	weights WeightUpdater

	matchLocks *keyedMutex
	bankrollMu sync.Mutex
}

func NewSettler(store Store, weights WeightUpdater) *Settler {
	return &Settler{
		store:      store,
		weights:    weights,
		matchLocks: newKeyedMutex(),
	}
}

// ShouldResolve reports whether a match's open predictions are due for settlement.
func ShouldResolve(m *models.Match, open []models.Prediction) bool {
	if len(open) == 0 {
		return false
	}
	if m.IsFinished || m.CurrentMinute() >= 90 {
		return true
	}
	for _, p := range open {
		switch p.Type {
		case enums.HT:
			if m.CurrentMinute() >= 45 {
				return true
			}
		case enums.BTTS:
			if m.BothScored() {
				return true
			}
		}
	}
	return false
}

// Outcome applies the payout table to one prediction.
func Outcome(p models.Prediction, m *models.Match) models.Settlement {
	correct := false
	win := decimal.Zero

	switch p.Type {
	case enums.HT:
		home, away := m.FirstHalfGoals()
		correct = home > 0 || away > 0
		win = HTWinMultiplier
	case enums.FT:
		correct = m.GoalsHome > 0 || m.GoalsAway > 0
		win = FTLateWinMultiplier
		if p.Minute < ftEarlyEntryCutoffMinute {
			win = FTEarlyWinMultiplier
		}
	case enums.BTTS:
		correct = m.BothScored()
		win = BTTSWinMultiplier
	}

	mult := LossMultiplier
	if correct {
		mult = win
	}
	return models.Settlement{PredictionID: p.ID, Correct: correct, Multiplier: mult}
}

// SettleMatch settles every open prediction of a match if a trigger fired. Each prediction
// settles atomically; an error stops the batch and the rest is retried next cycle.
func (s *Settler) SettleMatch(ctx context.Context, matchID string) ([]models.SettlementResult, error) {
	unlock := s.matchLocks.Lock(matchID)
	defer unlock()

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load match %s: %w", matchID, err)
	}
	open, err := s.store.OpenPredictions(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open predictions of %s: %w", matchID, err)
	}
	if !ShouldResolve(m, open) {
		return nil, nil
	}

	var results []models.SettlementResult
	for _, p := range open {
		res, err := s.settleOne(ctx, Outcome(p, m))
		if errors.Is(err, storage.ErrAlreadyResolved) {
			continue
		}
		if err != nil {
			return results, err
		}
		slog.Info("Prediction settled",
			"match", matchID,
			"prediction", p.ID,
			"type", p.Type,
			"correct", *res.Prediction.Correct,
			"profit", res.Entry.Change.StringFixed(2),
			"balance", res.Entry.NewBalance.StringFixed(2))
		results = append(results, *res)
	}

	if len(results) > 0 && s.weights != nil {
		if _, _, err := s.weights.Update(ctx, matchID); err != nil {
			slog.Error("Failed to update weights", "match", matchID, "error", err)
		}
	}

	if err := s.store.VerifyLedger(ctx); err != nil {
		return results, fmt.Errorf("after settling %s: %w", matchID, err)
	}
	return results, nil
}

func (s *Settler) settleOne(ctx context.Context, st models.Settlement) (*models.SettlementResult, error) {
	s.bankrollMu.Lock()
	defer s.bankrollMu.Unlock()
	return s.store.SettlePrediction(ctx, st)
}
