package prediction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Vodeneev/goalbot/internal/analysis/momentum"
	"github.com/Vodeneev/goalbot/internal/pkg/enums"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
)

// Store is the part of persistence the engine needs.
type Store interface {
	GetMatch(ctx context.Context, externalID string) (*models.Match, error)
	OpenPredictions(ctx context.Context, matchID string) ([]models.Prediction, error)
	CreatePrediction(ctx context.Context, p *models.Prediction) (bool, error)
	GetBankroll(ctx context.Context) (models.BankrollConfig, error)
}

// MomentumSource analyzes the recent snapshot window of a match.
type MomentumSource interface {
	AnalyzeMatch(ctx context.Context, matchID string) momentum.Analysis
}

// Request is a decision to create a prediction.
type Request struct {
	Type        enums.PredictionType
	Probability float64
	Stats       models.StatLine
	Minute      int
	GoalsHome   int
	GoalsAway   int
	Danger      enums.DangerLevel
	Reason      string
}

var reasons = map[enums.PredictionType]string{
	enums.HT:   "High xG and attacking stats suggest a goal before half-time",
	enums.FT:   "Strong attacking indicators suggest a goal in this match",
	enums.BTTS: "Both teams showing good attacking threat",
}

// Engine scores matches and creates predictions. Its weight state is replaced by the
// weight adapter through SetWeights; scoring always reads a consistent copy.
type Engine struct {
	store    Store
	momentum MomentumSource

	mu      sync.RWMutex
	weights models.WeightState

	newID func() string
	now   func() time.Time
}

func NewEngine(store Store, source MomentumSource, weights models.WeightState) *Engine {
	return &Engine{
		store:    store,
		momentum: source,
		weights:  weights.Clone(),
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) SetWeights(w models.WeightState) {
	e.mu.Lock()
	e.weights = w.Clone()
	e.mu.Unlock()
}

func (e *Engine) Weights() models.WeightState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weights.Clone()
}

// Score returns the probability for one type under the current weights.
func (e *Engine) Score(kind enums.PredictionType, s Signals) float64 {
	w := e.Weights()
	return score(w, kind, s)
}

func score(w models.WeightState, kind enums.PredictionType, s Signals) float64 {
	c := w.Coefficients[kind]
	switch kind {
	case enums.HT:
		return HTScore(c, s)
	case enums.FT:
		return FTScore(c, s)
	case enums.BTTS:
		return BTTSScore(c, s)
	default:
		return 0
	}
}

// SignalsFor builds scoring input from a match and its momentum analysis.
func SignalsFor(m *models.Match, a momentum.Analysis) Signals {
	s := Signals{
		Stats:     m.Stats,
		Minute:    m.CurrentMinute(),
		GoalsHome: m.GoalsHome,
		GoalsAway: m.GoalsAway,
	}
	if a.Points >= 3 {
		mom := a.Momentum
		s.Momentum = &mom
	}
	return s
}

// Evaluate returns a request for every type whose score exceeds its threshold and that has
// no open prediction yet.
func (e *Engine) Evaluate(m *models.Match, open []models.Prediction, a momentum.Analysis) []Request {
	w := e.Weights()
	s := SignalsFor(m, a)

	hasOpen := make(map[enums.PredictionType]bool, len(open))
	for _, p := range open {
		hasOpen[p.Type] = true
	}

	var out []Request
	for _, kind := range enums.PredictionTypes {
		if hasOpen[kind] {
			continue
		}
		prob := score(w, kind, s)
		if prob <= w.Thresholds[kind] {
			continue
		}
		out = append(out, Request{
			Type:        kind,
			Probability: prob,
			Stats:       m.Stats,
			Minute:      s.Minute,
			GoalsHome:   m.GoalsHome,
			GoalsAway:   m.GoalsAway,
			Danger:      a.Danger,
			Reason:      reasonFor(kind, a),
		})
	}
	return out
}

func reasonFor(kind enums.PredictionType, a momentum.Analysis) string {
	reason := reasons[kind]
	if len(a.Indicators) == 0 {
		return reason
	}
	tags := make([]string, len(a.Indicators))
	for i, ind := range a.Indicators {
		tags[i] = string(ind)
	}
	return reason + " (" + strings.Join(tags, ", ") + ")"
}

// Create persists an open prediction with stake fixed from the current balance.
// It returns false when an open prediction of the same type already exists.
func (e *Engine) Create(ctx context.Context, matchID string, req Request) (*models.Prediction, bool, error) {
	bankroll, err := e.store.GetBankroll(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read bankroll: %w", err)
	}

	p := &models.Prediction{
		ID:              e.newID(),
		MatchID:         matchID,
		Type:            req.Type,
		Minute:          req.Minute,
		Stake:           bankroll.StakeFor(),
		Confidence:      req.Probability,
		StatsAtCreation: req.Stats,
		GoalsHome:       req.GoalsHome,
		GoalsAway:       req.GoalsAway,
		Danger:          req.Danger,
		Reason:          req.Reason,
		CreatedAt:       e.now(),
	}

	inserted, err := e.store.CreatePrediction(ctx, p)
	if err != nil {
		return nil, false, err
	}
	return p, inserted, nil
}

// Analyze runs one decision round for a match and returns the predictions it created.
// Errors are logged and end the round for this match; they never propagate. A persist
// error stops the remaining types, but predictions already stored in this round are still
// returned so their creation is announced.
func (e *Engine) Analyze(ctx context.Context, matchID string) []models.Prediction {
	m, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		slog.Warn("Failed to load match for analysis", "match", matchID, "error", err)
		return nil
	}
	if m.IsFinished || !m.IsTracked {
		return nil
	}

	open, err := e.store.OpenPredictions(ctx, matchID)
	if err != nil {
		slog.Warn("Failed to load open predictions", "match", matchID, "error", err)
		return nil
	}

	analysis := e.momentum.AnalyzeMatch(ctx, matchID)

	var created []models.Prediction
	for _, req := range e.Evaluate(m, open, analysis) {
		p, inserted, err := e.Create(ctx, matchID, req)
		if err != nil {
			slog.Error("Failed to create prediction", "match", matchID, "type", req.Type, "error", err)
			break
		}
		if !inserted {
			slog.Debug("Open prediction already exists", "match", matchID, "type", req.Type)
			continue
		}
		slog.Info("Prediction created",
			"match", matchID,
			"name", m.Name(),
			"type", p.Type,
			"confidence", fmt.Sprintf("%.3f", p.Confidence),
			"stake", p.Stake.StringFixed(2),
			"minute", p.Minute,
			"danger", p.Danger)
		created = append(created, *p)
	}
	return created
}
