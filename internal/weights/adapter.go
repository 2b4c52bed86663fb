package weights

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/Vodeneev/goalbot/internal/pkg/enums"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
)

// Step scales how far one batch moves the thresholds: (successRate-0.5) × Step.
const Step = 0.05

type Store interface {
	ResolvedPredictions(ctx context.Context, matchID string) ([]models.Prediction, error)
	GetWeights(ctx context.Context) (models.WeightState, error)
	SaveWeights(ctx context.Context, w models.WeightState) error
}

// Sink receives every new weight state, normally the prediction engine.
type Sink interface {
	SetWeights(w models.WeightState)
}

// Adapter drifts decision thresholds after each settled match. It is a bounded heuristic
// nudge, not a learning algorithm: coefficients are never touched.
type Adapter struct {
	store Store
	sink  Sink
	mu    sync.Mutex
}

func NewAdapter(store Store, sink Sink) *Adapter {
	return &Adapter{store: store, sink: sink}
}

// Update applies one batch for a match. It returns false when the match has no resolved predictions.
func (a *Adapter) Update(ctx context.Context, matchID string) (models.WeightState, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	resolved, err := a.store.ResolvedPredictions(ctx, matchID)
	if err != nil {
		return models.WeightState{}, false, fmt.Errorf("failed to load resolved predictions: %w", err)
	}
	current, err := a.store.GetWeights(ctx)
	if err != nil {
		return models.WeightState{}, false, fmt.Errorf("failed to load weights: %w", err)
	}

	next, ok := Adjust(current, resolved)
	if !ok {
		return current, false, nil
	}
	if err := a.store.SaveWeights(ctx, next); err != nil {
		return models.WeightState{}, false, fmt.Errorf("failed to save weights: %w", err)
	}
	if a.sink != nil {
		a.sink.SetWeights(next)
	}

	slog.Info("Weights updated",
		"match", matchID,
		"predictions", len(resolved),
		"accuracy", fmt.Sprintf("%.3f", next.Accuracy),
		"total", next.TotalResolved,
		"ht_threshold", fmt.Sprintf("%.3f", next.Thresholds[enums.HT]),
		"ft_threshold", fmt.Sprintf("%.3f", next.Thresholds[enums.FT]),
		"btts_threshold", fmt.Sprintf("%.3f", next.Thresholds[enums.BTTS]))
	return next, true, nil
}

// Adjust returns the state after one batch. The total counts batches, not predictions.
func Adjust(w models.WeightState, resolved []models.Prediction) (models.WeightState, bool) {
	if len(resolved) == 0 {
		return w, false
	}

	correct := 0
	for _, p := range resolved {
		if p.Correct != nil && *p.Correct {
			correct++
		}
	}
	rate := float64(correct) / float64(len(resolved))
	adjustment := (rate - 0.5) * Step

	next := w.Clone()
	total := float64(w.TotalResolved)
	next.Accuracy = (w.Accuracy*total + rate) / (total + 1)
	next.TotalResolved = w.TotalResolved + 1

	for _, kind := range enums.PredictionTypes {
		bounds := models.ThresholdBounds[kind]
		next.Thresholds[kind] = math.Max(bounds[0], math.Min(bounds[1], w.Thresholds[kind]+adjustment))
	}
	return next, true
}
