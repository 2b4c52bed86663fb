package models

import (
	"time"

	"github.com/Vodeneev/goalbot/internal/pkg/enums"
)

// Coefficients weight each signal inside one prediction type's score.
type Coefficients struct {
	XG         float64 `json:"xg"`
	Shots      float64 `json:"shots"`
	ShotsOn    float64 `json:"shots_on"`
	Corners    float64 `json:"corners"`
	BigChances float64 `json:"big_chances"`
}

// Threshold bounds applied by the weight adapter.
var ThresholdBounds = map[enums.PredictionType][2]float64{
	enums.HT:   {0.3, 0.9},
	enums.FT:   {0.3, 0.9},
	enums.BTTS: {0.4, 0.9},
}

// WeightState is the versioned scoring state shared by the prediction engine.
type WeightState struct {
	Version       string                                `json:"version"`
	Coefficients  map[enums.PredictionType]Coefficients `json:"coefficients"`
	Thresholds    map[enums.PredictionType]float64      `json:"thresholds"`
	Accuracy      float64                               `json:"accuracy"`
	TotalResolved int                                   `json:"total_resolved"`
	UpdatedAt     time.Time                             `json:"updated_at"`
}

// DefaultWeightState returns the 1.0.0 seed.
func DefaultWeightState() WeightState {
	return WeightState{
		Version: "1.0.0",
		Coefficients: map[enums.PredictionType]Coefficients{
			enums.HT:   {XG: 0.4, Shots: 0.2, ShotsOn: 0.3, Corners: 0.15, BigChances: 0.25},
			enums.FT:   {XG: 0.35, Shots: 0.25, Corners: 0.2, BigChances: 0.2},
			enums.BTTS: {XG: 0.3, ShotsOn: 0.3, BigChances: 0.4},
		},
		Thresholds: map[enums.PredictionType]float64{
			enums.HT:   0.6,
			enums.FT:   0.5,
			enums.BTTS: 0.65,
		},
		UpdatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (w WeightState) Clone() WeightState {
	out := w
	out.Coefficients = make(map[enums.PredictionType]Coefficients, len(w.Coefficients))
	for k, v := range w.Coefficients {
		out.Coefficients[k] = v
	}
	out.Thresholds = make(map[enums.PredictionType]float64, len(w.Thresholds))
	for k, v := range w.Thresholds {
		out.Thresholds[k] = v
	}
	return out
}
