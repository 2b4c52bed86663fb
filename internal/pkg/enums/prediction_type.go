package enums

import "fmt"

// PredictionType is one of the three supported wager kinds.
type PredictionType string

const (
	// HT: a goal before half-time, counted from the moment of prediction.
	HT PredictionType = "HT"
	// FT: a goal at any point of the match.
	FT PredictionType = "FT"
	// BTTS: both teams score before the final whistle.
	BTTS PredictionType = "BTTS"
)

// PredictionTypes lists every type in evaluation order.
var PredictionTypes = []PredictionType{HT, FT, BTTS}

// ParsePredictionType converts a stored value back into a PredictionType.
func ParsePredictionType(s string) (PredictionType, error) {
	switch PredictionType(s) {
	case HT, FT, BTTS:
		return PredictionType(s), nil
	default:
		return "", fmt.Errorf("unknown prediction type %q", s)
	}
}

// Label returns the human-readable market name used in notifications.
func (t PredictionType) Label() string {
	switch t {
	case HT:
		return "Goal before half-time"
	case FT:
		return "Goal in the match"
	case BTTS:
		return "Both teams to score"
	default:
		return string(t)
	}
}
