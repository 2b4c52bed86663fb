package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Vodeneev/goalbot/internal/pkg/enums"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
)

type Kind string

const (
	KindPredictionCreated Kind = "prediction_created"
	KindPredictionSettled Kind = "prediction_settled"
)

// Event is the plain record emitted on prediction creation and settlement.
type Event struct {
	Kind         Kind                 `json:"kind"`
	MatchID      string               `json:"match_id"`
	PredictionID string               `json:"prediction_id"`
	HomeTeam     string               `json:"home_team"`
	AwayTeam     string               `json:"away_team"`
	League       string               `json:"league"`
	Type         enums.PredictionType `json:"type"`
	Confidence   float64              `json:"confidence"`
	Stake        decimal.Decimal      `json:"stake"`
	Correct      *bool                `json:"correct,omitempty"`
	Profit       *decimal.Decimal     `json:"profit,omitempty"`
	Balance      *decimal.Decimal     `json:"balance,omitempty"`
	At           time.Time            `json:"at"`
}

func CreatedEvent(m *models.Match, p models.Prediction) Event {
	return Event{
		Kind:         KindPredictionCreated,
		MatchID:      m.ExternalID,
		PredictionID: p.ID,
		HomeTeam:     m.HomeTeam,
		AwayTeam:     m.AwayTeam,
		League:       m.League,
		Type:         p.Type,
		Confidence:   p.Confidence,
		Stake:        p.Stake,
		At:           p.CreatedAt,
	}
}

func SettledEvent(m *models.Match, r models.SettlementResult) Event {
	correct := r.Prediction.Correct != nil && *r.Prediction.Correct
	profit := r.Entry.Change
	balance := r.Entry.NewBalance
	return Event{
		Kind:         KindPredictionSettled,
		MatchID:      m.ExternalID,
		PredictionID: r.Prediction.ID,
		HomeTeam:     m.HomeTeam,
		AwayTeam:     m.AwayTeam,
		League:       m.League,
		Type:         r.Prediction.Type,
		Confidence:   r.Prediction.Confidence,
		Stake:        r.Prediction.Stake,
		Correct:      &correct,
		Profit:       &profit,
		Balance:      &balance,
		At:           r.Entry.CreatedAt,
	}
}

// Notifier delivers events. Delivery failures are the notifier's concern;
// callers log the returned error and move on.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Multi fans an event out to every notifier.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
