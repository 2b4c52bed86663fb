package prediction

import (
	"math"

	"github.com/Vodeneev/goalbot/internal/pkg/models"
)

// Minute cutoffs after which a type can no longer be scored.
const (
	HTCutoff   = 45
	FTCutoff   = 90
	BTTSCutoff = 85
)

// Signals is the input of the scoring functions: the latest stats of one match.
type Signals struct {
	Stats     models.StatLine
	Minute    int
	GoalsHome int
	GoalsAway int
	// Momentum is the analyzer momentum; nil when the window was too short to compute it.
	Momentum *float64
}

func norm(v, ceiling float64) float64 {
	return math.Min(v/ceiling, 1)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// HTScore is the probability of a goal before half-time.
func HTScore(w models.Coefficients, s Signals) float64 {
	if s.Minute >= HTCutoff {
		return 0
	}

	st := s.Stats
	xg := norm(st.TotalXG(), 3.0)
	shots := norm(float64(st.TotalShots()), 20)
	shotsOn := norm(float64(st.TotalShotsOn()), 10)
	corners := norm(float64(st.TotalCorners()), 12)
	chances := norm(float64(st.TotalBigChances()), 8)

	conversion := 0.0
	if st.TotalShots() > 0 {
		conversion = float64(st.TotalShotsOn()) / float64(st.TotalShots())
	}

	proxy := (shots + shotsOn + chances) / 3
	if s.Momentum != nil {
		proxy = (proxy + *s.Momentum) / 2
	}
	pressure := corners*0.7 + proxy*0.3

	timeFactor := float64(HTCutoff-s.Minute) / HTCutoff

	score := (xg*w.XG*1.2 +
		shots*w.Shots*0.8 +
		shotsOn*w.ShotsOn*1.3 +
		corners*w.Corners +
		chances*w.BigChances*1.5 +
		conversion*0.25 +
		pressure*0.2) * timeFactor

	return clamp01(score)
}

// FTScore is the probability of a goal before full-time.
func FTScore(w models.Coefficients, s Signals) float64 {
	if s.Minute >= FTCutoff {
		return 0
	}

	st := s.Stats
	xg := norm(st.TotalXG(), 4.0)
	shots := norm(float64(st.TotalShots()), 25)
	corners := norm(float64(st.TotalCorners()), 15)
	chances := norm(float64(st.TotalBigChances()), 10)

	timeFactor := float64(FTCutoff-s.Minute) / FTCutoff

	score := (xg*w.XG +
		shots*w.Shots +
		corners*w.Corners +
		chances*w.BigChances) * timeFactor

	return clamp01(score)
}

// BTTSScore is the probability that both sides score. It is 0 once both already have.
func BTTSScore(w models.Coefficients, s Signals) float64 {
	if s.Minute >= BTTSCutoff || (s.GoalsHome > 0 && s.GoalsAway > 0) {
		return 0
	}

	st := s.Stats
	home := (st.XGHome + float64(st.ShotsOnHome) + float64(st.BigChancesHome)) / 3
	away := (st.XGAway + float64(st.ShotsOnAway) + float64(st.BigChancesAway)) / 3
	balance := math.Min(home, away) / math.Max(math.Max(home, away), 0.1)

	xg := norm(st.TotalXG(), 3.5)
	shotsOn := norm(float64(st.TotalShotsOn()), 12)
	chances := norm(float64(st.TotalBigChances()), 8)

	timeFactor := float64(BTTSCutoff-s.Minute) / BTTSCutoff

	score := (xg*w.XG +
		shotsOn*w.ShotsOn +
		chances*w.BigChances) * balance * timeFactor

	return clamp01(score)
}
