package momentum

import (
	"context"
	"log/slog"
	"math"

	"github.com/Vodeneev/goalbot/internal/pkg/enums"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
)

// Indicator is one satisfied entry of the pre-goal checklist.
type Indicator string

const (
	IndicatorHighMomentum      Indicator = "very high attacking momentum"
	IndicatorXGRising          Indicator = "xG rising quickly"
	IndicatorShotSequence      Indicator = "sequence of shots"
	IndicatorCornerPressure    Indicator = "pressure through corners"
	IndicatorChancesRising     Indicator = "clear chances increasing"
	IndicatorHighIntensity     Indicator = "high attacking intensity"
	IndicatorSustainedPressure Indicator = "sustained pressure"
	IndicatorRecentThreat      Indicator = "recent shots on target or clear chance"
)

// checklistSize is the number of indicators the danger score is normalized by.
const checklistSize = 8

// Trends are growth ratios across the window.
type Trends struct {
	XG      float64 `json:"xg"`
	Shots   float64 `json:"shots"`
	Corners float64 `json:"corners"`
	Chances float64 `json:"chances"`
}

// Analysis summarizes one snapshot window of Points snapshots. The zero value is the
// degenerate LOW result.
type Analysis struct {
	PositiveMomentum bool              `json:"positive_momentum"`
	Momentum         float64           `json:"momentum"`
	Intensity        float64           `json:"intensity"`
	Pressure         float64           `json:"pressure"`
	Danger           enums.DangerLevel `json:"danger"`
	Trends           Trends            `json:"trends"`
	Indicators       []Indicator       `json:"indicators"`
	Points           int               `json:"points"`
}

// SnapshotSource yields the latest snapshots of a match, oldest first.
type SnapshotSource interface {
	RecentSnapshots(ctx context.Context, matchID string, limit int) ([]models.Snapshot, error)
}

type Analyzer struct {
	source SnapshotSource
	window int
}

// NewAnalyzer reads ceil(lookback/spacing) snapshots per analysis.
func NewAnalyzer(source SnapshotSource, lookbackMinutes, spacingMinutes int) *Analyzer {
	if spacingMinutes <= 0 {
		spacingMinutes = 2
	}
	window := int(math.Ceil(float64(lookbackMinutes) / float64(spacingMinutes)))
	if window < 2 {
		window = 2
	}
	return &Analyzer{source: source, window: window}
}

// Window is the number of snapshots fetched per analysis.
func (a *Analyzer) Window() int { return a.window }

// AnalyzeMatch never fails: a read error yields the default LOW analysis.
func (a *Analyzer) AnalyzeMatch(ctx context.Context, matchID string) Analysis {
	timeline, err := a.source.RecentSnapshots(ctx, matchID, a.window)
	if err != nil {
		slog.Warn("Failed to load snapshot window", "match", matchID, "error", err)
		return Default()
	}
	return Analyze(timeline)
}

// Default is the result for windows too short to analyze.
func Default() Analysis {
	return Analysis{Danger: enums.DangerLow}
}

// Analyze computes the analysis for a window ordered oldest to newest.
func Analyze(timeline []models.Snapshot) Analysis {
	if len(timeline) < 2 {
		out := Default()
		out.Points = len(timeline)
		return out
	}

	trends := calculateTrends(timeline)
	mom := calculateMomentum(timeline)
	intensity := calculateIntensity(timeline)
	pressure := calculatePressure(timeline)
	indicators := identifyIndicators(timeline, trends, mom, intensity, pressure)

	return Analysis{
		PositiveMomentum: mom > 0.6,
		Momentum:         mom,
		Intensity:        intensity,
		Pressure:         pressure,
		Danger:           dangerLevel(mom, intensity, pressure, len(indicators)),
		Trends:           trends,
		Indicators:       indicators,
		Points:           len(timeline),
	}
}

func growthRate(initial, current float64) float64 {
	if initial == 0 {
		if current > 0 {
			return 1
		}
		return 0
	}
	return (current - initial) / initial
}

func calculateTrends(timeline []models.Snapshot) Trends {
	first, last := timeline[0].Stats, timeline[len(timeline)-1].Stats
	return Trends{
		XG:      growthRate(first.TotalXG(), last.TotalXG()),
		Shots:   growthRate(float64(first.TotalShots()), float64(last.TotalShots())),
		Corners: growthRate(float64(first.TotalCorners()), float64(last.TotalCorners())),
		Chances: growthRate(float64(first.TotalBigChances()), float64(last.TotalBigChances())),
	}
}

var pairWeights = []float64{0.5, 0.3, 0.2}

// calculateMomentum weights the three most recent consecutive pairs, newest first.
func calculateMomentum(timeline []models.Snapshot) float64 {
	if len(timeline) < 3 {
		return 0
	}

	score := 0.0
	pairs := len(timeline) - 1
	if pairs > len(pairWeights) {
		pairs = len(pairWeights)
	}
	for i := 1; i <= pairs; i++ {
		cur := timeline[len(timeline)-i].Stats
		prev := timeline[len(timeline)-i-1].Stats

		pair := (cur.TotalXG()-prev.TotalXG())*0.4 +
			float64(cur.TotalShotsOn()-prev.TotalShotsOn())*0.3 +
			float64(cur.TotalCorners()-prev.TotalCorners())*0.15 +
			float64(cur.TotalBigChances()-prev.TotalBigChances())*0.15

		score += pair * pairWeights[i-1]
	}
	return clamp01(score / 2)
}

func calculateIntensity(timeline []models.Snapshot) float64 {
	first, last := timeline[0], timeline[len(timeline)-1]

	minutes := last.Minute - first.Minute
	if minutes < 1 {
		minutes = 1
	}
	shots := float64(last.Stats.TotalShots() - first.Stats.TotalShots())
	corners := float64(last.Stats.TotalCorners() - first.Stats.TotalCorners())
	chances := float64(last.Stats.TotalBigChances() - first.Stats.TotalBigChances())

	perMinute := (shots + corners*0.5 + chances*2) / float64(minutes)
	return clamp01(perMinute / 3)
}

// calculatePressure is the longest run of strictly increasing shots-on-target+corners,
// relative to the window length.
func calculatePressure(timeline []models.Snapshot) float64 {
	run, longest := 0, 0
	for i := 1; i < len(timeline); i++ {
		cur := timeline[i].Stats.TotalShotsOn() + timeline[i].Stats.TotalCorners()
		prev := timeline[i-1].Stats.TotalShotsOn() + timeline[i-1].Stats.TotalCorners()
		if cur > prev {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return clamp01(float64(longest) / float64(len(timeline)))
}

func identifyIndicators(timeline []models.Snapshot, t Trends, mom, intensity, pressure float64) []Indicator {
	var out []Indicator
	if mom > 0.7 {
		out = append(out, IndicatorHighMomentum)
	}
	if t.XG > 0.3 {
		out = append(out, IndicatorXGRising)
	}
	if t.Shots > 0.5 {
		out = append(out, IndicatorShotSequence)
	}
	if t.Corners > 0.4 {
		out = append(out, IndicatorCornerPressure)
	}
	if t.Chances > 0.5 {
		out = append(out, IndicatorChancesRising)
	}
	if intensity > 0.7 {
		out = append(out, IndicatorHighIntensity)
	}
	if pressure > 0.6 {
		out = append(out, IndicatorSustainedPressure)
	}

	recent := timeline[len(timeline)-1].Stats
	previous := timeline[len(timeline)-2].Stats
	if recent.TotalShotsOn()-previous.TotalShotsOn() >= 2 || recent.TotalBigChances()-previous.TotalBigChances() >= 1 {
		out = append(out, IndicatorRecentThreat)
	}
	return out
}

func dangerLevel(mom, intensity, pressure float64, indicators int) enums.DangerLevel {
	score := mom*0.3 + intensity*0.3 + pressure*0.2 + float64(indicators)/checklistSize*0.2

	switch {
	case score >= 0.8 || indicators >= 5:
		return enums.DangerCritical
	case score >= 0.65 || indicators >= 3:
		return enums.DangerHigh
	case score >= 0.45 || indicators >= 2:
		return enums.DangerMedium
	default:
		return enums.DangerLow
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
