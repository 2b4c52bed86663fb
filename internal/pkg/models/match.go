package models

import (
	"time"
)

// StatLine holds the cumulative per-side statistics of a match at one point in time.
type StatLine struct {
	XGHome               float64 `json:"xg_home"`
	XGAway               float64 `json:"xg_away"`
	ShotsHome            int     `json:"shots_home"`
	ShotsAway            int     `json:"shots_away"`
	ShotsOnHome          int     `json:"shots_on_home"`
	ShotsOnAway          int     `json:"shots_on_away"`
	ShotsOffHome         int     `json:"shots_off_home"`
	ShotsOffAway         int     `json:"shots_off_away"`
	ShotsBlockedHome     int     `json:"shots_blocked_home"`
	ShotsBlockedAway     int     `json:"shots_blocked_away"`
	CornersHome          int     `json:"corners_home"`
	CornersAway          int     `json:"corners_away"`
	BigChancesHome       int     `json:"big_chances_home"`
	BigChancesAway       int     `json:"big_chances_away"`
	DangerousAttacksHome int     `json:"dangerous_attacks_home"`
	DangerousAttacksAway int     `json:"dangerous_attacks_away"`
}

func (s StatLine) TotalXG() float64 {
	return s.XGHome + s.XGAway
}

func (s StatLine) TotalShots() int {
	return s.ShotsHome + s.ShotsAway
}

func (s StatLine) TotalShotsOn() int {
	return s.ShotsOnHome + s.ShotsOnAway
}

func (s StatLine) TotalCorners() int {
	return s.CornersHome + s.CornersAway
}

func (s StatLine) TotalBigChances() int {
	return s.BigChancesHome + s.BigChancesAway
}

// Match is a tracked live event. ExternalID is stable across refreshes and is the
// only identity used between the tracker, the engine and storage.
type Match struct {
	ExternalID  string    `json:"external_id"`
	Locator     string    `json:"locator"`
	HomeTeam    string    `json:"home_team"`
	AwayTeam    string    `json:"away_team"`
	League      string    `json:"league"`
	Status      string    `json:"status"`
	Minute      *int      `json:"minute,omitempty"`
	GoalsHome   int       `json:"goals_home"`
	GoalsAway   int       `json:"goals_away"`
	HTGoalsHome *int      `json:"ht_goals_home,omitempty"`
	HTGoalsAway *int      `json:"ht_goals_away,omitempty"`
	Stats       StatLine  `json:"stats"`
	IsTracked   bool      `json:"is_tracked"`
	IsFinished  bool      `json:"is_finished"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Name returns "Home vs Away".
func (m *Match) Name() string {
	return m.HomeTeam + " vs " + m.AwayTeam
}

// CurrentMinute returns the clock minute, treating an unknown clock as 0.
func (m *Match) CurrentMinute() int {
	if m.Minute == nil {
		return 0
	}
	return *m.Minute
}

// BothScored reports whether each side has at least one goal.
func (m *Match) BothScored() bool {
	return m.GoalsHome > 0 && m.GoalsAway > 0
}

// FirstHalfGoals returns the recorded first-half goals; an unknown first-half score counts as 0.
func (m *Match) FirstHalfGoals() (home, away int) {
	if m.HTGoalsHome != nil {
		home = *m.HTGoalsHome
	}
	if m.HTGoalsAway != nil {
		away = *m.HTGoalsAway
	}
	return home, away
}

// Snapshot is an immutable capture of a match's statistics at a clock minute.
type Snapshot struct {
	ID         int64     `json:"id"`
	MatchID    string    `json:"match_id"`
	Minute     int       `json:"minute"`
	Stats      StatLine  `json:"stats"`
	CapturedAt time.Time `json:"captured_at"`
}

// MatchUpdate is what one successful refresh writes back for a match.
type MatchUpdate struct {
	ExternalID string
	Locator    string
	HomeTeam   string
	AwayTeam   string
	League     string
	Status     string
	Minute     *int
	GoalsHome  int
	GoalsAway  int
	// FirstHalf marks the score as the first-half score (clock ≤ 45 or half-time status).
	FirstHalf bool
	// Stats is nil when the source had no statistics this cycle.
	Stats    *StatLine
	Finished bool
	Tracked  bool
}
