package feed

import (
	"context"
	"errors"
	"regexp"

	"github.com/Vodeneev/goalbot/internal/pkg/models"
)

var (
	// ErrUnreachable means the source could not be contacted at all.
	ErrUnreachable = errors.New("feed unreachable")
	// ErrTransient means a single read failed and may succeed on the next attempt.
	ErrTransient = errors.New("transient feed error")
	// ErrIncomplete means a reading is missing required fields (e.g. team names).
	ErrIncomplete = errors.New("incomplete reading")
)

// Session is an open, refreshable view of one live event.
type Session interface {
	Locator() string
}

// Header is the scoreboard portion of a reading. Nil pointers mean "not shown".
type Header struct {
	HomeTeam  string
	AwayTeam  string
	League    string
	Status    string
	Minute    *int
	GoalsHome *int
	GoalsAway *int
}

// Reading is one refresh of a session. Stats is nil when the statistics panel is absent.
type Reading struct {
	Header Header
	Stats  *models.StatLine
}

// Adapter is the contract for any live source: a headless browser, an HTTP API or a test fake.
type Adapter interface {
	DiscoverLiveLocators(ctx context.Context) ([]string, error)
	OpenSession(ctx context.Context, locator string) (Session, error)
	Refresh(ctx context.Context, s Session) (*Reading, error)
	CloseSession(s Session) error
}

var finishedStatus = regexp.MustCompile(`(?i)encerrado|\bfim\b|final|terminado|finished|full[ -]?time|\bft\b|ended`)

var halfTimeStatus = regexp.MustCompile(`(?i)intervalo|half[ -]?time|\bht\b|1st half|1º tempo|primeiro tempo`)

// IsFinished reports whether a status text marks the event as over.
func IsFinished(status string) bool {
	return finishedStatus.MatchString(status)
}

// IsFirstHalf reports whether a reading belongs to the first half: either the minute is at
// most 45 or the status text names the first half or the interval.
func IsFirstHalf(h Header) bool {
	if h.Minute != nil && *h.Minute <= 45 {
		return true
	}
	return halfTimeStatus.MatchString(h.Status)
}
