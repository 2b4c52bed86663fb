package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Vodeneev/goalbot/internal/pkg/config"
	"github.com/Vodeneev/goalbot/internal/pkg/feed"
	"github.com/Vodeneev/goalbot/internal/pkg/metrics"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
	"github.com/Vodeneev/goalbot/internal/pkg/storage"
)

// maxMinute is the latest plausible match clock, extra time and stoppage included.
// Readings beyond it are treated as having no clock.
const maxMinute = 130

// Store is the part of storage the tracker writes to.
type Store interface {
	UpsertMatch(ctx context.Context, u models.MatchUpdate) error
	MarkUntracked(ctx context.Context, externalID string) error
}

type session struct {
	externalID string
	locator    string
	handle     feed.Session
	openedAt   time.Time
}

// RefreshStats counts the outcomes of one RefreshAll pass.
type RefreshStats struct {
	Refreshed int
	Skipped   int
	Finished  int
	Failed    int
}

// Orchestrator keeps exactly one open feed session per live match and refreshes them
// in bounded batches.
type Orchestrator struct {
	feed     feed.Adapter
	store    Store
	cfg      config.TrackerConfig
	recorder *metrics.Recorder

	mu       sync.Mutex
	sessions map[string]*session
	// finished matches stay here until they drop off the live list so they are not reopened.
	finished map[string]struct{}
}

func New(adapter feed.Adapter, store Store, cfg config.TrackerConfig, recorder *metrics.Recorder) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if recorder == nil {
		recorder = metrics.New()
	}
	return &Orchestrator{
		feed:     adapter,
		store:    store,
		cfg:      cfg,
		recorder: recorder,
		sessions: make(map[string]*session),
		finished: make(map[string]struct{}),
	}
}

// RunCycle performs one discover, reconcile and refresh round. Only a failed discovery
// is returned as an error; per-session failures are logged and retried next cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	desired, err := o.Discover(ctx)
	if err != nil {
		return err
	}

	opened, closed := o.Reconcile(ctx, desired)
	stats := o.RefreshAll(ctx)

	slog.Info("Tracker cycle finished",
		"live", len(desired),
		"open_sessions", o.OpenSessions(),
		"opened", opened,
		"closed", closed,
		"refreshed", stats.Refreshed,
		"skipped", stats.Skipped,
		"finished", stats.Finished,
		"failed", stats.Failed)
	return nil
}

// Discover asks the feed for live locators and keys them by external id.
func (o *Orchestrator) Discover(ctx context.Context) (map[string]string, error) {
	ctx, cancel := withTimeout(ctx, o.cfg.DiscoverTimeout)
	defer cancel()

	locators, err := o.feed.DiscoverLiveLocators(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover live matches: %w", err)
	}

	desired := make(map[string]string, len(locators))
	for _, loc := range locators {
		id := models.ExternalID(loc, "", "")
		if _, dup := desired[id]; dup {
			continue
		}
		desired[id] = loc
	}
	return desired, nil
}

// Reconcile opens a session for every desired id without one and closes every session
// whose id is no longer desired. Calling it twice with the same set changes nothing.
func (o *Orchestrator) Reconcile(ctx context.Context, desired map[string]string) (opened, closed int) {
	o.mu.Lock()
	var toClose []*session
	for id, s := range o.sessions {
		if _, ok := desired[id]; !ok {
			toClose = append(toClose, s)
			delete(o.sessions, id)
		}
	}
	for id := range o.finished {
		if _, ok := desired[id]; !ok {
			delete(o.finished, id)
		}
	}
	var toOpen []session
	for id, loc := range desired {
		if _, open := o.sessions[id]; open {
			continue
		}
		if _, done := o.finished[id]; done {
			continue
		}
		toOpen = append(toOpen, session{externalID: id, locator: loc})
	}
	o.mu.Unlock()

	for _, s := range toClose {
		o.closeSession(s, "closed")
		if err := o.store.MarkUntracked(ctx, s.externalID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("Failed to mark match untracked", "external_id", s.externalID, "error", err)
		}
		slog.Info("Closed session, match no longer live", "external_id", s.externalID)
		closed++
	}

	sort.Slice(toOpen, func(i, j int) bool { return toOpen[i].externalID < toOpen[j].externalID })

	var mu sync.Mutex
	inBatches(ctx, toOpen, o.cfg.Concurrency, func(ctx context.Context, s session) {
		if o.openSession(ctx, s) {
			mu.Lock()
			opened++
			mu.Unlock()
		}
	})

	o.recorder.SetOpenSessions(o.OpenSessions())
	return opened, closed
}

func (o *Orchestrator) openSession(ctx context.Context, s session) bool {
	openCtx, cancel := withTimeout(ctx, o.cfg.OpenTimeout)
	defer cancel()

	handle, err := o.feed.OpenSession(openCtx, s.locator)
	if err != nil {
		o.recorder.SessionEvent("open_failed")
		slog.Warn("Failed to open session, will retry next cycle", "external_id", s.externalID, "locator", s.locator, "error", err)
		return false
	}

	s.handle = handle
	s.openedAt = time.Now()

	o.mu.Lock()
	o.sessions[s.externalID] = &s
	o.mu.Unlock()

	o.recorder.SessionEvent("opened")
	slog.Info("Opened session", "external_id", s.externalID, "locator", s.locator)
	return true
}

func (o *Orchestrator) closeSession(s *session, event string) {
	if err := o.feed.CloseSession(s.handle); err != nil {
		slog.Warn("Failed to close session", "external_id", s.externalID, "error", err)
	}
	o.recorder.SessionEvent(event)
}

// RefreshAll refreshes every open session, size-N batches at a time. Each batch runs fully
// in parallel and completes before the next one starts; cancellation is checked between batches.
func (o *Orchestrator) RefreshAll(ctx context.Context) RefreshStats {
	o.mu.Lock()
	open := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		open = append(open, s)
	}
	o.mu.Unlock()
	sort.Slice(open, func(i, j int) bool { return open[i].externalID < open[j].externalID })

	var (
		mu    sync.Mutex
		stats RefreshStats
	)
	inBatches(ctx, open, o.cfg.Concurrency, func(ctx context.Context, s *session) {
		result := o.refreshOne(ctx, s)
		o.recorder.Refresh(result)

		mu.Lock()
		defer mu.Unlock()
		switch result {
		case "ok":
			stats.Refreshed++
		case "skipped":
			stats.Skipped++
		case "finished":
			stats.Finished++
		default:
			stats.Failed++
		}
	})

	o.recorder.SetOpenSessions(o.OpenSessions())
	return stats
}

func (o *Orchestrator) refreshOne(ctx context.Context, s *session) string {
	refreshCtx, cancel := withTimeout(ctx, o.cfg.RefreshTimeout)
	defer cancel()

	reading, err := o.feed.Refresh(refreshCtx, s.handle)
	if err != nil {
		if errors.Is(err, feed.ErrIncomplete) {
			return "skipped"
		}
		slog.Warn("Refresh failed, session kept open", "external_id", s.externalID, "error", err)
		return "failed"
	}
	if reading == nil || reading.Header.HomeTeam == "" || reading.Header.AwayTeam == "" {
		slog.Debug("Reading incomplete, skipping", "external_id", s.externalID)
		return "skipped"
	}

	h := reading.Header
	if h.Minute != nil && (*h.Minute < 0 || *h.Minute > maxMinute) {
		slog.Warn("Implausible clock minute, ignoring it", "external_id", s.externalID, "minute", *h.Minute)
		h.Minute = nil
	}
	update := models.MatchUpdate{
		ExternalID: s.externalID,
		Locator:    s.locator,
		HomeTeam:   h.HomeTeam,
		AwayTeam:   h.AwayTeam,
		League:     h.League,
		Status:     h.Status,
		Minute:     h.Minute,
		GoalsHome:  intOrZero(h.GoalsHome),
		GoalsAway:  intOrZero(h.GoalsAway),
		Tracked:    true,
	}

	if feed.IsFinished(h.Status) {
		update.Finished = true
		update.Tracked = false
		if err := o.store.UpsertMatch(ctx, update); err != nil {
			slog.Error("Failed to store final score", "external_id", s.externalID, "error", err)
			return "failed"
		}
		o.finish(s)
		slog.Info("Match finished, session closed",
			"external_id", s.externalID,
			"match", h.HomeTeam+" vs "+h.AwayTeam,
			"score", fmt.Sprintf("%d-%d", update.GoalsHome, update.GoalsAway))
		return "finished"
	}

	update.FirstHalf = feed.IsFirstHalf(h)
	update.Stats = reading.Stats
	if err := o.store.UpsertMatch(ctx, update); err != nil {
		slog.Error("Failed to store match update", "external_id", s.externalID, "error", err)
		return "failed"
	}

	slog.Debug("Updated match",
		"external_id", s.externalID,
		"match", h.HomeTeam+" vs "+h.AwayTeam,
		"score", fmt.Sprintf("%d-%d", update.GoalsHome, update.GoalsAway),
		"minute", intOrZero(h.Minute),
		"has_stats", reading.Stats != nil)
	return "ok"
}

func (o *Orchestrator) finish(s *session) {
	o.mu.Lock()
	if cur, ok := o.sessions[s.externalID]; ok && cur == s {
		delete(o.sessions, s.externalID)
	}
	o.finished[s.externalID] = struct{}{}
	o.mu.Unlock()
	o.closeSession(s, "finished")
}

// OpenSessions returns the number of sessions currently open.
func (o *Orchestrator) OpenSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// SessionIDs returns the external ids of the open sessions, sorted.
func (o *Orchestrator) SessionIDs() []string {
	o.mu.Lock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close releases every open session. Call it after the refresh loop has stopped.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	open := o.sessions
	o.sessions = make(map[string]*session)
	o.finished = make(map[string]struct{})
	o.mu.Unlock()

	for _, s := range open {
		o.closeSession(s, "closed")
	}
	o.recorder.SetOpenSessions(0)
	if len(open) > 0 {
		slog.Info("Released all sessions", "count", len(open))
	}
}

// inBatches runs fn over items in consecutive batches of at most size, each batch in parallel.
func inBatches[T any](ctx context.Context, items []T, size int, fn func(context.Context, T)) {
	for start := 0; start < len(items); start += size {
		if ctx.Err() != nil {
			return
		}
		end := start + size
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for _, item := range items[start:end] {
			item := item
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn(ctx, item)
			}()
		}
		wg.Wait()
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
