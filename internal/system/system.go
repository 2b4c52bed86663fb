package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Vodeneev/goalbot/internal/analysis/momentum"
	"github.com/Vodeneev/goalbot/internal/analysis/prediction"
	"github.com/Vodeneev/goalbot/internal/notify"
	"github.com/Vodeneev/goalbot/internal/pkg/config"
	"github.com/Vodeneev/goalbot/internal/pkg/feed"
	"github.com/Vodeneev/goalbot/internal/pkg/metrics"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
	"github.com/Vodeneev/goalbot/internal/pkg/scheduler"
	"github.com/Vodeneev/goalbot/internal/pkg/storage"
	"github.com/Vodeneev/goalbot/internal/settlement"
	"github.com/Vodeneev/goalbot/internal/tracker"
	"github.com/Vodeneev/goalbot/internal/weights"
)

var (
	ErrAlreadyRunning   = errors.New("system already running")
	ErrStopping         = errors.New("system is stopping")
	ErrBankrollInactive = errors.New("bankroll is inactive")
)

const (
	trackerLoopName  = "tracker"
	analysisLoopName = "analysis"
)

type Options struct {
	Tracker  config.TrackerConfig
	Analysis config.AnalysisConfig
	// Clock drives both loops; nil means the wall clock.
	Clock scheduler.Clock
}

// Status is the control-surface view of the system.
type Status struct {
	storage.Summary
	Running      bool      `json:"running"`
	OpenSessions int       `json:"open_sessions"`
	Sessions     []string  `json:"sessions"`
	Active       bool      `json:"bankroll_active"`
	WeightsVer   string    `json:"weights_version"`
	Accuracy     float64   `json:"accuracy"`
	CheckedAt    time.Time `json:"checked_at"`
}

// System owns the tracking and analysis loops and their lifecycle. Several instances can
// coexist; nothing is process-wide.
type System struct {
	store    storage.Store
	tracker  *tracker.Orchestrator
	engine   *prediction.Engine
	settler  *settlement.Settler
	notifier notify.Notifier
	recorder *metrics.Recorder
	opts     Options

	mu       sync.Mutex
	running  bool
	stopping bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(store storage.Store, adapter feed.Adapter, notifier notify.Notifier, recorder *metrics.Recorder, opts Options) *System {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if recorder == nil {
		recorder = metrics.New()
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.RealClock()
	}

	analyzer := momentum.NewAnalyzer(store, opts.Analysis.LookbackMinutes, opts.Analysis.SnapshotSpacing)
	engine := prediction.NewEngine(store, analyzer, models.DefaultWeightState())
	tuner := weights.NewAdapter(store, engine)

	return &System{
		store:    store,
		tracker:  tracker.New(adapter, store, opts.Tracker, recorder),
		engine:   engine,
		settler:  settlement.NewSettler(store, tuner),
		notifier: notifier,
		recorder: recorder,
		opts:     opts,
	}
}

// Start launches both loops. It refuses when already running or when the bankroll is inactive.
// The loops outlive ctx's cancellation; use Stop to end them.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return ErrStopping
	}
	if s.running {
		return ErrAlreadyRunning
	}

	bankroll, err := s.store.GetBankroll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load bankroll: %w", err)
	}
	if !bankroll.Active {
		return ErrBankrollInactive
	}
	w, err := s.store.GetWeights(ctx)
	if err != nil {
		return fmt.Errorf("failed to load weights: %w", err)
	}
	s.engine.SetWeights(w)
	s.recorder.SetBalance(bankroll.Balance.InexactFloat64())

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	loops := []*scheduler.Loop{
		{
			Name:     trackerLoopName,
			Interval: s.opts.Tracker.PollInterval,
			Backoff:  s.opts.Tracker.ErrorBackoff,
			Clock:    s.opts.Clock,
			Cycle:    s.TrackCycle,
			OnCycle:  s.observe(trackerLoopName),
		},
		{
			Name:     analysisLoopName,
			Interval: s.opts.Analysis.Interval,
			Backoff:  s.opts.Analysis.ErrorBackoff,
			Clock:    s.opts.Clock,
			Cycle:    s.AnalysisCycle,
			OnCycle:  s.observe(analysisLoopName),
		},
	}
	for _, l := range loops {
		l := l
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			l.Run(runCtx)
		}()
	}

	s.running = true
	slog.Info("System started",
		"balance", bankroll.Balance.StringFixed(2),
		"stake_percentage", bankroll.StakePercentage.String(),
		"weights_version", w.Version)
	return nil
}

// Stop cancels both loops, waits for their current cycles to finish and releases every
// open session. The lock is not held while cycles drain, so status reads stay responsive.
// Stopping a stopped or stopping system is a no-op.
func (s *System) Stop() {
	s.mu.Lock()
	if !s.running || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.tracker.Close()

	s.mu.Lock()
	s.running = false
	s.stopping = false
	s.cancel = nil
	s.mu.Unlock()
	slog.Info("System stopped")
}

// IsRunning is false as soon as a stop has begun.
func (s *System) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.stopping
}

func (s *System) Status(ctx context.Context) (Status, error) {
	summary, err := s.store.Summary(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to load summary: %w", err)
	}
	bankroll, err := s.store.GetBankroll(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to load bankroll: %w", err)
	}
	w := s.engine.Weights()
	return Status{
		Summary:      summary,
		Running:      s.IsRunning(),
		Active:       bankroll.Active,
		OpenSessions: s.tracker.OpenSessions(),
		Sessions:     s.tracker.SessionIDs(),
		WeightsVer:   w.Version,
		Accuracy:     w.Accuracy,
		CheckedAt:    s.opts.Clock.Now().UTC(),
	}, nil
}

// SetBankrollActive opens or closes the bankroll. Deactivating also stops a running system,
// and an inactive bankroll refuses the next Start.
func (s *System) SetBankrollActive(ctx context.Context, active bool) error {
	if err := s.store.SetBankrollActive(ctx, active); err != nil {
		return fmt.Errorf("failed to update bankroll: %w", err)
	}
	slog.Info("Bankroll state changed", "active", active)
	if !active {
		s.Stop()
	}
	return nil
}

// TrackCycle runs one discover, reconcile and refresh round.
func (s *System) TrackCycle(ctx context.Context) error {
	return s.tracker.RunCycle(ctx)
}

// AnalysisCycle settles every match holding open predictions, then runs the prediction
// engine over the tracked matches. Per-match failures are logged and skipped.
func (s *System) AnalysisCycle(ctx context.Context) error {
	pending, err := s.store.MatchesWithOpenPredictions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list matches with open predictions: %w", err)
	}
	for _, id := range pending {
		if ctx.Err() != nil {
			return nil
		}
		s.settle(ctx, id)
	}

	tracked, err := s.store.TrackedMatches(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tracked matches: %w", err)
	}
	created := 0
	for i := range tracked {
		if ctx.Err() != nil {
			return nil
		}
		m := &tracked[i]
		for _, p := range s.engine.Analyze(ctx, m.ExternalID) {
			created++
			s.recorder.PredictionCreated(string(p.Type))
			s.publish(ctx, notify.CreatedEvent(m, p))
		}
	}

	if bankroll, err := s.store.GetBankroll(ctx); err == nil {
		s.recorder.SetBalance(bankroll.Balance.InexactFloat64())
	}
	slog.Info("Analysis cycle finished", "tracked", len(tracked), "pending_settlement", len(pending), "created", created)
	return nil
}

func (s *System) settle(ctx context.Context, matchID string) {
	results, err := s.settler.SettleMatch(ctx, matchID)
	if len(results) > 0 {
		m, gerr := s.store.GetMatch(ctx, matchID)
		for _, r := range results {
			s.recorder.PredictionSettled(string(r.Prediction.Type), r.Prediction.Correct != nil && *r.Prediction.Correct)
			if gerr == nil {
				s.publish(ctx, notify.SettledEvent(m, r))
			}
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrLedgerMismatch):
		s.recorder.InvariantViolation("ledger_sum")
		slog.Error("Ledger invariant violated", "match", matchID, "error", err, "fatal_invariant", true)
	default:
		slog.Warn("Settlement failed, will retry next cycle", "match", matchID, "error", err)
	}
}

func (s *System) publish(ctx context.Context, e notify.Event) {
	if err := s.notifier.Notify(ctx, e); err != nil {
		slog.Warn("Failed to deliver notification", "kind", e.Kind, "match", e.MatchID, "error", err)
	}
}

func (s *System) observe(loop string) func(time.Duration, error) {
	return func(d time.Duration, err error) {
		s.recorder.ObserveCycle(loop, d, err)
	}
}
