package system

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Vodeneev/goalbot/internal/notify"
	"github.com/Vodeneev/goalbot/internal/pkg/config"
	"github.com/Vodeneev/goalbot/internal/pkg/enums"
	"github.com/Vodeneev/goalbot/internal/pkg/feed"
	"github.com/Vodeneev/goalbot/internal/pkg/metrics"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
	"github.com/Vodeneev/goalbot/internal/pkg/scheduler"
	"github.com/Vodeneev/goalbot/internal/pkg/storage"
)

const liveLocator = "https://feed.test/match?mid=77"

type stubSession struct{ locator string }

func (s stubSession) Locator() string { return s.locator }

// scriptedFeed serves one live match whose reading the test rewrites between cycles.
type scriptedFeed struct {
	mu      sync.Mutex
	live    []string
	reading feed.Reading
	closed  int
	// When set, Refresh signals entered and then waits for release, ignoring ctx.
	entered chan struct{}
	release chan struct{}
}

func (f *scriptedFeed) DiscoverLiveLocators(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.live...), nil
}

func (f *scriptedFeed) OpenSession(ctx context.Context, locator string) (feed.Session, error) {
	return stubSession{locator: locator}, nil
}

func (f *scriptedFeed) Refresh(ctx context.Context, s feed.Session) (*feed.Reading, error) {
	f.mu.Lock()
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if release != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.reading
	return &r, nil
}

func (f *scriptedFeed) CloseSession(s feed.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *scriptedFeed) set(minute, home, away int, stats models.StatLine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading = feed.Reading{
		Header: feed.Header{
			HomeTeam:  "Flamengo",
			AwayTeam:  "Palmeiras",
			League:    "Brasileirão",
			Status:    "Live",
			Minute:    &minute,
			GoalsHome: &home,
			GoalsAway: &away,
		},
		Stats: &stats,
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, e notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) count(kind notify.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Kind == kind {
			c++
		}
	}
	return c
}

var earlyPressure = models.StatLine{
	XGHome: 0.8, XGAway: 0.3,
	ShotsHome: 6, ShotsAway: 4,
	ShotsOnHome: 4, ShotsOnAway: 2,
	CornersHome: 3, CornersAway: 1,
	BigChancesHome: 1,
}

func testOptions(clock scheduler.Clock) Options {
	return Options{
		Tracker: config.TrackerConfig{
			PollInterval:    20 * time.Second,
			ErrorBackoff:    10 * time.Second,
			Concurrency:     3,
			OpenTimeout:     time.Second,
			RefreshTimeout:  time.Second,
			DiscoverTimeout: time.Second,
		},
		Analysis: config.AnalysisConfig{
			Interval:        30 * time.Second,
			ErrorBackoff:    10 * time.Second,
			LookbackMinutes: 10,
			SnapshotSpacing: 2,
		},
		Clock: clock,
	}
}

func TestPipeline_PredictThenSettleHT(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(models.DefaultBankrollConfig())
	f := &scriptedFeed{live: []string{liveLocator}}
	n := &recordingNotifier{}
	sys := New(store, f, n, metrics.New(), testOptions(nil))

	f.set(10, 0, 0, earlyPressure)
	if err := sys.TrackCycle(ctx); err != nil {
		t.Fatalf("TrackCycle() error = %v", err)
	}
	if err := sys.AnalysisCycle(ctx); err != nil {
		t.Fatalf("AnalysisCycle() error = %v", err)
	}

	open, err := store.OpenPredictions(ctx, "mid:77")
	if err != nil {
		t.Fatalf("OpenPredictions() error = %v", err)
	}
	var ht *models.Prediction
	for i := range open {
		if open[i].Type == enums.HT {
			ht = &open[i]
		}
	}
	if ht == nil {
		t.Fatalf("no HT prediction after the first analysis cycle (open: %+v)", open)
	}
	if got := n.count(notify.KindPredictionCreated); got != len(open) {
		t.Errorf("created notifications = %d, want %d", got, len(open))
	}

	// Goal in the first half, then the clock passes 45.
	f.set(30, 1, 0, earlyPressure)
	if err := sys.TrackCycle(ctx); err != nil {
		t.Fatalf("TrackCycle() error = %v", err)
	}
	f.set(46, 1, 0, earlyPressure)
	if err := sys.TrackCycle(ctx); err != nil {
		t.Fatalf("TrackCycle() error = %v", err)
	}
	if err := sys.AnalysisCycle(ctx); err != nil {
		t.Fatalf("AnalysisCycle() error = %v", err)
	}

	resolved, err := store.ResolvedPredictions(ctx, "mid:77")
	if err != nil {
		t.Fatalf("ResolvedPredictions() error = %v", err)
	}
	var settledHT *models.Prediction
	for i := range resolved {
		if resolved[i].ID == ht.ID {
			settledHT = &resolved[i]
		}
	}
	if settledHT == nil || settledHT.Correct == nil || !*settledHT.Correct {
		t.Fatalf("HT prediction not settled as correct: %+v", settledHT)
	}
	if want := decimal.RequireFromString("1.5"); settledHT.Profit == nil || !settledHT.Profit.Equal(want) {
		t.Errorf("HT profit = %v, want %s", settledHT.Profit, want)
	}

	ledger, err := store.Ledger(ctx)
	if err != nil {
		t.Fatalf("Ledger() error = %v", err)
	}
	if len(ledger) != len(resolved) {
		t.Errorf("ledger entries = %d, want one per resolved prediction (%d)", len(ledger), len(resolved))
	}
	if got := n.count(notify.KindPredictionSettled); got != len(ledger) {
		t.Errorf("settled notifications = %d, want %d", got, len(ledger))
	}
	if err := store.VerifyLedger(ctx); err != nil {
		t.Errorf("VerifyLedger() error = %v", err)
	}

	w, err := store.GetWeights(ctx)
	if err != nil {
		t.Fatalf("GetWeights() error = %v", err)
	}
	if w.TotalResolved != 1 {
		t.Errorf("weight batches = %d, want 1", w.TotalResolved)
	}
}

func TestStart_RefusesInactiveBankroll(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(models.DefaultBankrollConfig())
	if err := store.SetBankrollActive(ctx, false); err != nil {
		t.Fatalf("SetBankrollActive() error = %v", err)
	}
	sys := New(store, &scriptedFeed{}, nil, nil, testOptions(nil))

	if err := sys.Start(ctx); !errors.Is(err, ErrBankrollInactive) {
		t.Errorf("Start() error = %v, want ErrBankrollInactive", err)
	}
	if sys.IsRunning() {
		t.Errorf("IsRunning() = true after refused start")
	}
}

func waitIdle(t *testing.T, clock *scheduler.ManualClock, loops int) {
	t.Helper()
	for i := 0; i < loops; i++ {
		select {
		case <-clock.Waits():
		case <-time.After(2 * time.Second):
			t.Fatalf("loops did not reach their idle wait")
		}
	}
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	clock := scheduler.NewManualClock(time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStore(models.DefaultBankrollConfig())
	f := &scriptedFeed{live: []string{liveLocator}}
	f.set(12, 0, 0, models.StatLine{ShotsHome: 1})
	sys := New(store, f, nil, metrics.New(), testOptions(clock))

	if err := sys.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sys.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	waitIdle(t, clock, 2)

	status, err := sys.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Running || status.OpenSessions != 1 {
		t.Errorf("Status() running=%v sessions=%d, want running with 1 session", status.Running, status.OpenSessions)
	}
	if status.LiveMatches != 1 {
		t.Errorf("Status().LiveMatches = %d, want 1", status.LiveMatches)
	}

	sys.Stop()
	if sys.IsRunning() {
		t.Errorf("IsRunning() = true after Stop")
	}
	if f.closed != 1 {
		t.Errorf("closed sessions = %d, want 1", f.closed)
	}

	// A stopped system can be started again.
	if err := sys.Start(ctx); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	waitIdle(t, clock, 2)
	sys.Stop()
}

func TestSystemsAreIndependent(t *testing.T) {
	ctx := context.Background()
	a := New(storage.NewMemoryStore(models.DefaultBankrollConfig()), &scriptedFeed{}, nil, nil, testOptions(scheduler.NewManualClock(time.Now())))
	b := New(storage.NewMemoryStore(models.DefaultBankrollConfig()), &scriptedFeed{}, nil, nil, testOptions(scheduler.NewManualClock(time.Now())))

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start(a) error = %v", err)
	}
	defer a.Stop()

	if b.IsRunning() {
		t.Errorf("starting one system marked another as running")
	}
}

func TestStop_StatusStaysResponsiveWhileDraining(t *testing.T) {
	ctx := context.Background()
	clock := scheduler.NewManualClock(time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStore(models.DefaultBankrollConfig())
	f := &scriptedFeed{
		live:    []string{liveLocator},
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	f.set(20, 0, 0, models.StatLine{})
	sys := New(store, f, nil, metrics.New(), testOptions(clock))

	if err := sys.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-f.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("tracker cycle never reached the feed")
	}

	stopped := make(chan struct{})
	go func() {
		sys.Stop()
		close(stopped)
	}()

	deadline := time.Now().Add(time.Second)
	for sys.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatalf("IsRunning() still true after Stop began")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := sys.Status(ctx); err != nil {
		t.Errorf("Status() while draining error = %v", err)
	}
	if err := sys.Start(ctx); !errors.Is(err, ErrStopping) {
		t.Errorf("Start() while draining error = %v, want ErrStopping", err)
	}
	select {
	case <-stopped:
		t.Fatalf("Stop() returned before the in-flight cycle finished")
	default:
	}

	close(f.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop() did not return after the cycle finished")
	}
	if f.closed != 1 {
		t.Errorf("closed sessions = %d, want 1", f.closed)
	}
}

func TestSetBankrollActive_StopsAndGatesStart(t *testing.T) {
	ctx := context.Background()
	clock := scheduler.NewManualClock(time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStore(models.DefaultBankrollConfig())
	sys := New(store, &scriptedFeed{}, nil, metrics.New(), testOptions(clock))

	if err := sys.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitIdle(t, clock, 2)

	if err := sys.SetBankrollActive(ctx, false); err != nil {
		t.Fatalf("SetBankrollActive(false) error = %v", err)
	}
	if sys.IsRunning() {
		t.Errorf("IsRunning() = true after deactivating the bankroll")
	}
	status, err := sys.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Active {
		t.Errorf("Status().Active = true, want false")
	}
	if err := sys.Start(ctx); !errors.Is(err, ErrBankrollInactive) {
		t.Errorf("Start() error = %v, want ErrBankrollInactive", err)
	}

	if err := sys.SetBankrollActive(ctx, true); err != nil {
		t.Fatalf("SetBankrollActive(true) error = %v", err)
	}
	if err := sys.Start(ctx); err != nil {
		t.Fatalf("Start() after reactivation error = %v", err)
	}
	waitIdle(t, clock, 2)
	sys.Stop()
}
