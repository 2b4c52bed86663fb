package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/Vodeneev/goalbot/internal/pkg/config"
	"github.com/Vodeneev/goalbot/internal/pkg/feed"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
)

// Adapter drives one headless Chrome: a list tab for discovery and one tab per open session.
// All page-specific knowledge lives in the configured discover/read scripts.
type Adapter struct {
	cfg config.FeedConfig

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	chromeDir     string
	ownsChromeDir bool

	listMu     sync.Mutex
	listCtx    context.Context
	listCancel context.CancelFunc
}

type session struct {
	locator string
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
}

func (s *session) Locator() string { return s.locator }

// New starts the browser process. Close must be called to release it.
func New(cfg config.FeedConfig) (*Adapter, error) {
	chromeDir := cfg.ChromeDir
	owns := false
	if chromeDir == "" {
		dir, err := os.MkdirTemp("", "goalbot_chrome_")
		if err != nil {
			return nil, fmt.Errorf("create chrome temp dir: %w", err)
		}
		chromeDir = dir
		owns = true
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserDataDir(chromeDir),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(390, 844),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, v ...interface{}) {
		slog.Debug("chromedp", "message", fmt.Sprintf(format, v...))
	}))

	// Starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		if owns {
			os.RemoveAll(chromeDir)
		}
		return nil, fmt.Errorf("%w: start browser: %v", feed.ErrUnreachable, err)
	}

	return &Adapter{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		chromeDir:     chromeDir,
		ownsChromeDir: owns,
	}, nil
}

// DiscoverLiveLocators loads the list page in a reused tab and evaluates the discover script,
// which must return an array of absolute event URLs.
func (a *Adapter) DiscoverLiveLocators(ctx context.Context) ([]string, error) {
	a.listMu.Lock()
	defer a.listMu.Unlock()

	if a.listCtx == nil {
		a.listCtx, a.listCancel = chromedp.NewContext(a.browserCtx)
	}

	runCtx, cancel := a.bind(ctx, a.listCtx, a.cfg.NavTimeout)
	defer cancel()

	var locators []string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(a.cfg.ListURL),
		chromedp.Sleep(a.cfg.SettleDelay),
		chromedp.Evaluate(a.cfg.DiscoverScript, &locators),
	)
	if err != nil {
		// Recreate the list tab next time; a crashed tab does not recover.
		a.listCancel()
		a.listCtx, a.listCancel = nil, nil
		return nil, fmt.Errorf("%w: discover: %v", feed.ErrUnreachable, err)
	}

	seen := make(map[string]struct{}, len(locators))
	out := locators[:0]
	for _, l := range locators {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out, nil
}

// OpenSession opens a new tab on the event page.
func (a *Adapter) OpenSession(ctx context.Context, locator string) (feed.Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(a.browserCtx)

	runCtx, cancel := a.bind(ctx, tabCtx, a.cfg.NavTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(locator),
		chromedp.Sleep(a.cfg.SettleDelay),
	); err != nil {
		tabCancel()
		return nil, fmt.Errorf("%w: open %s: %v", feed.ErrTransient, locator, err)
	}

	return &session{locator: locator, ctx: tabCtx, cancel: tabCancel}, nil
}

// Refresh evaluates the read script in the session's tab.
func (a *Adapter) Refresh(ctx context.Context, s feed.Session) (*feed.Reading, error) {
	sess, ok := s.(*session)
	if !ok {
		return nil, fmt.Errorf("foreign session type %T", s)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	runCtx, cancel := a.bind(ctx, sess.ctx, a.cfg.NavTimeout)
	defer cancel()

	var raw json.RawMessage
	if err := chromedp.Run(runCtx, chromedp.Evaluate(a.cfg.ReadScript, &raw)); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", feed.ErrTransient, sess.locator, err)
	}
	return decodeReading(raw)
}

func (a *Adapter) CloseSession(s feed.Session) error {
	sess, ok := s.(*session)
	if !ok {
		return fmt.Errorf("foreign session type %T", s)
	}
	sess.cancel()
	return nil
}

// Close shuts down every tab and the browser process.
func (a *Adapter) Close() error {
	a.listMu.Lock()
	if a.listCancel != nil {
		a.listCancel()
	}
	a.listMu.Unlock()

	a.browserCancel()
	a.allocCancel()
	if a.ownsChromeDir {
		return os.RemoveAll(a.chromeDir)
	}
	return nil
}

// bind derives a context from a tab that is also cancelled when the caller's context ends.
func (a *Adapter) bind(caller, tab context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(tab, timeout)
	stop := context.AfterFunc(caller, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// readPayload is what the read script must return.
type readPayload struct {
	Home      string           `json:"home"`
	Away      string           `json:"away"`
	League    string           `json:"league"`
	Status    string           `json:"status"`
	Minute    *int             `json:"minute"`
	GoalsHome *int             `json:"goals_home"`
	GoalsAway *int             `json:"goals_away"`
	Stats     *models.StatLine `json:"stats"`
}

func decodeReading(raw []byte) (*feed.Reading, error) {
	var p readPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: decode reading: %v", feed.ErrIncomplete, err)
	}
	return &feed.Reading{
		Header: feed.Header{
			HomeTeam:  p.Home,
			AwayTeam:  p.Away,
			League:    p.League,
			Status:    p.Status,
			Minute:    p.Minute,
			GoalsHome: p.GoalsHome,
			GoalsAway: p.GoalsAway,
		},
		Stats: p.Stats,
	}, nil
}
