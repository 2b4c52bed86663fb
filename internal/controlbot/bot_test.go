package controlbot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Vodeneev/goalbot/internal/pkg/storage"
	"github.com/Vodeneev/goalbot/internal/system"
)

type fakeService struct {
	status  system.Status
	err     error
	started bool
	stopped bool
	active  []bool
}

func (f *fakeService) Status(ctx context.Context) (system.Status, error) {
	return f.status, f.err
}

func (f *fakeService) Start(ctx context.Context) (bool, error) {
	f.started = true
	return true, f.err
}

func (f *fakeService) Stop(ctx context.Context) (bool, error) {
	f.stopped = true
	return false, f.err
}

func (f *fakeService) SetBankrollActive(ctx context.Context, active bool) (bool, error) {
	f.active = append(f.active, active)
	return active, f.err
}

func TestBot_Reply(t *testing.T) {
	svc := &fakeService{status: system.Status{
		Summary: storage.Summary{LiveMatches: 3, Won: 3, Lost: 1, WinRate: 0.75, Balance: decimal.RequireFromString("104.5")},
		Running: true,
		Active:  true,
	}}
	bot := NewBot(svc, nil)
	ctx := context.Background()

	tests := []struct {
		text string
		want string
	}{
		{"/help", "/status"},
		{"/start", "/resume"},
		{"/status", "Bankroll: <b>104.50</b>"},
		{"/status@goalbot_control", "Win rate: 75.0%"},
		{"/resume", "Tracking started"},
		{"/pause", "Tracking stopped"},
		{"/deactivate", "Bankroll deactivated"},
		{"/activate", "Bankroll activated"},
		{"/nope", "Unknown command"},
	}
	for _, tt := range tests {
		if got := bot.Reply(ctx, 1, tt.text); !strings.Contains(got, tt.want) {
			t.Errorf("Reply(%q) = %q, want it to contain %q", tt.text, got, tt.want)
		}
	}
	if !svc.started || !svc.stopped {
		t.Errorf("started=%v stopped=%v, want both", svc.started, svc.stopped)
	}
	if len(svc.active) != 2 || svc.active[0] || !svc.active[1] {
		t.Errorf("bankroll calls = %v, want [false true]", svc.active)
	}
	if got := bot.Reply(ctx, 1, "   "); got != "" {
		t.Errorf("Reply(blank) = %q, want empty", got)
	}
}

func TestBot_RestrictsUsers(t *testing.T) {
	bot := NewBot(&fakeService{}, []int64{42})

	if got := bot.Reply(context.Background(), 7, "/status"); !strings.Contains(got, "Access denied") {
		t.Errorf("Reply from unknown user = %q, want access denied", got)
	}
	if got := bot.Reply(context.Background(), 42, "/help"); !strings.Contains(got, "/status") {
		t.Errorf("Reply from allowed user = %q, want help", got)
	}
}

func TestFormatStatus_InactiveBankroll(t *testing.T) {
	got := FormatStatus(system.Status{Running: false, Active: false})
	if !strings.Contains(got, "bankroll inactive") {
		t.Errorf("FormatStatus() = %q, want inactive bankroll noted", got)
	}
}

func TestBot_EscapesErrors(t *testing.T) {
	bot := NewBot(&fakeService{err: errors.New("<down>")}, nil)
	if got := bot.Reply(context.Background(), 1, "/status"); !strings.Contains(got, "&lt;down&gt;") {
		t.Errorf("Reply() = %q, want escaped error", got)
	}
}

func TestClient_AgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/status" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"live_matches":2,"balance":"101.5","running":true,"open_sessions":2}`))
		case r.URL.Path == "/control/start" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"system already running"}`))
		case r.URL.Path == "/control/stop" && r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"running":false}`))
		case r.URL.Path == "/control/bankroll" && r.Method == http.MethodPost && r.URL.Query().Get("active") == "false":
			_, _ = w.Write([]byte(`{"active":false}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	status, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Running || status.OpenSessions != 2 || !status.Balance.Equal(decimal.RequireFromString("101.5")) {
		t.Errorf("Status() = %+v", status)
	}

	if _, err := c.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Errorf("Start() error = %v, want server error message", err)
	}
	if running, err := c.Stop(ctx); err != nil || running {
		t.Errorf("Stop() = %v, %v, want false, nil", running, err)
	}
	if active, err := c.SetBankrollActive(ctx, false); err != nil || active {
		t.Errorf("SetBankrollActive(false) = %v, %v, want false, nil", active, err)
	}
}
