package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Vodeneev/goalbot/internal/pkg/enums"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
)

func intPtr(v int) *int { return &v }

func update(id string, minute int, home, away int, stats *models.StatLine) models.MatchUpdate {
	return models.MatchUpdate{
		ExternalID: id,
		Locator:    "https://example.test/match/" + id,
		HomeTeam:   "Home " + id,
		AwayTeam:   "Away " + id,
		Minute:     intPtr(minute),
		GoalsHome:  home,
		GoalsAway:  away,
		FirstHalf:  minute <= 45,
		Stats:      stats,
		Tracked:    true,
	}
}

func newPrediction(matchID string, kind enums.PredictionType, stake int64) *models.Prediction {
	return &models.Prediction{
		ID:         uuid.NewString(),
		MatchID:    matchID,
		Type:       kind,
		Minute:     10,
		Stake:      decimal.NewFromInt(stake),
		Confidence: 0.7,
		Danger:     enums.DangerLow,
	}
}

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("upsert without clock keeps last minute", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "mid:" + uuid.NewString()

		if err := s.UpsertMatch(ctx, update(id, 52, 0, 0, nil)); err != nil {
			t.Fatalf("UpsertMatch() error = %v", err)
		}
		u := update(id, 0, 0, 0, &models.StatLine{ShotsHome: 4})
		u.Minute = nil
		u.FirstHalf = false
		if err := s.UpsertMatch(ctx, u); err != nil {
			t.Fatalf("UpsertMatch() error = %v", err)
		}

		m, err := s.GetMatch(ctx, id)
		if err != nil {
			t.Fatalf("GetMatch() error = %v", err)
		}
		if m.CurrentMinute() != 52 {
			t.Errorf("CurrentMinute() = %d, want 52", m.CurrentMinute())
		}
		snaps, err := s.RecentSnapshots(ctx, id, 10)
		if err != nil {
			t.Fatalf("RecentSnapshots() error = %v", err)
		}
		if len(snaps) != 1 || snaps[0].Minute != 52 {
			t.Errorf("snapshots = %+v, want one at minute 52", snaps)
		}
	})

	t.Run("upsert keeps first-half score and defaults", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "mid:" + uuid.NewString()

		if err := s.UpsertMatch(ctx, update(id, 30, 1, 0, &models.StatLine{ShotsHome: 3})); err != nil {
			t.Fatalf("UpsertMatch() error = %v", err)
		}
		if err := s.UpsertMatch(ctx, update(id, 70, 2, 1, nil)); err != nil {
			t.Fatalf("UpsertMatch() error = %v", err)
		}

		m, err := s.GetMatch(ctx, id)
		if err != nil {
			t.Fatalf("GetMatch() error = %v", err)
		}
		if m.League != DefaultLeague || m.Status != DefaultStatus {
			t.Errorf("league/status = %q/%q, want defaults", m.League, m.Status)
		}
		if m.GoalsHome != 2 || m.GoalsAway != 1 {
			t.Errorf("score = %d-%d, want 2-1", m.GoalsHome, m.GoalsAway)
		}
		if m.HTGoalsHome == nil || *m.HTGoalsHome != 1 || m.HTGoalsAway == nil || *m.HTGoalsAway != 0 {
			t.Errorf("first-half score = %v-%v, want 1-0", m.HTGoalsHome, m.HTGoalsAway)
		}
		if m.Stats.ShotsHome != 3 {
			t.Errorf("stats should survive an update without stats, got %+v", m.Stats)
		}

		snaps, err := s.RecentSnapshots(ctx, id, 10)
		if err != nil {
			t.Fatalf("RecentSnapshots() error = %v", err)
		}
		if len(snaps) != 1 || snaps[0].Minute != 30 {
			t.Errorf("snapshots = %+v, want one at minute 30", snaps)
		}
	})

	t.Run("finished match stays finished and untracked", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "mid:" + uuid.NewString()

		u := update(id, 90, 0, 0, nil)
		u.Finished = true
		u.Status = "Encerrado"
		if err := s.UpsertMatch(ctx, u); err != nil {
			t.Fatalf("UpsertMatch() error = %v", err)
		}
		if err := s.UpsertMatch(ctx, update(id, 90, 0, 0, nil)); err != nil {
			t.Fatalf("UpsertMatch() error = %v", err)
		}
		m, err := s.GetMatch(ctx, id)
		if err != nil {
			t.Fatalf("GetMatch() error = %v", err)
		}
		if !m.IsFinished || m.IsTracked {
			t.Errorf("finished/tracked = %v/%v, want true/false", m.IsFinished, m.IsTracked)
		}
	})

	t.Run("unknown match", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetMatch(context.Background(), "mid:missing-"+uuid.NewString()); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetMatch() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("recent snapshots are the latest ones, oldest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "mid:" + uuid.NewString()
		for minute := 2; minute <= 20; minute += 2 {
			if err := s.UpsertMatch(ctx, update(id, minute, 0, 0, &models.StatLine{ShotsHome: minute})); err != nil {
				t.Fatalf("UpsertMatch() error = %v", err)
			}
		}
		snaps, err := s.RecentSnapshots(ctx, id, 5)
		if err != nil {
			t.Fatalf("RecentSnapshots() error = %v", err)
		}
		want := []int{12, 14, 16, 18, 20}
		if len(snaps) != len(want) {
			t.Fatalf("len = %d, want %d", len(snaps), len(want))
		}
		for i, m := range want {
			if snaps[i].Minute != m {
				t.Errorf("snaps[%d].Minute = %d, want %d", i, snaps[i].Minute, m)
			}
		}
	})

	t.Run("one open prediction per type", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "mid:" + uuid.NewString()
		if err := s.UpsertMatch(ctx, update(id, 10, 0, 0, nil)); err != nil {
			t.Fatalf("UpsertMatch() error = %v", err)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		inserted := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.CreatePrediction(ctx, newPrediction(id, enums.HT, 5))
				if err != nil {
					t.Errorf("CreatePrediction() error = %v", err)
					return
				}
				if ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if inserted != 1 {
			t.Errorf("inserted = %d, want 1", inserted)
		}

		if ok, err := s.CreatePrediction(ctx, newPrediction(id, enums.FT, 5)); err != nil || !ok {
			t.Errorf("a different type should insert, got %v, %v", ok, err)
		}
		open, err := s.OpenPredictions(ctx, id)
		if err != nil {
			t.Fatalf("OpenPredictions() error = %v", err)
		}
		if len(open) != 2 {
			t.Errorf("open predictions = %d, want 2", len(open))
		}

		pending, err := s.MatchesWithOpenPredictions(ctx)
		if err != nil {
			t.Fatalf("MatchesWithOpenPredictions() error = %v", err)
		}
		found := 0
		for _, m := range pending {
			if m == id {
				found++
			}
		}
		if found != 1 {
			t.Errorf("match %s listed %d times among %v, want once", id, found, pending)
		}
	})

	t.Run("settlement moves balance and appends ledger", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := "mid:" + uuid.NewString()
		if err := s.UpsertMatch(ctx, update(id, 10, 0, 0, nil)); err != nil {
			t.Fatalf("UpsertMatch() error = %v", err)
		}
		before, err := s.GetBankroll(ctx)
		if err != nil {
			t.Fatalf("GetBankroll() error = %v", err)
		}
		ledgerBefore, _ := s.Ledger(ctx)

		p := newPrediction(id, enums.HT, 5)
		if _, err := s.CreatePrediction(ctx, p); err != nil {
			t.Fatalf("CreatePrediction() error = %v", err)
		}
		res, err := s.SettlePrediction(ctx, models.Settlement{
			PredictionID: p.ID,
			Correct:      true,
			Multiplier:   decimal.RequireFromString("0.3"),
		})
		if err != nil {
			t.Fatalf("SettlePrediction() error = %v", err)
		}
		if !res.Entry.Change.Equal(decimal.RequireFromString("1.5")) {
			t.Errorf("change = %s, want 1.5", res.Entry.Change)
		}
		if !res.Entry.PreviousBalance.Equal(before.Balance) {
			t.Errorf("previous balance = %s, want %s", res.Entry.PreviousBalance, before.Balance)
		}
		if res.Entry.Reason != models.ReasonPredictionWin {
			t.Errorf("reason = %q", res.Entry.Reason)
		}
		if !res.Prediction.Resolved || res.Prediction.Correct == nil || !*res.Prediction.Correct {
			t.Errorf("prediction not resolved as correct: %+v", res.Prediction)
		}

		after, _ := s.GetBankroll(ctx)
		if !after.Balance.Equal(before.Balance.Add(decimal.RequireFromString("1.5"))) {
			t.Errorf("balance = %s, want %s + 1.5", after.Balance, before.Balance)
		}
		ledgerAfter, _ := s.Ledger(ctx)
		if len(ledgerAfter) != len(ledgerBefore)+1 {
			t.Errorf("ledger grew by %d, want 1", len(ledgerAfter)-len(ledgerBefore))
		}

		_, err = s.SettlePrediction(ctx, models.Settlement{PredictionID: p.ID, Correct: false, Multiplier: decimal.NewFromInt(-1)})
		if !errors.Is(err, ErrAlreadyResolved) {
			t.Errorf("second settlement error = %v, want ErrAlreadyResolved", err)
		}
		if err := s.VerifyLedger(ctx); err != nil {
			t.Errorf("VerifyLedger() error = %v", err)
		}

		resolved, _ := s.ResolvedPredictions(ctx, id)
		if len(resolved) != 1 {
			t.Errorf("resolved = %d, want 1", len(resolved))
		}
	})

	t.Run("weights are seeded and saved", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		w, err := s.GetWeights(ctx)
		if err != nil {
			t.Fatalf("GetWeights() error = %v", err)
		}
		if w.Version == "" || w.Thresholds[enums.HT] == 0 {
			t.Fatalf("weights not seeded: %+v", w)
		}
		w.Thresholds[enums.HT] = 0.61
		w.TotalResolved++
		if err := s.SaveWeights(ctx, w); err != nil {
			t.Fatalf("SaveWeights() error = %v", err)
		}
		got, err := s.GetWeights(ctx)
		if err != nil {
			t.Fatalf("GetWeights() error = %v", err)
		}
		if got.Thresholds[enums.HT] != 0.61 || got.TotalResolved != w.TotalResolved {
			t.Errorf("weights = %+v, want saved values", got)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore(models.DefaultBankrollConfig())
	})
}

func TestMemoryStore_ConcurrentSettlementKeepsLedger(t *testing.T) {
	s := NewMemoryStore(models.DefaultBankrollConfig())
	ctx := context.Background()

	var ids []string
	for i := 0; i < 20; i++ {
		matchID := fmt.Sprintf("mid:%d", i)
		if err := s.UpsertMatch(ctx, update(matchID, 10, 0, 0, nil)); err != nil {
			t.Fatalf("UpsertMatch() error = %v", err)
		}
		p := newPrediction(matchID, enums.FT, 5)
		if _, err := s.CreatePrediction(ctx, p); err != nil {
			t.Fatalf("CreatePrediction() error = %v", err)
		}
		ids = append(ids, p.ID)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			mult := decimal.NewFromInt(-1)
			if i%2 == 0 {
				mult = decimal.RequireFromString("0.1")
			}
			if _, err := s.SettlePrediction(ctx, models.Settlement{PredictionID: id, Correct: i%2 == 0, Multiplier: mult}); err != nil {
				t.Errorf("SettlePrediction() error = %v", err)
			}
		}(i, id)
	}
	wg.Wait()

	if err := s.VerifyLedger(ctx); err != nil {
		t.Errorf("VerifyLedger() error = %v", err)
	}
	// 10 wins of +0.5 and 10 losses of -5.
	b, _ := s.GetBankroll(ctx)
	if want := decimal.NewFromInt(55); !b.Balance.Equal(want) {
		t.Errorf("balance = %s, want %s", b.Balance, want)
	}

	sum, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if sum.Won != 10 || sum.Lost != 10 || sum.WinRate != 0.5 || sum.OpenPredictions != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestMemoryStore_BankrollActive(t *testing.T) {
	s := NewMemoryStore(models.DefaultBankrollConfig())
	ctx := context.Background()
	if err := s.SetBankrollActive(ctx, false); err != nil {
		t.Fatalf("SetBankrollActive() error = %v", err)
	}
	b, _ := s.GetBankroll(ctx)
	if b.Active {
		t.Errorf("bankroll should be inactive")
	}
	if !b.Balance.Equal(models.DefaultBalance) {
		t.Errorf("balance = %s, want default %s", b.Balance, models.DefaultBalance)
	}
}
