package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Vodeneev/goalbot/internal/pkg/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process memory. It backs tests and the "memory" storage driver.
type MemoryStore struct {
	mu sync.Mutex

	matches         map[string]*models.Match
	snapshots       map[string][]models.Snapshot
	predictions     map[string]*models.Prediction
	predictionOrder []string
	bankroll        *models.BankrollConfig
	bankrollSeed    models.BankrollConfig
	ledger          []models.LedgerEntry
	weights         *models.WeightState
	nextSnapshotID  int64
	now             func() time.Time
}

// NewMemoryStore creates an empty store; seed is used when the bankroll is first read.
func NewMemoryStore(seed models.BankrollConfig) *MemoryStore {
	return &MemoryStore{
		matches:      make(map[string]*models.Match),
		snapshots:    make(map[string][]models.Snapshot),
		predictions:  make(map[string]*models.Prediction),
		bankrollSeed: seed,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) UpsertMatch(ctx context.Context, u models.MatchUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m, ok := s.matches[u.ExternalID]
	if !ok {
		m = &models.Match{ExternalID: u.ExternalID, CreatedAt: now}
		s.matches[u.ExternalID] = m
	}

	m.Locator = u.Locator
	m.HomeTeam = u.HomeTeam
	m.AwayTeam = u.AwayTeam
	m.League = leagueOrDefault(u.League)
	m.Status = statusOrDefault(u.Status)
	if u.Minute != nil {
		m.Minute = copyInt(u.Minute)
	}
	m.GoalsHome = u.GoalsHome
	m.GoalsAway = u.GoalsAway
	if u.FirstHalf {
		m.HTGoalsHome = copyInt(&u.GoalsHome)
		m.HTGoalsAway = copyInt(&u.GoalsAway)
	}
	if u.Stats != nil {
		m.Stats = *u.Stats
	}
	m.IsFinished = m.IsFinished || u.Finished
	m.IsTracked = u.Tracked && !m.IsFinished
	m.UpdatedAt = now

	if u.Stats != nil {
		s.nextSnapshotID++
		s.snapshots[u.ExternalID] = append(s.snapshots[u.ExternalID], models.Snapshot{
			ID:         s.nextSnapshotID,
			MatchID:    u.ExternalID,
			Minute:     m.CurrentMinute(),
			Stats:      *u.Stats,
			CapturedAt: now,
		})
	}
	return nil
}

func (s *MemoryStore) GetMatch(ctx context.Context, externalID string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[externalID]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", externalID, ErrNotFound)
	}
	out := copyMatch(m)
	return &out, nil
}

func (s *MemoryStore) TrackedMatches(ctx context.Context) ([]models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Match
	for _, m := range s.matches {
		if m.IsTracked {
			out = append(out, copyMatch(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (s *MemoryStore) MarkUntracked(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[externalID]
	if !ok {
		return fmt.Errorf("match %s: %w", externalID, ErrNotFound)
	}
	m.IsTracked = false
	m.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) RecentSnapshots(ctx context.Context, matchID string, limit int) ([]models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append([]models.Snapshot(nil), s.snapshots[matchID]...)
	// Newest first by minute, ties broken by capture order.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Minute != all[j].Minute {
			return all[i].Minute > all[j].Minute
		}
		return all[i].ID > all[j].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (s *MemoryStore) MatchesWithOpenPredictions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, id := range s.predictionOrder {
		p := s.predictions[id]
		if p.Resolved {
			continue
		}
		if _, ok := seen[p.MatchID]; ok {
			continue
		}
		seen[p.MatchID] = struct{}{}
		out = append(out, p.MatchID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) OpenPredictions(ctx context.Context, matchID string) ([]models.Prediction, error) {
	return s.listPredictions(matchID, false), nil
}

func (s *MemoryStore) ResolvedPredictions(ctx context.Context, matchID string) ([]models.Prediction, error) {
	return s.listPredictions(matchID, true), nil
}

func (s *MemoryStore) listPredictions(matchID string, resolved bool) []models.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Prediction
	for _, id := range s.predictionOrder {
		p := s.predictions[id]
		if p.MatchID == matchID && p.Resolved == resolved {
			out = append(out, *p)
		}
	}
	return out
}

func (s *MemoryStore) CreatePrediction(ctx context.Context, p *models.Prediction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.predictions {
		if existing.MatchID == p.MatchID && existing.Type == p.Type && !existing.Resolved {
			return false, nil
		}
	}
	if _, dup := s.predictions[p.ID]; dup {
		return false, fmt.Errorf("prediction id %s already used", p.ID)
	}

	stored := *p
	stored.Resolved = false
	stored.Correct = nil
	stored.Profit = nil
	stored.ResolvedAt = nil
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.predictions[p.ID] = &stored
	s.predictionOrder = append(s.predictionOrder, p.ID)
	return true, nil
}

func (s *MemoryStore) GetBankroll(ctx context.Context) (models.BankrollConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.bankrollLocked(), nil
}

func (s *MemoryStore) bankrollLocked() *models.BankrollConfig {
	if s.bankroll == nil {
		seed := s.bankrollSeed
		seed.UpdatedAt = s.now()
		s.bankroll = &seed
	}
	return s.bankroll
}

func (s *MemoryStore) SetBankrollActive(ctx context.Context, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bankrollLocked()
	b.Active = active
	b.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SettlePrediction(ctx context.Context, st models.Settlement) (*models.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[st.PredictionID]
	if !ok {
		return nil, fmt.Errorf("prediction %s: %w", st.PredictionID, ErrNotFound)
	}
	if p.Resolved {
		return nil, fmt.Errorf("prediction %s: %w", st.PredictionID, ErrAlreadyResolved)
	}

	now := s.now()
	b := s.bankrollLocked()
	change := p.Stake.Mul(st.Multiplier)
	entry := models.LedgerEntry{
		ID:              int64(len(s.ledger) + 1),
		PreviousBalance: b.Balance,
		NewBalance:      b.Balance.Add(change),
		Change:          change,
		Reason:          reasonFor(st.Correct),
		PredictionID:    p.ID,
		CreatedAt:       now,
	}

	correct := st.Correct
	p.Resolved = true
	p.Correct = &correct
	p.Profit = &change
	p.ResolvedAt = &now

	b.Balance = entry.NewBalance
	b.UpdatedAt = now
	s.ledger = append(s.ledger, entry)

	return &models.SettlementResult{Prediction: *p, Entry: entry}, nil
}

func (s *MemoryStore) Ledger(ctx context.Context) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LedgerEntry(nil), s.ledger...), nil
}

func (s *MemoryStore) VerifyLedger(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bankrollLocked()
	return checkLedger(b.InitialBalance, b.Balance, s.ledger)
}

func (s *MemoryStore) GetWeights(ctx context.Context) (models.WeightState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.weights == nil {
		seed := models.DefaultWeightState()
		s.weights = &seed
	}
	return s.weights.Clone(), nil
}

func (s *MemoryStore) SaveWeights(ctx context.Context, w models.WeightState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := w.Clone()
	saved.UpdatedAt = s.now()
	s.weights = &saved
	return nil
}

func (s *MemoryStore) Summary(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary
	for _, m := range s.matches {
		if m.IsFinished {
			sum.FinishedMatches++
		} else if m.IsTracked {
			sum.LiveMatches++
		}
	}
	for _, p := range s.predictions {
		switch {
		case !p.Resolved:
			sum.OpenPredictions++
		case p.Correct != nil && *p.Correct:
			sum.Won++
		default:
			sum.Lost++
		}
	}
	sum.WinRate = winRate(sum.Won, sum.Lost)
	sum.Balance = s.bankrollLocked().Balance
	return sum, nil
}

func (s *MemoryStore) Close() error { return nil }

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyMatch(m *models.Match) models.Match {
	out := *m
	out.Minute = copyInt(m.Minute)
	out.HTGoalsHome = copyInt(m.HTGoalsHome)
	out.HTGoalsAway = copyInt(m.HTGoalsAway)
	return out
}
