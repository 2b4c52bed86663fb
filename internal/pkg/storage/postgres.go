package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Vodeneev/goalbot/internal/pkg/config"
	"github.com/Vodeneev/goalbot/internal/pkg/enums"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore persists matches, predictions, the bankroll, the ledger and weights in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	// seed is nil for stores opened with OpenPostgresStore: missing rows are reported, not created.
	seed *models.BankrollConfig
}

// NewPostgresStore connects, pings and creates the schema if needed.
// seed is written as the bankroll when no bankroll row exists yet.
func NewPostgresStore(cfg *config.PostgresConfig, seed models.BankrollConfig) (*PostgresStore, error) {
	db, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := &PostgresStore{db: db, seed: &seed}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Info("PostgreSQL storage initialized")
	return store, nil
}

// OpenPostgresStore connects to an existing database without touching the schema or seeding
// the bankroll and weights. Reads of a missing singleton return ErrNotFound.
func OpenPostgresStore(cfg *config.PostgresConfig) (*PostgresStore, error) {
	db, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func connect(cfg *config.PostgresConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS leagues (
		id SERIAL PRIMARY KEY,
		name VARCHAR(300) NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS teams (
		id SERIAL PRIMARY KEY,
		name VARCHAR(300) NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS matches (
		external_id VARCHAR(500) PRIMARY KEY,
		locator TEXT NOT NULL,
		home_team_id INTEGER NOT NULL REFERENCES teams(id),
		away_team_id INTEGER NOT NULL REFERENCES teams(id),
		league_id INTEGER NOT NULL REFERENCES leagues(id),
		status VARCHAR(100) NOT NULL,
		minute INTEGER,
		goals_home INTEGER NOT NULL DEFAULT 0,
		goals_away INTEGER NOT NULL DEFAULT 0,
		ht_goals_home INTEGER,
		ht_goals_away INTEGER,
		stats JSONB NOT NULL DEFAULT '{}',
		is_tracked BOOLEAN NOT NULL DEFAULT TRUE,
		is_finished BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_matches_tracked ON matches(is_tracked) WHERE is_tracked;

	CREATE TABLE IF NOT EXISTS stat_snapshots (
		id BIGSERIAL PRIMARY KEY,
		match_id VARCHAR(500) NOT NULL REFERENCES matches(external_id),
		minute INTEGER NOT NULL,
		stats JSONB NOT NULL,
		captured_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_stat_snapshots_match_minute ON stat_snapshots(match_id, minute DESC, id DESC);

	CREATE TABLE IF NOT EXISTS predictions (
		id VARCHAR(64) PRIMARY KEY,
		match_id VARCHAR(500) NOT NULL REFERENCES matches(external_id),
		type VARCHAR(10) NOT NULL,
		minute INTEGER NOT NULL,
		stake NUMERIC(20, 8) NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		stats_at_creation JSONB NOT NULL,
		goals_home INTEGER NOT NULL,
		goals_away INTEGER NOT NULL,
		danger VARCHAR(20) NOT NULL DEFAULT 'LOW',
		reason TEXT NOT NULL DEFAULT '',
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		correct BOOLEAN,
		profit NUMERIC(20, 8),
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		resolved_at TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_predictions_one_open
		ON predictions(match_id, type) WHERE NOT resolved;
	CREATE INDEX IF NOT EXISTS idx_predictions_match ON predictions(match_id, created_at);

	CREATE TABLE IF NOT EXISTS bankroll (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		balance NUMERIC(20, 8) NOT NULL,
		initial_balance NUMERIC(20, 8) NOT NULL,
		stake_percentage NUMERIC(10, 4) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id BIGSERIAL PRIMARY KEY,
		previous_balance NUMERIC(20, 8) NOT NULL,
		new_balance NUMERIC(20, 8) NOT NULL,
		change NUMERIC(20, 8) NOT NULL,
		reason VARCHAR(50) NOT NULL,
		prediction_id VARCHAR(64) NOT NULL REFERENCES predictions(id),
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS weight_state (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		version VARCHAR(20) NOT NULL,
		state JSONB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresStore) UpsertMatch(ctx context.Context, u models.MatchUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	homeID, err := upsertName(ctx, tx, "teams", u.HomeTeam)
	if err != nil {
		return err
	}
	awayID, err := upsertName(ctx, tx, "teams", u.AwayTeam)
	if err != nil {
		return err
	}
	leagueID, err := upsertName(ctx, tx, "leagues", leagueOrDefault(u.League))
	if err != nil {
		return err
	}

	var statsJSON sql.NullString
	if u.Stats != nil {
		data, err := json.Marshal(u.Stats)
		if err != nil {
			return fmt.Errorf("failed to marshal stats: %w", err)
		}
		statsJSON = sql.NullString{String: string(data), Valid: true}
	}

	var htHome, htAway sql.NullInt64
	if u.FirstHalf {
		htHome = sql.NullInt64{Int64: int64(u.GoalsHome), Valid: true}
		htAway = sql.NullInt64{Int64: int64(u.GoalsAway), Valid: true}
	}

	query := `
	INSERT INTO matches (
		external_id, locator, home_team_id, away_team_id, league_id, status, minute,
		goals_home, goals_away, ht_goals_home, ht_goals_away, stats,
		is_tracked, is_finished, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12::jsonb, '{}'::jsonb), $13 AND NOT $14, $14, NOW(), NOW())
	ON CONFLICT (external_id) DO UPDATE SET
		locator = EXCLUDED.locator,
		home_team_id = EXCLUDED.home_team_id,
		away_team_id = EXCLUDED.away_team_id,
		league_id = EXCLUDED.league_id,
		status = EXCLUDED.status,
		minute = COALESCE(EXCLUDED.minute, matches.minute),
		goals_home = EXCLUDED.goals_home,
		goals_away = EXCLUDED.goals_away,
		ht_goals_home = COALESCE(EXCLUDED.ht_goals_home, matches.ht_goals_home),
		ht_goals_away = COALESCE(EXCLUDED.ht_goals_away, matches.ht_goals_away),
		stats = CASE WHEN $12::jsonb IS NULL THEN matches.stats ELSE EXCLUDED.stats END,
		is_finished = matches.is_finished OR EXCLUDED.is_finished,
		is_tracked = $13 AND NOT (matches.is_finished OR EXCLUDED.is_finished),
		updated_at = NOW()
	RETURNING COALESCE(minute, 0)
	`

	var minute int
	err = tx.QueryRowContext(ctx, query,
		u.ExternalID,
		u.Locator,
		homeID,
		awayID,
		leagueID,
		statusOrDefault(u.Status),
		nullInt(u.Minute),
		u.GoalsHome,
		u.GoalsAway,
		htHome,
		htAway,
		statsJSON,
		u.Tracked,
		u.Finished,
	).Scan(&minute)
	if err != nil {
		return fmt.Errorf("failed to upsert match %s: %w", u.ExternalID, err)
	}

	if statsJSON.Valid {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stat_snapshots (match_id, minute, stats, captured_at) VALUES ($1, $2, $3::jsonb, NOW())`,
			u.ExternalID, minute, statsJSON.String)
		if err != nil {
			return fmt.Errorf("failed to append snapshot for %s: %w", u.ExternalID, err)
		}
	}

	return tx.Commit()
}

func upsertName(ctx context.Context, tx *sql.Tx, table, name string) (int64, error) {
	// table is one of two constants, never user input.
	query := fmt.Sprintf(`
	INSERT INTO %s (name) VALUES ($1)
	ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
	RETURNING id
	`, table)

	var id int64
	if err := tx.QueryRowContext(ctx, query, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to upsert %s %q: %w", table, name, err)
	}
	return id, nil
}

const matchColumns = `
	m.external_id, m.locator, hm.name, aw.name, l.name, m.status, m.minute,
	m.goals_home, m.goals_away, m.ht_goals_home, m.ht_goals_away, m.stats,
	m.is_tracked, m.is_finished, m.created_at, m.updated_at
	FROM matches m
	JOIN teams hm ON hm.id = m.home_team_id
	JOIN teams aw ON aw.id = m.away_team_id
	JOIN leagues l ON l.id = m.league_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var (
		m              models.Match
		minute         sql.NullInt64
		htHome, htAway sql.NullInt64
		stats          []byte
	)
	err := row.Scan(&m.ExternalID, &m.Locator, &m.HomeTeam, &m.AwayTeam, &m.League, &m.Status, &minute,
		&m.GoalsHome, &m.GoalsAway, &htHome, &htAway, &stats,
		&m.IsTracked, &m.IsFinished, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Minute = intFromNull(minute)
	m.HTGoalsHome = intFromNull(htHome)
	m.HTGoalsAway = intFromNull(htAway)
	if err := json.Unmarshal(stats, &m.Stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats of %s: %w", m.ExternalID, err)
	}
	return &m, nil
}

func (s *PostgresStore) GetMatch(ctx context.Context, externalID string) (*models.Match, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` WHERE m.external_id = $1`, externalID)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match %s: %w", externalID, err)
	}
	return m, nil
}

func (s *PostgresStore) TrackedMatches(ctx context.Context) ([]models.Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+matchColumns+` WHERE m.is_tracked ORDER BY m.external_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked matches: %w", err)
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkUntracked(ctx context.Context, externalID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE matches SET is_tracked = FALSE, updated_at = NOW() WHERE external_id = $1`, externalID)
	if err != nil {
		return fmt.Errorf("failed to untrack match %s: %w", externalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("match %s: %w", externalID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) RecentSnapshots(ctx context.Context, matchID string, limit int) ([]models.Snapshot, error) {
	query := `
	SELECT id, match_id, minute, stats, captured_at FROM (
		SELECT id, match_id, minute, stats, captured_at
		FROM stat_snapshots
		WHERE match_id = $1
		ORDER BY minute DESC, id DESC
		LIMIT $2
	) recent
	ORDER BY minute ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, matchID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots of %s: %w", matchID, err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		var (
			snap  models.Snapshot
			stats []byte
		)
		if err := rows.Scan(&snap.ID, &snap.MatchID, &snap.Minute, &stats, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal(stats, &snap.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %d: %w", snap.ID, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

const predictionColumns = `
	id, match_id, type, minute, stake, confidence, stats_at_creation, goals_home, goals_away,
	danger, reason, resolved, correct, profit, created_at, resolved_at
`

func scanPrediction(row rowScanner) (*models.Prediction, error) {
	var (
		p          models.Prediction
		kind       string
		danger     string
		stats      []byte
		correct    sql.NullBool
		profit     decimal.NullDecimal
		resolvedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.MatchID, &kind, &p.Minute, &p.Stake, &p.Confidence, &stats, &p.GoalsHome, &p.GoalsAway,
		&danger, &p.Reason, &p.Resolved, &correct, &profit, &p.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if p.Type, err = enums.ParsePredictionType(kind); err != nil {
		return nil, err
	}
	p.Danger = enums.DangerLevel(danger)
	if err := json.Unmarshal(stats, &p.StatsAtCreation); err != nil {
		return nil, fmt.Errorf("failed to decode stats of prediction %s: %w", p.ID, err)
	}
	if correct.Valid {
		c := correct.Bool
		p.Correct = &c
	}
	if profit.Valid {
		v := profit.Decimal
		p.Profit = &v
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		p.ResolvedAt = &t
	}
	return &p, nil
}

func (s *PostgresStore) MatchesWithOpenPredictions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT match_id FROM predictions WHERE NOT resolved ORDER BY match_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches with open predictions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan match id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) OpenPredictions(ctx context.Context, matchID string) ([]models.Prediction, error) {
	return s.queryPredictions(ctx, matchID, false)
}

func (s *PostgresStore) ResolvedPredictions(ctx context.Context, matchID string) ([]models.Prediction, error) {
	return s.queryPredictions(ctx, matchID, true)
}

func (s *PostgresStore) queryPredictions(ctx context.Context, matchID string, resolved bool) ([]models.Prediction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE match_id = $1 AND resolved = $2 ORDER BY created_at, id`,
		matchID, resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions of %s: %w", matchID, err)
	}
	defer rows.Close()

	var out []models.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CreatePrediction relies on the partial unique index over open predictions, so two
// concurrent inserts for the same match and type cannot both succeed.
func (s *PostgresStore) CreatePrediction(ctx context.Context, p *models.Prediction) (bool, error) {
	stats, err := json.Marshal(p.StatsAtCreation)
	if err != nil {
		return false, fmt.Errorf("failed to marshal stats: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
	INSERT INTO predictions (
		id, match_id, type, minute, stake, confidence, stats_at_creation,
		goals_home, goals_away, danger, reason, resolved, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, FALSE, $12)
	ON CONFLICT (match_id, type) WHERE NOT resolved DO NOTHING
	RETURNING id
	`

	var id string
	err = s.db.QueryRowContext(ctx, query,
		p.ID,
		p.MatchID,
		string(p.Type),
		p.Minute,
		p.Stake,
		p.Confidence,
		string(stats),
		p.GoalsHome,
		p.GoalsAway,
		string(p.Danger),
		p.Reason,
		createdAt,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		// An open prediction of this type already exists.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to store prediction: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetBankroll(ctx context.Context) (models.BankrollConfig, error) {
	if err := s.ensureBankroll(ctx); err != nil {
		return models.BankrollConfig{}, err
	}

	var b models.BankrollConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT balance, initial_balance, stake_percentage, active, updated_at FROM bankroll WHERE id = 1`,
	).Scan(&b.Balance, &b.InitialBalance, &b.StakePercentage, &b.Active, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BankrollConfig{}, fmt.Errorf("bankroll: %w", ErrNotFound)
	}
	if err != nil {
		return models.BankrollConfig{}, fmt.Errorf("failed to read bankroll: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ensureBankroll(ctx context.Context) error {
	if s.seed == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO bankroll (id, balance, initial_balance, stake_percentage, active, updated_at)
	VALUES (1, $1, $2, $3, $4, NOW())
	ON CONFLICT (id) DO NOTHING
	`, s.seed.Balance, s.seed.InitialBalance, s.seed.StakePercentage, s.seed.Active)
	if err != nil {
		return fmt.Errorf("failed to seed bankroll: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetBankrollActive(ctx context.Context, active bool) error {
	if err := s.ensureBankroll(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE bankroll SET active = $1, updated_at = NOW() WHERE id = 1`, active)
	if err != nil {
		return fmt.Errorf("failed to update bankroll: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("bankroll: %w", ErrNotFound)
	}
	return nil
}

// SettlePrediction locks the prediction row and the bankroll row inside one transaction.
func (s *PostgresStore) SettlePrediction(ctx context.Context, st models.Settlement) (*models.SettlementResult, error) {
	if err := s.ensureBankroll(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := scanPrediction(tx.QueryRowContext(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE id = $1 FOR UPDATE`, st.PredictionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prediction %s: %w", st.PredictionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock prediction %s: %w", st.PredictionID, err)
	}
	if p.Resolved {
		return nil, fmt.Errorf("prediction %s: %w", st.PredictionID, ErrAlreadyResolved)
	}

	var balance decimal.Decimal
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM bankroll WHERE id = 1 FOR UPDATE`).Scan(&balance); err != nil {
		return nil, fmt.Errorf("failed to lock bankroll: %w", err)
	}

	now := time.Now().UTC()
	change := p.Stake.Mul(st.Multiplier)
	entry := models.LedgerEntry{
		PreviousBalance: balance,
		NewBalance:      balance.Add(change),
		Change:          change,
		Reason:          reasonFor(st.Correct),
		PredictionID:    p.ID,
		CreatedAt:       now,
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE predictions SET resolved = TRUE, correct = $2, profit = $3, resolved_at = $4 WHERE id = $1`,
		p.ID, st.Correct, change, now); err != nil {
		return nil, fmt.Errorf("failed to resolve prediction %s: %w", p.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE bankroll SET balance = $1, updated_at = $2 WHERE id = 1`, entry.NewBalance, now); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	err = tx.QueryRowContext(ctx, `
	INSERT INTO ledger_entries (previous_balance, new_balance, change, reason, prediction_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id
	`, entry.PreviousBalance, entry.NewBalance, entry.Change, entry.Reason, entry.PredictionID, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement of %s: %w", p.ID, err)
	}

	correct := st.Correct
	p.Resolved = true
	p.Correct = &correct
	p.Profit = &change
	p.ResolvedAt = &now
	return &models.SettlementResult{Prediction: *p, Entry: entry}, nil
}

func (s *PostgresStore) Ledger(ctx context.Context) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, previous_balance, new_balance, change, reason, prediction_id, created_at
	FROM ledger_entries ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PreviousBalance, &e.NewBalance, &e.Change, &e.Reason, &e.PredictionID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// VerifyLedger reads the bankroll and the ledger in one repeatable-read snapshot.
func (s *PostgresStore) VerifyLedger(ctx context.Context) error {
	if err := s.ensureBankroll(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var initial, balance, sum decimal.Decimal
	err = tx.QueryRowContext(ctx, `SELECT initial_balance, balance FROM bankroll WHERE id = 1`).Scan(&initial, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("bankroll: %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read bankroll: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(change), 0) FROM ledger_entries`).Scan(&sum); err != nil {
		return fmt.Errorf("failed to sum ledger: %w", err)
	}

	if !initial.Add(sum).Equal(balance) {
		return fmt.Errorf("%w: initial %s + changes %s, balance %s", ErrLedgerMismatch, initial, sum, balance)
	}
	return nil
}

func (s *PostgresStore) GetWeights(ctx context.Context) (models.WeightState, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM weight_state WHERE id = 1`).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		if s.seed == nil {
			return models.WeightState{}, fmt.Errorf("weights: %w", ErrNotFound)
		}
		seed := models.DefaultWeightState()
		if err := s.insertWeights(ctx, seed); err != nil {
			return models.WeightState{}, err
		}
		// Another writer may have seeded first; read back whatever won.
		return s.GetWeights(ctx)
	}
	if err != nil {
		return models.WeightState{}, fmt.Errorf("failed to read weights: %w", err)
	}

	var w models.WeightState
	if err := json.Unmarshal(state, &w); err != nil {
		return models.WeightState{}, fmt.Errorf("failed to decode weights: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) insertWeights(ctx context.Context, w models.WeightState) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO weight_state (id, version, state, updated_at) VALUES (1, $1, $2::jsonb, NOW())
	ON CONFLICT (id) DO NOTHING
	`, w.Version, string(data))
	if err != nil {
		return fmt.Errorf("failed to seed weights: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveWeights(ctx context.Context, w models.WeightState) error {
	w.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO weight_state (id, version, state, updated_at) VALUES (1, $1, $2::jsonb, $3)
	ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
	`, w.Version, string(data), w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save weights: %w", err)
	}
	return nil
}

func (s *PostgresStore) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
	SELECT
		(SELECT COUNT(*) FROM matches WHERE is_tracked AND NOT is_finished),
		(SELECT COUNT(*) FROM matches WHERE is_finished),
		(SELECT COUNT(*) FROM predictions WHERE NOT resolved),
		(SELECT COUNT(*) FROM predictions WHERE resolved AND correct),
		(SELECT COUNT(*) FROM predictions WHERE resolved AND NOT COALESCE(correct, FALSE))
	`).Scan(&sum.LiveMatches, &sum.FinishedMatches, &sum.OpenPredictions, &sum.Won, &sum.Lost)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to query summary: %w", err)
	}
	sum.WinRate = winRate(sum.Won, sum.Lost)

	b, err := s.GetBankroll(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum.Balance = b.Balance
	return sum, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	out := int(v.Int64)
	return &out
}
