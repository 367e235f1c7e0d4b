package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/breaker"
)

// DBPool abstracts pgxpool.Pool so the Postgres store can be exercised with
// pgxmock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres is the shared-fleet Store: several agent hosts can learn into the
// same database. Single-host deployments should prefer the embedded Badger
// backend.
type Postgres struct {
	pool   DBPool
	params breaker.Params
	now    Clock
	log    *zap.Logger
}

// NewPostgres verifies the connection and returns the store. A nil clock
// means time.Now.
func NewPostgres(ctx context.Context, pool DBPool, params breaker.Params, now Clock, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, params: params, now: now, log: logger.Named("store")}, nil
}

const sqlEnsureSchema = `
    CREATE TABLE IF NOT EXISTS candidate_stats (
        target_key   TEXT NOT NULL,
        candidate_id TEXT NOT NULL,
        trials       BIGINT NOT NULL,
        reward_sum   DOUBLE PRECISION NOT NULL,
        misclicks    BIGINT NOT NULL,
        timeouts     BIGINT NOT NULL,
        not_found    BIGINT NOT NULL,
        last_seen    TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (target_key, candidate_id)
    );
    CREATE TABLE IF NOT EXISTS candidate_breaker (
        target_key   TEXT NOT NULL,
        candidate_id TEXT NOT NULL,
        phase        TEXT NOT NULL,
        open_until   TIMESTAMPTZ NOT NULL,
        ema_fail     DOUBLE PRECISION NOT NULL,
        attempts     BIGINT NOT NULL,
        PRIMARY KEY (target_key, candidate_id)
    );
`

// EnsureSchema creates the two row stores if they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, sqlEnsureSchema); err != nil {
		return fmt.Errorf("postgres store: ensure schema: %w", err)
	}
	return nil
}

const (
	sqlSelectStatsForUpdate = `
        SELECT trials, reward_sum, misclicks, timeouts, not_found, last_seen
        FROM candidate_stats WHERE target_key = $1 AND candidate_id = $2 FOR UPDATE;
    `
	sqlSelectBreakerForUpdate = `
        SELECT phase, open_until, ema_fail, attempts
        FROM candidate_breaker WHERE target_key = $1 AND candidate_id = $2 FOR UPDATE;
    `
	sqlUpsertStats = `
        INSERT INTO candidate_stats (target_key, candidate_id, trials, reward_sum, misclicks, timeouts, not_found, last_seen)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (target_key, candidate_id) DO UPDATE SET
            trials = EXCLUDED.trials,
            reward_sum = EXCLUDED.reward_sum,
            misclicks = EXCLUDED.misclicks,
            timeouts = EXCLUDED.timeouts,
            not_found = EXCLUDED.not_found,
            last_seen = EXCLUDED.last_seen;
    `
	sqlUpsertBreaker = `
        INSERT INTO candidate_breaker (target_key, candidate_id, phase, open_until, ema_fail, attempts)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (target_key, candidate_id) DO UPDATE SET
            phase = EXCLUDED.phase,
            open_until = EXCLUDED.open_until,
            ema_fail = EXCLUDED.ema_fail,
            attempts = EXCLUDED.attempts;
    `
	// Guarded so the flip only lands on the OPEN row whose cooldown was
	// observed to elapse. A concurrent RecordOutcome on another host may have
	// committed a fresh reopen in between; an unconditional write would stomp
	// its phase and dissolve the new quarantine.
	sqlFlipHalfOpen = `
        UPDATE candidate_breaker SET phase = 'HALF_OPEN'
        WHERE target_key = $1 AND candidate_id = $2
          AND phase = 'OPEN' AND open_until <= $3;
    `
)

// RecordOutcome implements Store. Both rows ride in one SQL transaction with
// row locks, so concurrent reporters on the same pair serialize cleanly.
func (p *Postgres) RecordOutcome(ctx context.Context, target schemas.TargetKey, candidateID string, outcome schemas.Outcome) (float64, error) {
	if !outcome.Valid() {
		// Reject before opening a transaction.
		return 0, ErrUnknownOutcome
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres store: begin: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			p.log.Error("Failed to rollback outcome transaction", zap.Error(rollbackErr))
		}
	}()

	key := target.String()

	var stats schemas.CandidateStats
	err = tx.QueryRow(ctx, sqlSelectStatsForUpdate, key, candidateID).Scan(
		&stats.Trials, &stats.RewardSum, &stats.Misclicks, &stats.Timeouts, &stats.NotFound, &stats.LastSeen)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres store: read stats: %w", err)
	}

	row := schemas.NewBreakerRow()
	var phase string
	err = tx.QueryRow(ctx, sqlSelectBreakerForUpdate, key, candidateID).Scan(
		&phase, &row.OpenUntil, &row.EMAFail, &row.Attempts)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres store: read breaker: %w", err)
	}
	if err == nil {
		row.Phase = schemas.BreakerPhase(phase)
	}

	reward, err := applyOutcome(&stats, &row, outcome, p.params, p.now())
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, sqlUpsertStats, key, candidateID,
		stats.Trials, stats.RewardSum, stats.Misclicks, stats.Timeouts, stats.NotFound, stats.LastSeen.UTC()); err != nil {
		return 0, fmt.Errorf("postgres store: upsert stats: %w", err)
	}
	if _, err := tx.Exec(ctx, sqlUpsertBreaker, key, candidateID,
		string(row.Phase), row.OpenUntil.UTC(), row.EMAFail, row.Attempts); err != nil {
		return 0, fmt.Errorf("postgres store: upsert breaker: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres store: commit: %w", err)
	}
	return reward, nil
}

// GetStats implements Store.
func (p *Postgres) GetStats(ctx context.Context, target schemas.TargetKey, candidateID string) (schemas.CandidateStats, bool, error) {
	const q = `
        SELECT trials, reward_sum, misclicks, timeouts, not_found, last_seen
        FROM candidate_stats WHERE target_key = $1 AND candidate_id = $2;
    `
	var stats schemas.CandidateStats
	err := p.pool.QueryRow(ctx, q, target.String(), candidateID).Scan(
		&stats.Trials, &stats.RewardSum, &stats.Misclicks, &stats.Timeouts, &stats.NotFound, &stats.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.CandidateStats{}, false, nil
	}
	if err != nil {
		return schemas.CandidateStats{}, false, fmt.Errorf("postgres store: get stats: %w", err)
	}
	return stats, true, nil
}

func (p *Postgres) readBreaker(ctx context.Context, target schemas.TargetKey, candidateID string) (schemas.BreakerRow, bool, error) {
	const q = `
        SELECT phase, open_until, ema_fail, attempts
        FROM candidate_breaker WHERE target_key = $1 AND candidate_id = $2;
    `
	row := schemas.NewBreakerRow()
	var phase string
	err := p.pool.QueryRow(ctx, q, target.String(), candidateID).Scan(
		&phase, &row.OpenUntil, &row.EMAFail, &row.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.BreakerRow{}, false, nil
	}
	if err != nil {
		return schemas.BreakerRow{}, false, fmt.Errorf("postgres store: get breaker: %w", err)
	}
	row.Phase = schemas.BreakerPhase(phase)
	return row, true, nil
}

// GetBreaker implements Store.
func (p *Postgres) GetBreaker(ctx context.Context, target schemas.TargetKey, candidateID string) (schemas.BreakerRow, bool, error) {
	row, found, err := p.readBreaker(ctx, target, candidateID)
	if err != nil || !found {
		return row, found, err
	}
	p.params.Refresh(&row, p.now())
	return row, true, nil
}

// IsOpen implements Store. An elapsed cooldown persists the HALF_OPEN flip.
func (p *Postgres) IsOpen(ctx context.Context, target schemas.TargetKey, candidateID string) (bool, error) {
	row, found, err := p.readBreaker(ctx, target, candidateID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	now := p.now()
	before := row.Phase
	open := p.params.Refresh(&row, now)
	if row.Phase != before {
		if _, err := p.pool.Exec(ctx, sqlFlipHalfOpen, target.String(), candidateID, now.UTC()); err != nil {
			return false, fmt.Errorf("postgres store: persist half-open flip: %w", err)
		}
	}
	return open, nil
}

// ListCandidates implements Store.
func (p *Postgres) ListCandidates(ctx context.Context, target schemas.TargetKey) ([]string, error) {
	const q = `
        SELECT candidate_id FROM candidate_stats WHERE target_key = $1 ORDER BY candidate_id;
    `
	rows, err := p.pool.Query(ctx, q, target.String())
	if err != nil {
		return nil, fmt.Errorf("postgres store: list candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres store: scan candidate id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate candidates: %w", err)
	}
	return ids, nil
}

// ResetTarget implements Store.
func (p *Postgres) ResetTarget(ctx context.Context, target schemas.TargetKey) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin reset: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			p.log.Error("Failed to rollback reset transaction", zap.Error(rollbackErr))
		}
	}()

	key := target.String()
	if _, err := tx.Exec(ctx, `DELETE FROM candidate_stats WHERE target_key = $1;`, key); err != nil {
		return fmt.Errorf("postgres store: delete stats: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM candidate_breaker WHERE target_key = $1;`, key); err != nil {
		return fmt.Errorf("postgres store: delete breaker: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit reset: %w", err)
	}
	return nil
}

// ResetAll implements Store.
func (p *Postgres) ResetAll(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `TRUNCATE candidate_stats, candidate_breaker;`); err != nil {
		return fmt.Errorf("postgres store: reset all: %w", err)
	}
	p.log.Warn("Dropped all learned state")
	return nil
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
