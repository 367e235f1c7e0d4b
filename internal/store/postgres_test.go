package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/breaker"
)

// flexibleSQL builds a whitespace-insensitive regexp for SQL expectations.
func flexibleSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newPostgres(t *testing.T, clock *fakeClock) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := NewPostgres(context.Background(), mockPool, breaker.Defaults(), clock.Now, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNewPostgresPingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = NewPostgres(context.Background(), mockPool, breaker.Defaults(), nil, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresRecordOutcomeFirstSight(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, mockPool := newPostgres(t, clock)
	key := testTarget.String()

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(flexibleSQL(sqlSelectStatsForUpdate)).
		WithArgs(key, "css-send").
		WillReturnRows(pgxmock.NewRows([]string{"trials", "reward_sum", "misclicks", "timeouts", "not_found", "last_seen"}))
	mockPool.ExpectQuery(flexibleSQL(sqlSelectBreakerForUpdate)).
		WithArgs(key, "css-send").
		WillReturnRows(pgxmock.NewRows([]string{"phase", "open_until", "ema_fail", "attempts"}))
	mockPool.ExpectExec(flexibleSQL(sqlUpsertStats)).
		WithArgs(key, "css-send", 1, 1.0, 0, 0, 0, clock.Now()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(flexibleSQL(sqlUpsertBreaker)).
		WithArgs(key, "css-send", string(schemas.BreakerClosed), time.Time{}.UTC(), 0.0, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	reward, err := s.RecordOutcome(ctx, testTarget, "css-send", schemas.OutcomeSuccess)
	require.NoError(t, err)
	assert.Equal(t, 1.0, reward)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresRecordOutcomeRejectsUnknownWithoutTx(t *testing.T) {
	clock := newFakeClock()
	s, mockPool := newPostgres(t, clock)

	_, err := s.RecordOutcome(context.Background(), testTarget, "css-send", schemas.Outcome("wat"))
	require.ErrorIs(t, err, ErrUnknownOutcome)
	assert.NoError(t, mockPool.ExpectationsWereMet(), "no transaction may be opened for an invalid outcome")
}

func TestPostgresGetStatsAbsent(t *testing.T) {
	clock := newFakeClock()
	s, mockPool := newPostgres(t, clock)

	mockPool.ExpectQuery(`SELECT trials, reward_sum`).
		WithArgs(testTarget.String(), "ghost").
		WillReturnRows(pgxmock.NewRows([]string{"trials", "reward_sum", "misclicks", "timeouts", "not_found", "last_seen"}))

	_, found, err := s.GetStats(context.Background(), testTarget, "ghost")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresIsOpenPersistsHalfOpenFlip(t *testing.T) {
	clock := newFakeClock()
	s, mockPool := newPostgres(t, clock)
	key := testTarget.String()

	// Stored row is OPEN with an already-elapsed deadline. The flip must go
	// through the guarded statement, phase and deadline checked in SQL, so a
	// reopen committed by another host between our read and write survives.
	openUntil := clock.Now().Add(-time.Second)
	mockPool.ExpectQuery(`SELECT phase, open_until`).
		WithArgs(key, "css-send").
		WillReturnRows(pgxmock.NewRows([]string{"phase", "open_until", "ema_fail", "attempts"}).
			AddRow(string(schemas.BreakerOpen), openUntil, 0.9, 7))
	mockPool.ExpectExec(flexibleSQL(sqlFlipHalfOpen)).
		WithArgs(key, "css-send", clock.Now().UTC()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	open, err := s.IsOpen(context.Background(), testTarget, "css-send")
	require.NoError(t, err)
	assert.False(t, open)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresIsOpenFlipYieldsToConcurrentReopen(t *testing.T) {
	clock := newFakeClock()
	s, mockPool := newPostgres(t, clock)
	key := testTarget.String()

	// Same elapsed-OPEN read, but the guarded UPDATE matches no rows: another
	// host re-opened the breaker with a fresh deadline after our read. The
	// call must still succeed and must not fall back to an unguarded write.
	openUntil := clock.Now().Add(-time.Second)
	mockPool.ExpectQuery(`SELECT phase, open_until`).
		WithArgs(key, "css-send").
		WillReturnRows(pgxmock.NewRows([]string{"phase", "open_until", "ema_fail", "attempts"}).
			AddRow(string(schemas.BreakerOpen), openUntil, 0.9, 7))
	mockPool.ExpectExec(flexibleSQL(sqlFlipHalfOpen)).
		WithArgs(key, "css-send", clock.Now().UTC()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	open, err := s.IsOpen(context.Background(), testTarget, "css-send")
	require.NoError(t, err)
	assert.False(t, open)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresResetTargetUsesOneTransaction(t *testing.T) {
	clock := newFakeClock()
	s, mockPool := newPostgres(t, clock)
	key := testTarget.String()

	mockPool.ExpectBegin()
	mockPool.ExpectExec(`DELETE FROM candidate_stats`).
		WithArgs(key).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mockPool.ExpectExec(`DELETE FROM candidate_breaker`).
		WithArgs(key).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, s.ResetTarget(context.Background(), testTarget))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
