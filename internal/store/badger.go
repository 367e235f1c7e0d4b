package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/breaker"
)

// Key layout: two logical row stores under distinct prefixes, both keyed by
// (targetKey, candidateID). The NUL separator cannot appear in a target's
// string form ("/"-joined) and keeps candidate IDs unambiguous.
const (
	statsPrefix   = "s\x00"
	breakerPrefix = "b\x00"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BadgerConfig configures the embedded backend.
type BadgerConfig struct {
	// Path is the database directory. Created if missing. Ignored when
	// InMemory is set.
	Path string
	// InMemory runs badger without disk persistence (tests).
	InMemory bool
	// SyncWrites trades write latency for durability of every outcome.
	SyncWrites bool
}

// Badger is the default persistent Store: an embedded KV database on local
// disk. It issues no network I/O, which is a hard requirement for this
// engine.
type Badger struct {
	db     *badger.DB
	params breaker.Params
	now    Clock
	log    *zap.Logger
}

// badgerLogger adapts badger's internal logging onto zap at debug level;
// badger is chatty and none of it is actionable for callers.
type badgerLogger struct{ log *zap.SugaredLogger }

func (l badgerLogger) Errorf(f string, args ...interface{})   { l.log.Debugf(f, args...) }
func (l badgerLogger) Warningf(f string, args ...interface{}) { l.log.Debugf(f, args...) }
func (l badgerLogger) Infof(f string, args ...interface{})    { l.log.Debugf(f, args...) }
func (l badgerLogger) Debugf(f string, args ...interface{})   { l.log.Debugf(f, args...) }

// NewBadger opens (or creates) the database and returns the store. A nil
// clock means time.Now.
func NewBadger(cfg BadgerConfig, params breaker.Params, now Clock, logger *zap.Logger) (*Badger, error) {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger store: path is required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger store: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open: %w", err)
	}
	return &Badger{db: db, params: params, now: now, log: logger.Named("store")}, nil
}

func statsKey(target schemas.TargetKey, candidateID string) []byte {
	return []byte(statsPrefix + target.String() + "\x00" + candidateID)
}

func breakerKey(target schemas.TargetKey, candidateID string) []byte {
	return []byte(breakerPrefix + target.String() + "\x00" + candidateID)
}

// loadRow unmarshals a row into out, leaving out untouched when the key is
// absent. Reports whether the key existed.
func loadRow(txn *badger.Txn, key []byte, out interface{}) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
	return err == nil, err
}

func storeRow(txn *badger.Txn, key []byte, row interface{}) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}

// RecordOutcome implements Store. Both rows are read, mutated, and written
// inside a single badger transaction; a conflict aborts and surfaces as an
// error rather than a torn pair.
func (b *Badger) RecordOutcome(_ context.Context, target schemas.TargetKey, candidateID string, outcome schemas.Outcome) (float64, error) {
	var reward float64
	err := b.db.Update(func(txn *badger.Txn) error {
		var stats schemas.CandidateStats
		if _, err := loadRow(txn, statsKey(target, candidateID), &stats); err != nil {
			return err
		}
		row := schemas.NewBreakerRow()
		if _, err := loadRow(txn, breakerKey(target, candidateID), &row); err != nil {
			return err
		}

		r, err := applyOutcome(&stats, &row, outcome, b.params, b.now())
		if err != nil {
			return err
		}
		reward = r

		if err := storeRow(txn, statsKey(target, candidateID), stats); err != nil {
			return err
		}
		return storeRow(txn, breakerKey(target, candidateID), row)
	})
	if err != nil {
		return 0, fmt.Errorf("badger store: record outcome: %w", err)
	}
	return reward, nil
}

// GetStats implements Store.
func (b *Badger) GetStats(_ context.Context, target schemas.TargetKey, candidateID string) (schemas.CandidateStats, bool, error) {
	var stats schemas.CandidateStats
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = loadRow(txn, statsKey(target, candidateID), &stats)
		return err
	})
	if err != nil {
		return schemas.CandidateStats{}, false, fmt.Errorf("badger store: get stats: %w", err)
	}
	return stats, found, nil
}

// GetBreaker implements Store. The refresh is applied to the returned view;
// the stored phase is only rewritten by IsOpen and RecordOutcome.
func (b *Badger) GetBreaker(_ context.Context, target schemas.TargetKey, candidateID string) (schemas.BreakerRow, bool, error) {
	row := schemas.NewBreakerRow()
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = loadRow(txn, breakerKey(target, candidateID), &row)
		return err
	})
	if err != nil {
		return schemas.BreakerRow{}, false, fmt.Errorf("badger store: get breaker: %w", err)
	}
	if !found {
		return schemas.BreakerRow{}, false, nil
	}
	b.params.Refresh(&row, b.now())
	return row, true, nil
}

// IsOpen implements Store. When the cooldown has elapsed the phase flip to
// HALF_OPEN is persisted, so the next reader observes it too.
func (b *Badger) IsOpen(_ context.Context, target schemas.TargetKey, candidateID string) (bool, error) {
	var open bool
	err := b.db.Update(func(txn *badger.Txn) error {
		row := schemas.NewBreakerRow()
		found, err := loadRow(txn, breakerKey(target, candidateID), &row)
		if err != nil {
			return err
		}
		if !found {
			open = false
			return nil
		}
		before := row.Phase
		open = b.params.Refresh(&row, b.now())
		if row.Phase != before {
			return storeRow(txn, breakerKey(target, candidateID), row)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger store: is open: %w", err)
	}
	return open, nil
}

// ListCandidates implements Store.
func (b *Badger) ListCandidates(_ context.Context, target schemas.TargetKey) ([]string, error) {
	prefix := []byte(statsPrefix + target.String() + "\x00")
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger store: list candidates: %w", err)
	}
	return ids, nil
}

// ResetTarget implements Store.
func (b *Badger) ResetTarget(ctx context.Context, target schemas.TargetKey) error {
	ids, err := b.ListCandidates(ctx, target)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(statsKey(target, id)); err != nil {
				return err
			}
			if err := txn.Delete(breakerKey(target, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger store: reset target %s: %w", target, err)
	}
	b.log.Info("Reset learned state for target", zap.Stringer("target", target), zap.Int("candidates", len(ids)))
	return nil
}

// ResetAll implements Store.
func (b *Badger) ResetAll(_ context.Context) error {
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("badger store: reset all: %w", err)
	}
	b.log.Warn("Dropped all learned state")
	return nil
}

// Close implements Store.
func (b *Badger) Close() error { return b.db.Close() }
