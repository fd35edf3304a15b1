package persistence

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/observability"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrNothingToSnapshot is returned before the first operation is applied.
var ErrNothingToSnapshot = errors.New("snapshot: ledger has no operations yet")

// SnapshotterConfig controls when snapshots are taken and how many local
// copies are kept.
type SnapshotterConfig struct {
	// Interval is the minimum number of operations between periodic snapshots.
	Interval int64
	// CheckEvery is how often the periodic loop looks at the sequence.
	CheckEvery time.Duration
	// KeepLocal is how many bolt snapshots survive pruning.
	KeepLocal int
	// PersistWait bounds how long a snapshot waits for the event log to
	// catch up to it.
	PersistWait time.Duration
}

// Snapshotter captures facade state between operations and stores it.
// A snapshot is only written once the event log holds its sequence, so a
// stored snapshot never runs ahead of the log it is rolled forward over.
type Snapshotter struct {
	dispatcher *core.Dispatcher
	manager    *SnapshotManager
	local      *BoltSnapshotStore
	cfg        SnapshotterConfig
	metrics    *observability.Metrics
	logger     zerolog.Logger
	lastSeq    atomic.Int64

	// mu serializes stores from the periodic loop and admin requests.
	mu sync.Mutex
}

// NewSnapshotter builds a snapshotter. manager is nil without Postgres and
// local is nil when local snapshots are disabled.
func NewSnapshotter(
	dispatcher *core.Dispatcher,
	manager *SnapshotManager,
	local *BoltSnapshotStore,
	cfg SnapshotterConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Snapshotter {
	if cfg.Interval <= 0 {
		cfg.Interval = 100_000
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = 10 * time.Second
	}
	if cfg.KeepLocal <= 0 {
		cfg.KeepLocal = 3
	}
	if cfg.PersistWait <= 0 {
		cfg.PersistWait = 30 * time.Second
	}
	s := &Snapshotter{
		dispatcher: dispatcher,
		manager:    manager,
		local:      local,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
	}
	s.lastSeq.Store(-1)
	return s
}

// Run takes a snapshot whenever Interval operations have been applied
// since the last one.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CheckEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var current int64
			err := s.dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
				current = f.GetSequence() - 1
				return nil
			})
			if err != nil {
				return err
			}
			if current-s.lastSeq.Load() < s.cfg.Interval {
				continue
			}
			if _, err := s.TakeSnapshot(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}

// TakeSnapshot captures the live state and stores it, returning the
// snapshot's sequence.
func (s *Snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	start := time.Now()

	var snap *core.SnapshotState
	err := s.dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
		snap = f.CreateSnapshotState()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return snap.Sequence, s.store(ctx, snap, start)
}

// Store saves an already captured snapshot, e.g. the final one taken
// after the dispatcher has stopped.
func (s *Snapshotter) Store(ctx context.Context, snap *core.SnapshotState) error {
	return s.store(ctx, snap, time.Now())
}

func (s *Snapshotter) store(ctx context.Context, snap *core.SnapshotState, start time.Time) error {
	if snap.Sequence < 0 {
		return ErrNothingToSnapshot
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager != nil {
		if err := s.waitForLog(ctx, snap.Sequence); err != nil {
			return err
		}
		if err := s.manager.SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		if err := s.manager.VerifySnapshot(ctx, snap); err != nil {
			return fmt.Errorf("verify snapshot: %w", err)
		}
	}
	if s.local != nil {
		if err := s.local.SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("save local snapshot: %w", err)
		}
		if removed, err := s.local.Prune(s.cfg.KeepLocal); err != nil {
			s.logger.Warn().Err(err).Msg("prune local snapshots failed")
		} else if removed > 0 {
			s.logger.Debug().Int("removed", removed).Msg("pruned local snapshots")
		}
	}

	s.lastSeq.Store(snap.Sequence)
	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
		if data, err := json.Marshal(snap); err == nil {
			s.metrics.SnapshotSizeBytes.Set(float64(len(data)))
		}
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Dur("took", time.Since(start)).Msg("snapshot saved")
	return nil
}

func (s *Snapshotter) waitForLog(ctx context.Context, sequence int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistWait)
	defer cancel()

	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for {
		latest, err := s.manager.GetLatestSequence(ctx)
		if err != nil {
			return fmt.Errorf("latest persisted sequence: %w", err)
		}
		if latest >= sequence {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("event log at %d never reached snapshot %d: %w", latest, sequence, ctx.Err())
		case <-poll.C:
		}
	}
}

// LastSequence returns the sequence of the last stored snapshot, or -1.
func (s *Snapshotter) LastSequence() int64 {
	return s.lastSeq.Load()
}

// SetLastSequence records the snapshot the ledger was restored from, so
// the periodic loop counts from there.
func (s *Snapshotter) SetLastSequence(seq int64) {
	s.lastSeq.Store(seq)
}
