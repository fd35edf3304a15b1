package persistence

import (
	"RedirectLedger/internal/core"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var bucketSnapshots = []byte("snapshots")

// BoltSnapshotStore keeps snapshots in a local bbolt file, keyed by
// sequence. It lets a single node restart quickly without Postgres holding
// the full snapshot history.
type BoltSnapshotStore struct {
	db *bbolt.DB
}

// OpenBoltSnapshotStore opens or creates the bbolt database at path.
// The parent directory is created if it does not exist.
func OpenBoltSnapshotStore(path string) (*BoltSnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("snapshot store: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snapshot store: create bucket: %w", err)
	}
	return &BoltSnapshotStore{db: db}, nil
}

func (s *BoltSnapshotStore) Close() error { return s.db.Close() }

// sequenceKey encodes a sequence as an 8-byte big-endian key so the cursor
// walks snapshots in order. Genesis (-1) is never stored.
func sequenceKey(seq int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(seq))
	return k
}

func (s *BoltSnapshotStore) SaveSnapshot(_ context.Context, snap *core.SnapshotState) error {
	if snap.Sequence < 0 {
		return fmt.Errorf("snapshot store: refusing to store sequence %d", snap.Sequence)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(sequenceKey(snap.Sequence), data)
	})
}

// LoadLatestSnapshot returns the highest-sequence snapshot, or nil when the
// store is empty.
func (s *BoltSnapshotStore) LoadLatestSnapshot(_ context.Context) (*core.SnapshotState, error) {
	var snap *core.SnapshotState
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, data := tx.Bucket(bucketSnapshots).Cursor().Last()
		if data == nil {
			return nil
		}
		snap = &core.SnapshotState{}
		return json.Unmarshal(data, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// Prune keeps the newest keep snapshots and deletes the rest. It returns
// how many were removed.
func (s *BoltSnapshotStore) Prune(keep int) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		total := b.Stats().KeyN
		if total <= keep {
			return nil
		}
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(stale) < total-keep; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
