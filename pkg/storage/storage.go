// Package storage persists two small pieces of durable history that
// outlive a single process run: rendered-config change captures (the
// phase F surrogate for "a commit to a local versioned directory") and
// per-worker restart history. Grounded on pkg/storage/boltdb.go's
// bucket-per-concern, JSON-marshal-into-bucket shape, narrowed from a
// full cluster-state store down to two buckets.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/ids2agent/pkg/types"
)

var (
	bucketRenderHistory  = []byte("render_history")
	bucketRestartHistory = []byte("restart_history")
)

// History is a bbolt-backed append log for render snapshots and worker
// restart events.
type History struct {
	db *bolt.DB
}

// Open creates (or reopens) the history database under dataDir.
func Open(dataDir string) (*History, error) {
	dbPath := filepath.Join(dataDir, "ids2agent.db")

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRenderHistory, bucketRestartHistory} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("creating bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &History{db: db}, nil
}

// Close closes the underlying database.
func (h *History) Close() error { return h.db.Close() }

// RenderRecord is one phase F change-capture entry.
type RenderRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Files     map[string]string `json:"files"`
}

// RecordRender appends a render snapshot keyed by its timestamp, the
// phase F surrogate for "commit rendered config changes to a local
// versioned directory" (spec.md §4.6).
func (h *History) RecordRender(ctx context.Context, files map[string]string) error {
	rec := RenderRecord{Timestamp: time.Now(), Files: files}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling render record: %w", err)
	}

	return h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRenderHistory)
		// Fixed-width UTC keys sort in time order.
		key := []byte(rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"))
		return b.Put(key, data)
	})
}

// RenderHistory returns every recorded render snapshot, oldest first.
func (h *History) RenderHistory() ([]RenderRecord, error) {
	var records []RenderRecord
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRenderHistory)
		return b.ForEach(func(_, v []byte) error {
			var rec RenderRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// RestartRecord is one worker-restart event.
type RestartRecord struct {
	ID        string           `json:"id"`
	Worker    types.WorkerName `json:"worker"`
	Timestamp time.Time        `json:"timestamp"`
	Reason    string           `json:"reason"`
}

// RecordRestart appends a restart event keyed by its id (spec.md §4.8's
// supervisor restart bookkeeping, made durable across process restarts).
func (h *History) RecordRestart(rec RestartRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling restart record: %w", err)
	}
	return h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRestartHistory)
		return b.Put([]byte(rec.ID), data)
	})
}

// RestartHistory returns every recorded restart event for name.
func (h *History) RestartHistory(name types.WorkerName) ([]RestartRecord, error) {
	var records []RestartRecord
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRestartHistory)
		return b.ForEach(func(_, v []byte) error {
			var rec RestartRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Worker == name {
				records = append(records, rec)
			}
			return nil
		})
	})
	return records, err
}
