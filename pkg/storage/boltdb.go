package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketJobs = []byte("jobs")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "iceccd.db")

	// History is advisory and written from the daemon loop on every reap;
	// losing the tail on a crash is acceptable, an fsync per job is not.
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second, NoSync: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketJobs); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketJobs, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// jobKey orders records by finish time; the job id breaks ties
func jobKey(rec *JobRecord) []byte {
	k := make([]byte, 12)
	binary.BigEndian.PutUint64(k, uint64(rec.FinishedAt.UnixNano()))
	binary.BigEndian.PutUint32(k[8:], rec.JobID)
	return k
}

func timeKey(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return k
}

// Job operations
func (s *BoltStore) RecordJob(rec *JobRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(jobKey(rec), data)
	})
}

func (s *BoltStore) ListJobs(limit int) ([]*JobRecord, error) {
	var jobs []*JobRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(jobs) == limit {
				break
			}
			var rec JobRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			jobs = append(jobs, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
	return jobs, nil
}

func (s *BoltStore) PruneBefore(t time.Time) (int, error) {
	cutoff := timeKey(t)
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k[:8], cutoff) < 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err == nil && deleted > 0 {
		err = s.db.Sync()
	}
	return deleted, err
}
