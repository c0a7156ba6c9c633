package storage

import (
	"testing"
	"time"

	"github.com/cuemby/icecream/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndListJobs(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0)

	for i := uint32(1); i <= 3; i++ {
		done := &protocol.JobDone{JobID: i, ExitCode: int32(i % 2), RealMsec: i * 100, MaxRSS: 2048}
		require.NoError(t, s.RecordJob(NewJobRecord(done, base.Add(time.Duration(i)*time.Second), i != 2)))
	}

	all, err := s.ListJobs(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint32(1), all[0].JobID)
	assert.Equal(t, uint32(3), all[2].JobID)
	assert.Equal(t, uint32(300), all[2].RealMsec)
	assert.False(t, all[1].Reported)
	assert.True(t, all[0].FinishedAt.Equal(base.Add(time.Second)))

	recent, err := s.ListJobs(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint32(2), recent[0].JobID, "most recent jobs, oldest first")
	assert.Equal(t, uint32(3), recent[1].JobID)
}

func TestSameFinishTimeKeepsBothJobs(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.RecordJob(NewJobRecord(&protocol.JobDone{JobID: 1}, now, true)))
	require.NoError(t, s.RecordJob(NewJobRecord(&protocol.JobDone{JobID: 2}, now, true)))

	jobs, err := s.ListJobs(0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0)

	for i := uint32(0); i < 5; i++ {
		require.NoError(t, s.RecordJob(NewJobRecord(&protocol.JobDone{JobID: i}, base.Add(time.Duration(i)*time.Hour), true)))
	}

	n, err := s.PruneBefore(base.Add(2 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	jobs, err := s.ListJobs(0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, uint32(2), jobs[0].JobID)

	n, err = s.PruneBefore(base)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReopenKeepsHistory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.RecordJob(NewJobRecord(&protocol.JobDone{JobID: 9}, time.Now(), true)))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	jobs, err := s.ListJobs(0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, uint32(9), jobs[0].JobID)
}

func TestStoreSkipsFsyncPerRecord(t *testing.T) {
	s := newTestStore(t)
	assert.True(t, s.db.NoSync, "recording a job must not fsync")

	old := time.Now().Add(-time.Hour)
	require.NoError(t, s.RecordJob(NewJobRecord(&protocol.JobDone{JobID: 1}, old, true)))
	require.NoError(t, s.RecordJob(NewJobRecord(&protocol.JobDone{JobID: 2}, time.Now(), true)))

	n, err := s.PruneBefore(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
