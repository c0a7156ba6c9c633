package storage

import (
	"time"

	"github.com/cuemby/icecream/pkg/protocol"
)

// JobRecord is one finished compile job as kept in the history
type JobRecord struct {
	JobID      uint32    `json:"job_id"`
	ExitCode   int32     `json:"exit_code"`
	FinishedAt time.Time `json:"finished_at"`

	RealMsec uint32 `json:"real_msec"`
	UserMsec uint32 `json:"user_msec"`
	SysMsec  uint32 `json:"sys_msec"`
	MaxRSS   uint32 `json:"max_rss_kb"`
	MajFlt   uint32 `json:"maj_flt"`
	NSwap    uint32 `json:"nswap"`

	InCompressed    uint32 `json:"in_compressed"`
	InUncompressed  uint32 `json:"in_uncompressed"`
	OutCompressed   uint32 `json:"out_compressed"`
	OutUncompressed uint32 `json:"out_uncompressed"`

	// Reported is false when no scheduler was connected to receive it
	Reported bool `json:"reported"`
}

// NewJobRecord copies the counters of a JobDone message
func NewJobRecord(done *protocol.JobDone, finishedAt time.Time, reported bool) *JobRecord {
	return &JobRecord{
		JobID:           done.JobID,
		ExitCode:        done.ExitCode,
		FinishedAt:      finishedAt,
		RealMsec:        done.RealMsec,
		UserMsec:        done.UserMsec,
		SysMsec:         done.SysMsec,
		MaxRSS:          done.MaxRSS,
		MajFlt:          done.MajFlt,
		NSwap:           done.NSwap,
		InCompressed:    done.InCompressed,
		InUncompressed:  done.InUncompressed,
		OutCompressed:   done.OutCompressed,
		OutUncompressed: done.OutUncompressed,
		Reported:        reported,
	}
}

// Store defines the interface for the finished job history
type Store interface {
	// RecordJob appends a finished job
	RecordJob(rec *JobRecord) error

	// ListJobs returns up to limit of the most recent jobs, oldest first.
	// A limit of zero or less returns every job.
	ListJobs(limit int) ([]*JobRecord, error)

	// PruneBefore deletes jobs finished before t and returns how many
	PruneBefore(t time.Time) (int, error)

	Close() error
}
