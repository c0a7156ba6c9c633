/*
Package storage keeps the history of finished compile jobs in BoltDB.

Every job a daemon reaps is written as one JSON record to the "jobs" bucket
of <dataDir>/iceccd.db, whether or not a scheduler was connected to receive
its JobDone message. Keys are the big-endian finish time in nanoseconds
followed by the job id, so a cursor walks the history in finish order:

	┌──────────────── jobs bucket ────────────────┐
	│  key: finish_ns (8 bytes) | job_id (4 bytes) │
	│  value: JobRecord as JSON                    │
	└──────────────────────────────────────────────┘

PruneBefore trims old records so the file does not grow without bound;
`iceccd history` reads the records back with ListJobs.

# Usage

	store, err := storage.NewBoltStore("/var/lib/icecc")
	if err != nil {
		return err
	}
	defer store.Close()

	rec := storage.NewJobRecord(done, time.Now(), true)
	if err := store.RecordJob(rec); err != nil {
		logger.Warn().Err(err).Msg("Failed to record job")
	}
*/
package storage
