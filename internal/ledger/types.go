package ledger

import "time"

// #region run-record
// RunRecord is one training run and the configuration it started with.
type RunRecord struct {
	RunID      string
	ConfigJSON string
	CreatedAt  time.Time
}
// #endregion run-record

// #region checkpoint-record
// CheckpointRecord points at a checkpoint file written during a run.
type CheckpointRecord struct {
	ID        int64
	RunID     string
	Episode   int
	Path      string
	Epsilon   float64
	CreatedAt time.Time
}
// #endregion checkpoint-record
