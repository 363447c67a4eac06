package logging

import "time"

// #region episode-entry
// EpisodeEntry is a single row in the episode_log table.
type EpisodeEntry struct {
	RunID     string
	Episode   int
	Steps     int
	Reward    float64
	MeanLoss  float64
	Updates   int // gradient steps taken; 0 stores a NULL loss
	Epsilon   float64
	Matched   bool // final allocation equals the plan
	Truncated bool // no eligible action remained before the budget was spent
	CreatedAt time.Time
}
// #endregion episode-entry
