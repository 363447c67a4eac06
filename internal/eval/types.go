package eval

// #region eval-config
// EvalConfig holds episode counts and pass thresholds for policy evaluation.
type EvalConfig struct {
	Episodes          int     // generated episodes per Run
	MinMatchRate      float64 // fail if fewer episodes end on the plan
	MaxTruncationRate float64 // fail if more episodes stop early
}

// DefaultEvalConfig returns thresholds that the greedy planner meets exactly.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Episodes:          100,
		MinMatchRate:      1.0,
		MaxTruncationRate: 0.0,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region episode-outcome
// EpisodeOutcome is one evaluated episode.
type EpisodeOutcome struct {
	Name       string    `json:"name,omitempty"`
	Threats    []float64 `json:"threats"`
	Plan       []int     `json:"plan"`
	Allocation []int     `json:"allocation"`
	Actions    []int     `json:"actions"`
	Reward     float64   `json:"reward"`
	Matched    bool      `json:"matched"`
	Truncated  bool      `json:"truncated"`
	Passed     bool      `json:"passed"`
	Reason     string    `json:"reason,omitempty"`
}

// #endregion episode-outcome

// #region eval-result
// EvalResult is the output of an evaluation run.
type EvalResult struct {
	Passed   bool             `json:"passed"`
	Metrics  []EvalMetric     `json:"metrics"`
	Reason   string           `json:"reason"`
	Episodes []EpisodeOutcome `json:"episodes"`
}

// #endregion eval-result
