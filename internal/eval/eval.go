package eval

import (
	"errors"
	"fmt"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
	"github.com/yooozz3/target-assign-rl/internal/env"
	"github.com/yooozz3/target-assign-rl/internal/planner"
	"github.com/yooozz3/target-assign-rl/internal/policy"
)

// #region eval-harness
// EvalHarness plays a policy through allocation episodes and scores it.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run evaluates p over freshly generated episodes from e.
func (h *EvalHarness) Run(p policy.Policy, e *env.Env) (EvalResult, error) {
	outcomes := make([]EpisodeOutcome, 0, h.config.Episodes)
	for i := 0; i < h.config.Episodes; i++ {
		e.Reset()
		out, err := playEpisode(p, e)
		if err != nil {
			return EvalResult{}, fmt.Errorf("episode %d: %w", i, err)
		}
		out.Passed = out.Matched && !out.Truncated
		outcomes = append(outcomes, out)
	}
	return h.score(outcomes), nil
}

// RunFixture evaluates p on each scenario of f. A scenario passes when the
// final allocation equals its expected plan and, when given, the action
// sequence matches exactly.
func (h *EvalHarness) RunFixture(p policy.Policy, f *Fixture) (EvalResult, error) {
	e, err := env.New(env.Config{
		NumThreats: f.NumThreats,
		NumDrones:  f.NumDrones,
		ActiveProb: 1,
		MaxLevel:   1,
		Seed:       1,
	})
	if err != nil {
		return EvalResult{}, fmt.Errorf("fixture env: %w", err)
	}

	outcomes := make([]EpisodeOutcome, 0, len(f.Scenarios))
	for _, sc := range f.Scenarios {
		if _, err := e.ResetWith(sc.Threats); err != nil {
			return EvalResult{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		out, err := playEpisode(p, e)
		if err != nil {
			return EvalResult{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		out.Name = sc.Name
		out.Passed, out.Reason = sc.check(out)
		outcomes = append(outcomes, out)
	}

	res := h.score(outcomes)
	failed := 0
	for _, o := range outcomes {
		if !o.Passed {
			failed++
		}
	}
	res.Metrics = append(res.Metrics, EvalMetric{
		Name:  "scenarios_failed",
		Value: float64(failed),
		Pass:  failed == 0,
	})
	if failed > 0 {
		res.Passed = false
		res.Reason = fmt.Sprintf("eval failed: %d of %d scenarios", failed, len(outcomes))
	}
	return res, nil
}

// #endregion eval-harness

// #region episode
func playEpisode(p policy.Policy, e *env.Env) (EpisodeOutcome, error) {
	p.Reset()
	out := EpisodeOutcome{Threats: e.Threats(), Plan: e.Plan()}

	state := e.State()
	for !e.Done() {
		action, err := p.Predict(state, e.Mask())
		if errors.Is(err, alloc.ErrNoEligibleAction) || errors.Is(err, planner.ErrPlanExhausted) {
			out.Truncated = true
			break
		}
		if err != nil {
			return out, fmt.Errorf("predict: %w", err)
		}
		next, reward, _, err := e.Step(action)
		if err != nil {
			return out, err
		}
		out.Actions = append(out.Actions, action)
		out.Reward += reward
		state = next
	}
	out.Allocation = e.Allocation()
	out.Matched = e.Matched()
	return out, nil
}

// #endregion episode

// #region scoring
func (h *EvalHarness) score(outcomes []EpisodeOutcome) EvalResult {
	var matched, truncated int
	var reward float64
	for _, o := range outcomes {
		if o.Matched {
			matched++
		}
		if o.Truncated {
			truncated++
		}
		reward += o.Reward
	}
	n := float64(len(outcomes))
	matchRate, truncRate, meanReward := 0.0, 0.0, 0.0
	if n > 0 {
		matchRate = float64(matched) / n
		truncRate = float64(truncated) / n
		meanReward = reward / n
	}

	var metrics []EvalMetric
	passed := true
	var failReasons []string

	matchPass := matchRate >= h.config.MinMatchRate
	metrics = append(metrics, EvalMetric{Name: "match_rate", Value: matchRate, Pass: matchPass})
	if !matchPass {
		passed = false
		failReasons = append(failReasons, fmt.Sprintf("match rate %.4f below %.4f", matchRate, h.config.MinMatchRate))
	}

	truncPass := truncRate <= h.config.MaxTruncationRate
	metrics = append(metrics, EvalMetric{Name: "truncation_rate", Value: truncRate, Pass: truncPass})
	if !truncPass {
		passed = false
		failReasons = append(failReasons, fmt.Sprintf("truncation rate %.4f exceeds %.4f", truncRate, h.config.MaxTruncationRate))
	}

	// Informational only.
	metrics = append(metrics, EvalMetric{Name: "mean_reward", Value: meanReward, Pass: true})

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:   passed,
		Metrics:  metrics,
		Reason:   reason,
		Episodes: outcomes,
	}
}

// #endregion scoring
