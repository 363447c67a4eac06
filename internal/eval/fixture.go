package eval

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a scenario fixture.
type Fixture struct {
	Description string     `json:"description"`
	NumThreats  int        `json:"num_threats"`
	NumDrones   int        `json:"num_drones"`
	Scenarios   []Scenario `json:"scenarios"`
}

// Scenario is one fixed threat vector with its expected outcome. An empty
// ExpectedPlan defaults to the greedy pre-allocation.
type Scenario struct {
	Name            string    `json:"name"`
	Threats         []float64 `json:"threats"`
	ExpectedPlan    []int     `json:"expected_plan,omitempty"`
	ExpectedActions []int     `json:"expected_actions,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &f, nil
}

// Validate checks scenario shapes against the fixture dimensions.
func (f *Fixture) Validate() error {
	if f.NumThreats <= 0 {
		return fmt.Errorf("num_threats must be positive, got %d", f.NumThreats)
	}
	if f.NumDrones < 0 {
		return fmt.Errorf("num_drones must be >= 0, got %d", f.NumDrones)
	}
	for _, sc := range f.Scenarios {
		if len(sc.Threats) != f.NumThreats {
			return fmt.Errorf("scenario %s: %w: %d threats, want %d", sc.Name, alloc.ErrStateShape, len(sc.Threats), f.NumThreats)
		}
		if sc.ExpectedPlan != nil && len(sc.ExpectedPlan) != f.NumThreats {
			return fmt.Errorf("scenario %s: expected_plan has %d entries, want %d", sc.Name, len(sc.ExpectedPlan), f.NumThreats)
		}
	}
	return nil
}

// #endregion fixture-loader

// #region scenario-check
func (sc Scenario) check(out EpisodeOutcome) (bool, string) {
	want := sc.ExpectedPlan
	if want == nil {
		want = out.Plan
	}
	if !alloc.Equal(out.Allocation, want) {
		return false, fmt.Sprintf("allocation %v, want %v", out.Allocation, want)
	}
	if sc.ExpectedActions != nil && !alloc.Equal(out.Actions, sc.ExpectedActions) {
		return false, fmt.Sprintf("actions %v, want %v", out.Actions, sc.ExpectedActions)
	}
	if out.Truncated {
		return false, "episode truncated"
	}
	return true, ""
}

// #endregion scenario-check
