//go:build !noiql

package policy

import (
	"fmt"
	"log"

	"github.com/yooozz3/target-assign-rl/internal/iql"
)

// LearningAvailable reports whether the iql policy is compiled in.
const LearningAvailable = true

// newIQL builds a greedy-evaluation agent, restoring weights when a
// checkpoint path is given. A missing checkpoint leaves fresh weights.
func newIQL(opts Options) (Policy, error) {
	cfg := iql.DefaultConfig(opts.NumThreats)
	if opts.Hidden != nil {
		cfg.Hidden = opts.Hidden
	}
	cfg.RedundancyLimit = opts.RedundancyLimit
	cfg.Seed = opts.Seed

	agent, err := iql.New(cfg)
	if err != nil {
		return nil, err
	}
	if opts.Checkpoint == "" {
		return agent, nil
	}
	episode, found, err := agent.LoadCheckpoint(opts.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if found {
		log.Printf("[IQL] evaluating checkpoint from episode %d", episode)
	}
	return agent, nil
}
