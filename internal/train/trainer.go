package train

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
	"github.com/yooozz3/target-assign-rl/internal/env"
	"github.com/yooozz3/target-assign-rl/internal/ledger"
	"github.com/yooozz3/target-assign-rl/internal/logging"
	"github.com/yooozz3/target-assign-rl/internal/replay"
)

// #region types

// Learner is the training-side surface of a learning agent.
type Learner interface {
	SelectAction(state []float64, mask []bool) (int, error)
	Reset()
	Update(batch []replay.Transition) (float64, error)
	UpdateTargetNetwork()
	UpdateEpsilon()
	Epsilon() float64
	SaveCheckpoint(episode int, dir string) (string, error)
	LoadCheckpoint(path string) (episode int, found bool, err error)
}

// Config controls the training loop.
type Config struct {
	Episodes        int    // episodes to run (default 1000)
	BatchSize       int    // transitions per update (default 64)
	BufferCapacity  int    // replay capacity (default 10000)
	Warmup          int    // transitions stored before updates begin (0 = BatchSize)
	TargetSyncEvery int    // episodes between target syncs (default 10)
	CheckpointEvery int    // episodes between checkpoints (default 100, 0 = disabled)
	CheckpointDir   string // checkpoint directory (default "checkpoints")
	Seed            uint64 // replay sampling seed (0 = random)
}

// DefaultConfig returns the standard training settings.
func DefaultConfig() Config {
	return Config{
		Episodes:        1000,
		BatchSize:       64,
		BufferCapacity:  10000,
		TargetSyncEvery: 10,
		CheckpointEvery: 100,
		CheckpointDir:   "checkpoints",
	}
}

// Validate checks loop settings.
func (c Config) Validate() error {
	if c.Episodes < 0 {
		return fmt.Errorf("episodes must be >= 0, got %d", c.Episodes)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.BufferCapacity < c.BatchSize {
		return fmt.Errorf("buffer capacity %d smaller than batch size %d", c.BufferCapacity, c.BatchSize)
	}
	if c.Warmup < 0 || c.Warmup > c.BufferCapacity {
		return fmt.Errorf("warmup must be in [0, %d], got %d", c.BufferCapacity, c.Warmup)
	}
	if c.Warmup != 0 && c.Warmup < c.BatchSize {
		return fmt.Errorf("warmup %d smaller than batch size %d", c.Warmup, c.BatchSize)
	}
	if c.TargetSyncEvery <= 0 {
		return fmt.Errorf("target sync interval must be positive, got %d", c.TargetSyncEvery)
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("checkpoint interval must be >= 0, got %d", c.CheckpointEvery)
	}
	return nil
}

// EpisodeResult captures the outcome of one training episode.
type EpisodeResult struct {
	Episode   int
	Steps     int
	Reward    float64
	MeanLoss  float64
	Updates   int
	Epsilon   float64 // after this episode's decay
	Matched   bool    // final allocation equals the plan
	Truncated bool    // agent ran out of eligible actions before the budget was spent
}

// Summary provides aggregate stats from a training run.
type Summary struct {
	Episodes     int
	Steps        int
	Matched      int
	Truncated    int
	MeanReward   float64
	FinalEpsilon float64
	Checkpoints  []string
}

// #endregion types

// #region trainer

// Trainer runs the select, step, store, update loop for one learner.
type Trainer struct {
	config  Config
	learner Learner
	env     *env.Env
	buffer  *replay.Buffer

	store *ledger.Store
	runID string

	next        int // next episode index
	checkpoints []string
}

// New creates a trainer with an empty replay buffer.
func New(config Config, learner Learner, environment *env.Env) (*Trainer, error) {
	if config.Warmup == 0 {
		config.Warmup = config.BatchSize
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("train config: %w", err)
	}
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	buffer, err := replay.NewBuffer(config.BufferCapacity, rand.New(rand.NewPCG(seed, seed+1)))
	if err != nil {
		return nil, err
	}
	return &Trainer{
		config:  config,
		learner: learner,
		env:     environment,
		buffer:  buffer,
	}, nil
}

// WithLedger records checkpoints and per-episode rows under runID.
func (t *Trainer) WithLedger(store *ledger.Store, runID string) *Trainer {
	t.store = store
	t.runID = runID
	return t
}

// Resume restores the learner from a checkpoint and continues after its
// episode. A missing checkpoint leaves the trainer at episode 0.
func (t *Trainer) Resume(path string) error {
	episode, found, err := t.learner.LoadCheckpoint(path)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if found {
		t.next = episode + 1
		log.Printf("[TRAIN] resuming after episode %d", episode)
	}
	return nil
}

// NextEpisode is the index the next Run starts from.
func (t *Trainer) NextEpisode() int { return t.next }

// Buffer exposes the replay buffer for inspection.
func (t *Trainer) Buffer() *replay.Buffer { return t.buffer }

// #endregion trainer

// #region run

// Run trains for the configured number of episodes. Cancellation is checked
// between episodes.
func (t *Trainer) Run(ctx context.Context) ([]EpisodeResult, Summary, error) {
	results := make([]EpisodeResult, 0, t.config.Episodes)
	for i := 0; i < t.config.Episodes; i++ {
		if err := ctx.Err(); err != nil {
			return results, t.summarize(results), err
		}
		res, err := t.RunEpisode()
		if err != nil {
			return results, t.summarize(results), err
		}
		results = append(results, res)
	}
	return results, t.summarize(results), nil
}

// RunEpisode plays one episode, updating after every step once the buffer
// holds Warmup transitions.
func (t *Trainer) RunEpisode() (EpisodeResult, error) {
	episode := t.next
	res := EpisodeResult{Episode: episode}

	state := t.env.Reset()
	t.learner.Reset()

	var lossSum float64
	for !t.env.Done() {
		action, err := t.learner.SelectAction(state, t.env.Mask())
		if errors.Is(err, alloc.ErrNoEligibleAction) {
			res.Truncated = true
			break
		}
		if err != nil {
			return res, fmt.Errorf("episode %d step %d: select: %w", episode, res.Steps, err)
		}

		next, reward, done, err := t.env.Step(action)
		if err != nil {
			return res, fmt.Errorf("episode %d step %d: %w", episode, res.Steps, err)
		}
		t.buffer.Push(replay.Transition{
			State:     state,
			Action:    action,
			Reward:    reward,
			NextState: next,
			Done:      done,
		})
		res.Steps++
		res.Reward += reward
		state = next

		if t.buffer.Len() >= t.config.Warmup {
			batch, err := t.buffer.Sample(t.config.BatchSize)
			if err != nil {
				return res, fmt.Errorf("episode %d: sample: %w", episode, err)
			}
			loss, err := t.learner.Update(batch)
			if err != nil {
				return res, fmt.Errorf("episode %d: update: %w", episode, err)
			}
			lossSum += loss
			res.Updates++
		}
	}
	if res.Updates > 0 {
		res.MeanLoss = lossSum / float64(res.Updates)
	}
	res.Matched = t.env.Matched()

	if (episode+1)%t.config.TargetSyncEvery == 0 {
		t.learner.UpdateTargetNetwork()
	}
	t.learner.UpdateEpsilon()
	res.Epsilon = t.learner.Epsilon()

	if err := t.record(res); err != nil {
		return res, err
	}
	if every := t.config.CheckpointEvery; every > 0 && (episode+1)%every == 0 {
		if err := t.checkpoint(episode); err != nil {
			return res, err
		}
	}
	t.next++
	return res, nil
}

// #endregion run

// #region persistence

func (t *Trainer) record(res EpisodeResult) error {
	if t.store == nil {
		return nil
	}
	err := logging.LogEpisode(t.store.DB(), logging.EpisodeEntry{
		RunID:     t.runID,
		Episode:   res.Episode,
		Steps:     res.Steps,
		Reward:    res.Reward,
		MeanLoss:  res.MeanLoss,
		Updates:   res.Updates,
		Epsilon:   res.Epsilon,
		Matched:   res.Matched,
		Truncated: res.Truncated,
	})
	if err != nil {
		return fmt.Errorf("episode %d: %w", res.Episode, err)
	}
	return nil
}

func (t *Trainer) checkpoint(episode int) error {
	path, err := t.learner.SaveCheckpoint(episode, t.config.CheckpointDir)
	if err != nil {
		return fmt.Errorf("episode %d: %w", episode, err)
	}
	t.checkpoints = append(t.checkpoints, path)
	log.Printf("[TRAIN] episode %d checkpointed (epsilon %.4f, buffer %d)", episode, t.learner.Epsilon(), t.buffer.Len())
	if t.store == nil {
		return nil
	}
	_, err = t.store.RecordCheckpoint(ledger.CheckpointRecord{
		RunID:   t.runID,
		Episode: episode,
		Path:    path,
		Epsilon: t.learner.Epsilon(),
	})
	if err != nil {
		return fmt.Errorf("episode %d: %w", episode, err)
	}
	return nil
}

// #endregion persistence

// #region summarize

// Summarize computes aggregate stats from episode results.
func Summarize(results []EpisodeResult) Summary {
	var s Summary
	var reward float64
	for _, r := range results {
		s.Episodes++
		s.Steps += r.Steps
		reward += r.Reward
		if r.Matched {
			s.Matched++
		}
		if r.Truncated {
			s.Truncated++
		}
		s.FinalEpsilon = r.Epsilon
	}
	if s.Episodes > 0 {
		s.MeanReward = reward / float64(s.Episodes)
	}
	return s
}

func (t *Trainer) summarize(results []EpisodeResult) Summary {
	s := Summarize(results)
	s.Checkpoints = append([]string(nil), t.checkpoints...)
	return s
}

// #endregion summarize
