package train

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/yooozz3/target-assign-rl/internal/alloc"
	"github.com/yooozz3/target-assign-rl/internal/env"
	"github.com/yooozz3/target-assign-rl/internal/iql"
	"github.com/yooozz3/target-assign-rl/internal/ledger"
	"github.com/yooozz3/target-assign-rl/internal/logging"
	"github.com/yooozz3/target-assign-rl/internal/replay"
)

// #region helpers
func smallEnv(t *testing.T) *env.Env {
	t.Helper()
	e, err := env.New(env.Config{NumThreats: 4, NumDrones: 5, ActiveProb: 0.6, MaxLevel: 3, Seed: 5})
	if err != nil {
		t.Fatalf("env.New: %v", err)
	}
	return e
}

func smallAgent(t *testing.T, seed uint64) *iql.Agent {
	t.Helper()
	cfg := iql.DefaultConfig(4)
	cfg.Hidden = []int{16}
	cfg.LearningRate = 1e-3
	cfg.Seed = seed
	a, err := iql.New(cfg)
	if err != nil {
		t.Fatalf("iql.New: %v", err)
	}
	return a
}

func smallConfig(dir string) Config {
	return Config{
		Episodes:        20,
		BatchSize:       8,
		BufferCapacity:  64,
		TargetSyncEvery: 5,
		CheckpointEvery: 10,
		CheckpointDir:   dir,
		Seed:            9,
	}
}

func tempStore(t *testing.T) *ledger.Store {
	t.Helper()
	s, err := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeLearner picks the first eligible action and counts lifecycle calls.
type fakeLearner struct {
	epsilon  float64
	syncs    int
	updates  int
	resets   int
	noAction bool
}

func (f *fakeLearner) SelectAction(_ []float64, mask []bool) (int, error) {
	if f.noAction {
		return 0, alloc.ErrNoEligibleAction
	}
	for i, ok := range mask {
		if ok {
			return i, nil
		}
	}
	return 0, alloc.ErrNoEligibleAction
}
func (f *fakeLearner) Reset() { f.resets++ }
func (f *fakeLearner) Update(batch []replay.Transition) (float64, error) {
	f.updates++
	return float64(len(batch)), nil
}
func (f *fakeLearner) UpdateTargetNetwork() { f.syncs++ }
func (f *fakeLearner) UpdateEpsilon()       { f.epsilon *= 0.5 }
func (f *fakeLearner) Epsilon() float64     { return f.epsilon }
func (f *fakeLearner) SaveCheckpoint(episode int, dir string) (string, error) {
	return filepath.Join(dir, "fake"), nil
}
func (f *fakeLearner) LoadCheckpoint(string) (int, bool, error) { return 0, false, nil }

// #endregion helpers

// #region config-tests
func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{Episodes: -1, BatchSize: 1, BufferCapacity: 1, TargetSyncEvery: 1},
		{Episodes: 1, BatchSize: 0, BufferCapacity: 1, TargetSyncEvery: 1},
		{Episodes: 1, BatchSize: 8, BufferCapacity: 4, TargetSyncEvery: 1},
		{Episodes: 1, BatchSize: 1, BufferCapacity: 1, TargetSyncEvery: 0},
		{Episodes: 1, BatchSize: 1, BufferCapacity: 1, TargetSyncEvery: 1, CheckpointEvery: -1},
		{Episodes: 1, BatchSize: 8, BufferCapacity: 64, Warmup: 2, TargetSyncEvery: 1},
	}
	for i, c := range bad {
		if _, err := New(c, &fakeLearner{}, smallEnv(t)); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestWarmupAtBatchSizeTrains(t *testing.T) {
	cfg := smallConfig(t.TempDir())
	cfg.Warmup = cfg.BatchSize
	cfg.CheckpointEvery = 0
	tr, err := New(cfg, &fakeLearner{epsilon: 1}, smallEnv(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	results, _, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[1].Updates == 0 {
		t.Fatal("expected updates once the buffer holds a full batch")
	}
}

// #endregion config-tests

// #region loop-tests
func TestRunLifecycleCalls(t *testing.T) {
	f := &fakeLearner{epsilon: 1}
	cfg := smallConfig(t.TempDir())
	cfg.CheckpointEvery = 0
	tr, err := New(cfg, f, smallEnv(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	results, summary, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 20 || summary.Episodes != 20 {
		t.Fatalf("expected 20 episodes, got %d / %d", len(results), summary.Episodes)
	}
	if f.syncs != 4 {
		t.Fatalf("expected 4 target syncs, got %d", f.syncs)
	}
	if f.resets != 20 {
		t.Fatalf("expected 20 resets, got %d", f.resets)
	}
	if summary.Steps != 100 {
		t.Fatalf("expected 5 steps per episode, got %d total", summary.Steps)
	}
	if tr.Buffer().Len() != 64 {
		t.Fatalf("expected full buffer, got %d", tr.Buffer().Len())
	}
	// Updates start once 8 transitions are stored.
	if f.updates != 100-7 {
		t.Fatalf("expected %d updates, got %d", 100-7, f.updates)
	}
	if len(summary.Checkpoints) != 0 {
		t.Fatalf("expected no checkpoints, got %v", summary.Checkpoints)
	}
	if results[5].Epsilon != math.Pow(0.5, 6) {
		t.Fatalf("expected epsilon decayed per episode, got %v", results[5].Epsilon)
	}
}

func TestRunEpisodeTruncatesWithoutEligibleAction(t *testing.T) {
	f := &fakeLearner{epsilon: 1, noAction: true}
	tr, err := New(smallConfig(t.TempDir()), f, smallEnv(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	store := tempStore(t)
	run, err := store.CreateRun("{}")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	tr.WithLedger(store, run.RunID)

	res, err := tr.RunEpisode()
	if err != nil {
		t.Fatalf("RunEpisode: %v", err)
	}
	if !res.Truncated || res.Steps != 0 {
		t.Fatalf("expected truncated empty episode, got %+v", res)
	}
	if tr.NextEpisode() != 1 {
		t.Fatalf("expected episode counter to advance, got %d", tr.NextEpisode())
	}
	rows, err := logging.ListEpisodes(store.DB(), run.RunID, 10)
	if err != nil {
		t.Fatalf("ListEpisodes: %v", err)
	}
	if len(rows) != 1 || !rows[0].Truncated || rows[0].Matched {
		t.Fatalf("expected one truncated row, got %+v", rows)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	tr, err := New(smallConfig(t.TempDir()), &fakeLearner{epsilon: 1}, smallEnv(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, _, err := tr.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no episodes, got %d", len(results))
	}
}

// #endregion loop-tests

// #region agent-tests
func TestTrainAgentWithLedger(t *testing.T) {
	dir := t.TempDir()
	store := tempStore(t)
	run, err := store.CreateRun("{}")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	agent := smallAgent(t, 1)
	tr, err := New(smallConfig(dir), agent, smallEnv(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr.WithLedger(store, run.RunID)

	_, summary, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Checkpoints) != 2 {
		t.Fatalf("expected 2 checkpoints, got %v", summary.Checkpoints)
	}
	for _, p := range summary.Checkpoints {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("checkpoint %s missing: %v", p, err)
		}
	}
	wantEps := math.Pow(0.995, 20)
	if math.Abs(summary.FinalEpsilon-wantEps) > 1e-12 {
		t.Fatalf("expected epsilon %v, got %v", wantEps, summary.FinalEpsilon)
	}

	latest, err := store.LatestCheckpoint(run.RunID)
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if latest.Episode != 19 || latest.Path != iql.CheckpointPath(dir, 19) {
		t.Fatalf("unexpected latest checkpoint %+v", latest)
	}

	entries, err := logging.ListEpisodes(store.DB(), run.RunID, 100)
	if err != nil {
		t.Fatalf("ListEpisodes: %v", err)
	}
	if len(entries) != 20 {
		t.Fatalf("expected 20 episode rows, got %d", len(entries))
	}

	resumed, err := New(smallConfig(dir), smallAgent(t, 2), smallEnv(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := resumed.Resume(latest.Path); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.NextEpisode() != 20 {
		t.Fatalf("expected resume at episode 20, got %d", resumed.NextEpisode())
	}
}

func TestResumeMissingCheckpoint(t *testing.T) {
	tr, err := New(smallConfig(t.TempDir()), smallAgent(t, 3), smallEnv(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tr.Resume(filepath.Join(t.TempDir(), "none.ckpt")); err != nil {
		t.Fatalf("missing checkpoint should not fail: %v", err)
	}
	if tr.NextEpisode() != 0 {
		t.Fatalf("expected start at 0, got %d", tr.NextEpisode())
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]EpisodeResult{
		{Steps: 5, Reward: 5, Matched: true, Epsilon: 0.9},
		{Steps: 3, Reward: -1, Truncated: true, Epsilon: 0.8},
	})
	if s.Episodes != 2 || s.Steps != 8 || s.Matched != 1 || s.Truncated != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.MeanReward != 2 || s.FinalEpsilon != 0.8 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

// #endregion agent-tests
