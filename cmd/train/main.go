package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yooozz3/target-assign-rl/internal/config"
	"github.com/yooozz3/target-assign-rl/internal/env"
	"github.com/yooozz3/target-assign-rl/internal/iql"
	"github.com/yooozz3/target-assign-rl/internal/ledger"
	"github.com/yooozz3/target-assign-rl/internal/train"
)

// #region main

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults when empty)")
	resume := flag.String("resume", "", `checkpoint path to resume from, or "latest"`)
	episodes := flag.Int("episodes", 0, "override training.episodes")
	flag.Parse()

	if err := run(*configPath, *resume, *episodes); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region run

func run(configPath, resume string, episodes int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if episodes > 0 {
		cfg.Training.Episodes = episodes
	}

	store, err := ledger.NewStore(cfg.Training.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	runRec, err := store.CreateRun(string(cfgJSON))
	if err != nil {
		return err
	}
	log.Printf("[TRAIN] run %s started (db=%s)", runRec.RunID, cfg.Training.DBPath)

	agent, err := iql.New(cfg.IQL())
	if err != nil {
		return err
	}
	environment, err := env.New(cfg.Env())
	if err != nil {
		return err
	}
	trainer, err := train.New(cfg.Train(), agent, environment)
	if err != nil {
		return err
	}
	trainer.WithLedger(store, runRec.RunID)

	path, err := resolveResume(store, resume)
	if err != nil {
		return err
	}
	if path != "" {
		if err := trainer.Resume(path); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, summary, err := trainer.Run(ctx)
	printSummary(runRec.RunID, summary)
	if errors.Is(err, context.Canceled) {
		log.Printf("[TRAIN] interrupted after %d episodes", summary.Episodes)
		return nil
	}
	return err
}

// resolveResume maps the -resume flag to a checkpoint path. "latest" looks
// up the most recent checkpoint recorded in the ledger.
func resolveResume(store *ledger.Store, resume string) (string, error) {
	if resume != "latest" {
		return resume, nil
	}
	latest, err := store.LatestCheckpoint("")
	if errors.Is(err, ledger.ErrNoCheckpoint) {
		log.Printf("[TRAIN] no recorded checkpoint, starting fresh")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return latest.Path, nil
}

// #endregion run

// #region output

func printSummary(runID string, s train.Summary) {
	fmt.Println("=== Training Summary ===")
	fmt.Printf("Run:           %s\n", runID)
	fmt.Printf("Episodes:      %d\n", s.Episodes)
	fmt.Printf("Steps:         %d\n", s.Steps)
	fmt.Printf("Plan matched:  %d\n", s.Matched)
	fmt.Printf("Truncated:     %d\n", s.Truncated)
	fmt.Printf("Mean reward:   %.3f\n", s.MeanReward)
	fmt.Printf("Final epsilon: %.4f\n", s.FinalEpsilon)
	for _, p := range s.Checkpoints {
		fmt.Printf("Checkpoint:    %s\n", p)
	}
}

// #endregion output
