package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/yooozz3/target-assign-rl/internal/ledger"
	"github.com/yooozz3/target-assign-rl/internal/logging"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to target_assign.db")
	last := flag.Int("last", 20, "show N most recent rows")
	runID := flag.String("run", "", "show single run detail")
	checkpoints := flag.Bool("checkpoints", false, "list recorded checkpoints across runs")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/target_assign.db [--last N] [--run id] [--checkpoints] [--json]")
		os.Exit(2)
	}

	store, err := ledger.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *runID != "":
		err = runDetailMode(store, *runID, *last, *jsonOut)
	case *checkpoints:
		err = runCheckpointMode(store, *last, *jsonOut)
	default:
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type runRow struct {
	RunID          string `json:"run_id"`
	CreatedAt      string `json:"created_at"`
	LatestEpisode  *int   `json:"latest_checkpoint_episode,omitempty"`
	LatestPath     string `json:"latest_checkpoint_path,omitempty"`
	EpisodesLogged int    `json:"episodes_logged"`
}

func runListMode(store *ledger.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]runRow, 0, len(runs))
	for _, r := range runs {
		row := runRow{RunID: r.RunID, CreatedAt: r.CreatedAt.Format("2006-01-02T15:04:05Z")}
		ckpt, err := store.LatestCheckpoint(r.RunID)
		switch {
		case err == nil:
			ep := ckpt.Episode
			row.LatestEpisode = &ep
			row.LatestPath = ckpt.Path
		case !errors.Is(err, ledger.ErrNoCheckpoint):
			return err
		}
		if err := store.DB().QueryRow(
			`SELECT COUNT(*) FROM episode_log WHERE run_id = ?`, r.RunID,
		).Scan(&row.EpisodesLogged); err != nil {
			return fmt.Errorf("count episodes: %w", err)
		}
		rows = append(rows, row)
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-10s  %-20s  %8s  %10s\n", "Run", "Created", "Episodes", "Checkpoint")
	fmt.Printf("%-10s+-%-20s+-%8s+-%10s\n", "----------", "--------------------", "--------", "----------")
	for _, r := range rows {
		ckpt := "-"
		if r.LatestEpisode != nil {
			ckpt = fmt.Sprintf("ep %d", *r.LatestEpisode)
		}
		fmt.Printf("%-10s  %-20s  %8d  %10s\n", shortID(r.RunID), r.CreatedAt, r.EpisodesLogged, ckpt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	RunID    string                 `json:"run_id"`
	Config   json.RawMessage        `json:"config"`
	Episodes []logging.EpisodeEntry `json:"episodes"`
}

func runDetailMode(store *ledger.Store, runID string, last int, jsonOut bool) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	episodes, err := logging.ListEpisodes(store.DB(), runID, last)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(detailOutput{
			RunID:    run.RunID,
			Config:   json.RawMessage(run.ConfigJSON),
			Episodes: episodes,
		})
	}

	fmt.Printf("Run:     %s\n", run.RunID)
	fmt.Printf("Created: %s\n", run.CreatedAt.Format("2006-01-02T15:04:05Z"))
	fmt.Println()
	fmt.Printf("%7s  %5s  %8s  %10s  %8s  %s\n", "Episode", "Steps", "Reward", "Mean Loss", "Epsilon", "Outcome")
	fmt.Printf("%7s+-%5s+-%8s+-%10s+-%8s+-%s\n", "-------", "-----", "--------", "----------", "--------", "---------")
	// ListEpisodes returns DESC, print chronologically
	for i := len(episodes) - 1; i >= 0; i-- {
		e := episodes[i]
		loss := "-"
		if e.Updates > 0 {
			loss = fmt.Sprintf("%.6f", e.MeanLoss)
		}
		fmt.Printf("%7d  %5d  %8.1f  %10s  %8.4f  %s\n", e.Episode, e.Steps, e.Reward, loss, e.Epsilon, outcome(e))
	}
	return nil
}

// #endregion detail-mode

// #region checkpoint-mode

func runCheckpointMode(store *ledger.Store, last int, jsonOut bool) error {
	list, err := store.ListCheckpoints(last)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(os.Stderr, "no checkpoints found")
		return nil
	}
	if jsonOut {
		return printJSON(list)
	}
	fmt.Printf("%-10s  %7s  %8s  %s\n", "Run", "Episode", "Epsilon", "Path")
	fmt.Printf("%-10s+-%7s+-%8s+-%s\n", "----------", "-------", "--------", "--------------------")
	for _, c := range list {
		fmt.Printf("%-10s  %7d  %8.4f  %s\n", shortID(c.RunID), c.Episode, c.Epsilon, c.Path)
	}
	return nil
}

// #endregion checkpoint-mode

// #region helpers

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func outcome(e logging.EpisodeEntry) string {
	switch {
	case e.Truncated:
		return "truncated"
	case e.Matched:
		return "matched"
	default:
		return "unmatched"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
