package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region log-episode
// LogEpisode writes an entry to the episode_log table.
func LogEpisode(db *sql.DB, entry EpisodeEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO episode_log (run_id, episode, steps, reward, mean_loss, updates, epsilon, matched, truncated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Episode,
		entry.Steps,
		entry.Reward,
		lossOrNull(entry),
		entry.Updates,
		entry.Epsilon,
		boolToInt(entry.Matched),
		boolToInt(entry.Truncated),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log episode: %w", err)
	}
	return nil
}
// #endregion log-episode

// #region list-episodes
// ListEpisodes returns the latest entries of a run, newest first.
func ListEpisodes(db *sql.DB, runID string, limit int) ([]EpisodeEntry, error) {
	rows, err := db.Query(
		`SELECT run_id, episode, steps, reward, mean_loss, updates, epsilon, matched, truncated, created_at
		 FROM episode_log WHERE run_id = ? ORDER BY episode DESC LIMIT ?`, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var entries []EpisodeEntry
	for rows.Next() {
		var e EpisodeEntry
		var loss sql.NullFloat64
		var matched, truncated int
		var createdStr string
		if err := rows.Scan(&e.RunID, &e.Episode, &e.Steps, &e.Reward, &loss, &e.Updates, &e.Epsilon, &matched, &truncated, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if loss.Valid {
			e.MeanLoss = loss.Float64
		}
		e.Matched = matched != 0
		e.Truncated = truncated != 0
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
// #endregion list-episodes

// #region helpers
func lossOrNull(e EpisodeEntry) interface{} {
	if e.Updates == 0 {
		return nil
	}
	return e.MeanLoss
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
// #endregion helpers
