package iql

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/yooozz3/target-assign-rl/internal/qnet"
)

// #region record

// checkpointRecord is the on-disk layout. Float data is stored as
// little-endian float64 blobs so values survive the round trip bit-for-bit.
type checkpointRecord struct {
	Episode   int                      `json:"episode"`
	Epsilon   float64                  `json:"epsilon"`
	Sizes     []int                    `json:"sizes"`
	Online    map[string]encodedMatrix `json:"online_parameters"`
	Target    map[string]encodedMatrix `json:"target_parameters"`
	Optimizer encodedOptimizer         `json:"optimizer_state"`
	SavedAt   time.Time                `json:"saved_at"`
}

type encodedMatrix struct {
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
	Data []byte `json:"data"`
}

type encodedOptimizer struct {
	Config qnet.AdamConfig `json:"config"`
	Step   int             `json:"step"`
	M      [][]byte        `json:"m"`
	V      [][]byte        `json:"v"`
}

// CheckpointPath returns the file a checkpoint for episode is written to under dir.
func CheckpointPath(dir string, episode int) string {
	return filepath.Join(dir, fmt.Sprintf("checkpoint_episode_%d.ckpt", episode))
}

// #endregion record

// #region save

// SaveCheckpoint writes episode, both networks, optimizer state and epsilon
// under dir, creating it if needed. It returns the written path.
func (a *Agent) SaveCheckpoint(episode int, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}

	opt := a.opt.State()
	rec := checkpointRecord{
		Episode: episode,
		Epsilon: a.epsilon,
		Sizes:   a.online.Sizes(),
		Online:  encodeWeights(a.online.Weights()),
		Target:  encodeWeights(a.target.Weights()),
		Optimizer: encodedOptimizer{
			Config: opt.Config,
			Step:   opt.Step,
			M:      encodeRows(opt.M),
			V:      encodeRows(opt.V),
		},
		SavedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := CheckpointPath(dir, episode)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize checkpoint: %w", err)
	}

	log.Printf("[IQL] checkpoint saved at episode %d: %s", episode, path)
	return path, nil
}

// #endregion save

// #region load

// LoadCheckpoint restores networks, optimizer state and epsilon from path and
// returns the recorded episode. A missing file is not an error: it is logged
// and reported with found=false, leaving the agent untouched.
func (a *Agent) LoadCheckpoint(path string) (episode int, found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("[IQL] checkpoint file not found: %s", path)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var rec checkpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if !sameInts(rec.Sizes, a.online.Sizes()) {
		return 0, false, fmt.Errorf("%w: checkpoint layout %v, agent layout %v", qnet.ErrShape, rec.Sizes, a.online.Sizes())
	}

	online, err := decodeWeights(rec.Online)
	if err != nil {
		return 0, false, fmt.Errorf("online parameters: %w", err)
	}
	target, err := decodeWeights(rec.Target)
	if err != nil {
		return 0, false, fmt.Errorf("target parameters: %w", err)
	}
	opt := qnet.AdamState{
		Config: rec.Optimizer.Config,
		Step:   rec.Optimizer.Step,
		M:      decodeRows(rec.Optimizer.M),
		V:      decodeRows(rec.Optimizer.V),
	}

	// Stage into scratch networks first so a bad record leaves the agent intact.
	scratchRNG := rand.New(rand.NewPCG(0, 0))
	scratchOnline, err := qnet.NewNetwork(rec.Sizes, scratchRNG)
	if err != nil {
		return 0, false, fmt.Errorf("online parameters: %w", err)
	}
	if err := scratchOnline.SetWeights(online); err != nil {
		return 0, false, fmt.Errorf("online parameters: %w", err)
	}
	scratchTarget, err := qnet.NewNetwork(rec.Sizes, scratchRNG)
	if err != nil {
		return 0, false, fmt.Errorf("target parameters: %w", err)
	}
	if err := scratchTarget.SetWeights(target); err != nil {
		return 0, false, fmt.Errorf("target parameters: %w", err)
	}
	scratchOpt := qnet.NewAdam(opt.Config, a.online.Params())
	if err := scratchOpt.SetState(opt); err != nil {
		return 0, false, fmt.Errorf("optimizer state: %w", err)
	}

	a.online, a.target = scratchOnline, scratchTarget
	a.opt = scratchOpt
	a.epsilon = rec.Epsilon

	log.Printf("[IQL] checkpoint loaded from episode %d", rec.Episode)
	return rec.Episode, true, nil
}

// #endregion load

// #region encoding

func encodeWeights(w map[string]*mat.Dense) map[string]encodedMatrix {
	out := make(map[string]encodedMatrix, len(w))
	for k, m := range w {
		r, c := m.Dims()
		out[k] = encodedMatrix{Rows: r, Cols: c, Data: encodeVector(mat.DenseCopyOf(m).RawMatrix().Data)}
	}
	return out
}

func decodeWeights(in map[string]encodedMatrix) (map[string]*mat.Dense, error) {
	out := make(map[string]*mat.Dense, len(in))
	for k, e := range in {
		if e.Rows <= 0 || e.Cols <= 0 || len(e.Data) != e.Rows*e.Cols*8 {
			return nil, fmt.Errorf("%w: %s has %d bytes for %dx%d", qnet.ErrShape, k, len(e.Data), e.Rows, e.Cols)
		}
		out[k] = mat.NewDense(e.Rows, e.Cols, decodeVector(e.Data))
	}
	return out, nil
}

func encodeRows(rows [][]float64) [][]byte {
	out := make([][]byte, len(rows))
	for i, r := range rows {
		out[i] = encodeVector(r)
	}
	return out
}

func decodeRows(rows [][]byte) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = decodeVector(r)
	}
	return out
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// #endregion encoding
