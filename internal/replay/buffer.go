package replay

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

// ErrInsufficientData is returned when a sample asks for more transitions than are stored.
var ErrInsufficientData = errors.New("insufficient data in replay buffer")

// #region transition

// Transition is one (s, a, r, s', done) step.
type Transition struct {
	State     []float64
	Action    int
	Reward    float64
	NextState []float64
	Done      bool
}

func (t Transition) clone() Transition {
	t.State = append([]float64(nil), t.State...)
	t.NextState = append([]float64(nil), t.NextState...)
	return t
}

// #endregion transition

// #region buffer

// Buffer is a fixed-capacity FIFO transition store with uniform sampling.
// It is not safe for concurrent use; see SyncBuffer.
type Buffer struct {
	items []Transition
	head  int // index of the oldest transition once full
	size  int
	rng   *rand.Rand
}

// NewBuffer creates a buffer holding at most capacity transitions.
// A nil rng uses a randomly seeded source.
func NewBuffer(capacity int, rng *rand.Rand) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("replay buffer capacity must be positive, got %d", capacity)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Buffer{
		items: make([]Transition, capacity),
		rng:   rng,
	}, nil
}

// Push stores a copy of t, evicting the oldest transition when full.
func (b *Buffer) Push(t Transition) {
	t = t.clone()
	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.head+b.size)%capacity] = t
		b.size++
		return
	}
	b.items[b.head] = t
	b.head = (b.head + 1) % capacity
}

// Sample draws batchSize distinct transitions uniformly at random.
func (b *Buffer) Sample(batchSize int) ([]Transition, error) {
	if batchSize < 0 || batchSize > b.size {
		return nil, fmt.Errorf("%w: requested %d, have %d", ErrInsufficientData, batchSize, b.size)
	}

	// Partial Fisher-Yates over a virtual index slice. Only swapped slots are
	// stored, keeping a draw O(batchSize).
	swapped := make(map[int]int, batchSize)
	at := func(k int) int {
		if v, ok := swapped[k]; ok {
			return v
		}
		return k
	}
	out := make([]Transition, batchSize)
	for i := 0; i < batchSize; i++ {
		j := i + b.rng.IntN(b.size-i)
		picked := at(j)
		swapped[j] = at(i)
		out[i] = b.items[(b.head+picked)%len(b.items)]
	}
	return out, nil
}

// Snapshot returns the stored transitions from oldest to newest.
func (b *Buffer) Snapshot() []Transition {
	out := make([]Transition, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	for i := range b.items {
		b.items[i] = Transition{}
	}
	b.head = 0
	b.size = 0
}

// Len returns the current occupancy.
func (b *Buffer) Len() int { return b.size }

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.items) }

// #endregion buffer

// #region sync-buffer

// SyncBuffer guards a Buffer with a single mutex for multi-goroutine training loops.
type SyncBuffer struct {
	mu  sync.Mutex
	buf *Buffer
}

// NewSyncBuffer wraps a new Buffer of the given capacity.
func NewSyncBuffer(capacity int, rng *rand.Rand) (*SyncBuffer, error) {
	buf, err := NewBuffer(capacity, rng)
	if err != nil {
		return nil, err
	}
	return &SyncBuffer{buf: buf}, nil
}

func (s *SyncBuffer) Push(t Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Push(t)
}

func (s *SyncBuffer) Sample(batchSize int) ([]Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Sample(batchSize)
}

func (s *SyncBuffer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Clear()
}

func (s *SyncBuffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// #endregion sync-buffer
