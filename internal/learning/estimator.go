package learning

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
)

// Estimator predicts one value per action for a state and can be trained
// toward a target vector.
type Estimator interface {
	Estimate(state int) []float64
	Fit(state int, target []float64)
}

// Snapshotter is implemented by estimators whose parameters can be persisted.
type Snapshotter interface {
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// TableEstimator is a tabular Q function. States outside [0, states) are
// folded into range.
type TableEstimator struct {
	mu           sync.RWMutex
	values       [][]float64
	learningRate float64
}

type tableSnapshot struct {
	LearningRate float64     `json:"learning_rate"`
	Values       [][]float64 `json:"values"`
}

func NewTableEstimator(states, actions int, learningRate float64) *TableEstimator {
	if states <= 0 {
		states = 1
	}
	if actions <= 0 {
		actions = 1
	}
	if learningRate <= 0 || learningRate > 1 {
		learningRate = 0.1
	}
	values := make([][]float64, states)
	for i := range values {
		values[i] = make([]float64, actions)
	}
	return &TableEstimator{values: values, learningRate: learningRate}
}

func (t *TableEstimator) Estimate(state int) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row := t.values[t.index(state)]
	out := make([]float64, len(row))
	copy(out, row)
	return out
}

func (t *TableEstimator) Fit(state int, target []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := t.values[t.index(state)]
	for a := range row {
		if a >= len(target) {
			break
		}
		row[a] += t.learningRate * (target[a] - row[a])
	}
}

func (t *TableEstimator) Snapshot() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return json.Marshal(tableSnapshot{LearningRate: t.learningRate, Values: t.values})
}

func (t *TableEstimator) Restore(data []byte) error {
	var snap tableSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode table snapshot: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(snap.Values) != len(t.values) {
		return fmt.Errorf("table snapshot has %d states, want %d", len(snap.Values), len(t.values))
	}
	for i, row := range snap.Values {
		if len(row) != len(t.values[i]) {
			return fmt.Errorf("table snapshot state %d has %d actions, want %d", i, len(row), len(t.values[i]))
		}
	}
	t.values = snap.Values
	if snap.LearningRate > 0 {
		t.learningRate = snap.LearningRate
	}
	return nil
}

func (t *TableEstimator) index(state int) int {
	n := len(t.values)
	state %= n
	if state < 0 {
		state += n
	}
	return state
}

// StateSignal buckets a string key into one of states discrete states.
func StateSignal(key string, states int) int {
	if states <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(states))
}
