// Package learning implements the epsilon-greedy decision loop with
// experience replay shared by learning agents.
//
// The value estimator is injected: the loop only needs Estimate and Fit, so a
// lookup table, a linear model or a remote network all fit behind it.
package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/hashicorp/go-hclog"

	"omnipong/internal/logging"
)

type DocumentStore interface {
	WriteDocument(ctx context.Context, path string, content []byte) error
	ReadDocument(ctx context.Context, path string) ([]byte, error)
}

type Config struct {
	Actions      int
	MemorySize   int
	Gamma        float64
	Epsilon      float64
	EpsilonMin   float64
	EpsilonDecay float64
}

func (c Config) withDefaults() Config {
	if c.Actions <= 0 {
		c.Actions = 1
	}
	if c.MemorySize <= 0 {
		c.MemorySize = 2000
	}
	if c.Gamma < 0 || c.Gamma >= 1 {
		c.Gamma = 0.95
	}
	if c.Epsilon < 0 || c.Epsilon > 1 {
		c.Epsilon = 1.0
	}
	if c.EpsilonMin < 0 || c.EpsilonMin > 1 {
		c.EpsilonMin = 0.01
	}
	if c.EpsilonDecay <= 0 || c.EpsilonDecay > 1 {
		c.EpsilonDecay = 0.995
	}
	return c
}

type Loop struct {
	mu        sync.Mutex
	cfg       Config
	epsilon   float64
	estimator Estimator
	memory    *ReplayBuffer
	rng       *rand.Rand
	logger    hclog.Logger
}

// NewLoop builds a decision loop. A nil rng gets a randomly seeded source.
func NewLoop(cfg Config, estimator Estimator, rng *rand.Rand, logger hclog.Logger) *Loop {
	cfg = cfg.withDefaults()
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Loop{
		cfg:       cfg,
		epsilon:   cfg.Epsilon,
		estimator: estimator,
		memory:    NewReplayBuffer(cfg.MemorySize),
		rng:       rng,
		logger:    logging.OrNull(logger),
	}
}

func (l *Loop) Actions() int {
	return l.cfg.Actions
}

func (l *Loop) Epsilon() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epsilon
}

func (l *Loop) MemoryLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.memory.Len()
}

// Act explores with probability epsilon, otherwise picks the action with the
// highest estimated value. Ties go to the lowest action index.
func (l *Loop) Act(state int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rng.Float64() < l.epsilon {
		action := l.rng.IntN(l.cfg.Actions)
		l.logger.Debug("exploring", "state", state, "action", action)
		return action
	}
	action := argmax(l.estimator.Estimate(state), l.cfg.Actions)
	l.logger.Debug("exploiting", "state", state, "action", action)
	return action
}

func (l *Loop) Remember(state, action int, reward float64, nextState int, done bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.memory.Add(Experience{
		State:     state,
		Action:    action,
		Reward:    reward,
		NextState: nextState,
		Done:      done,
	})
}

// Replay trains the estimator on batchSize distinct stored experiences and
// then decays epsilon. It fails with ErrInsufficientExperience, leaving
// epsilon untouched, when fewer than batchSize experiences are stored.
func (l *Loop) Replay(batchSize int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch, err := l.memory.Sample(l.rng, batchSize)
	if err != nil {
		return err
	}
	for _, e := range batch {
		if e.Action < 0 || e.Action >= l.cfg.Actions {
			l.logger.Warn("skipping experience with out-of-range action", "action", e.Action)
			continue
		}
		target := e.Reward
		if !e.Done {
			target = e.Reward + l.cfg.Gamma*maxValue(l.estimator.Estimate(e.NextState))
		}
		values := l.estimator.Estimate(e.State)
		if len(values) <= e.Action {
			grown := make([]float64, l.cfg.Actions)
			copy(grown, values)
			values = grown
		}
		values[e.Action] = target
		l.estimator.Fit(e.State, values)
	}

	l.epsilon = max(l.cfg.EpsilonMin, l.epsilon*l.cfg.EpsilonDecay)
	l.logger.Debug("replayed", "batch", len(batch), "epsilon", l.epsilon)
	return nil
}

type loopSnapshot struct {
	Epsilon   float64         `json:"epsilon"`
	Estimator json.RawMessage `json:"estimator,omitempty"`
}

func (l *Loop) Save(ctx context.Context, docs DocumentStore, path string) error {
	l.mu.Lock()
	snap := loopSnapshot{Epsilon: l.epsilon}
	l.mu.Unlock()

	if s, ok := l.estimator.(Snapshotter); ok {
		raw, err := s.Snapshot()
		if err != nil {
			return fmt.Errorf("snapshot estimator: %w", err)
		}
		snap.Estimator = raw
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode decision loop: %w", err)
	}
	if err := docs.WriteDocument(ctx, path, data); err != nil {
		return fmt.Errorf("save decision loop: %w", err)
	}
	return nil
}

func (l *Loop) Load(ctx context.Context, docs DocumentStore, path string) error {
	data, err := docs.ReadDocument(ctx, path)
	if err != nil {
		return fmt.Errorf("load decision loop: %w", err)
	}
	var snap loopSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode decision loop: %w", err)
	}
	if len(snap.Estimator) > 0 {
		s, ok := l.estimator.(Snapshotter)
		if !ok {
			return errors.New("estimator does not support restore")
		}
		if err := s.Restore(snap.Estimator); err != nil {
			return err
		}
	}
	l.mu.Lock()
	l.epsilon = snap.Epsilon
	l.mu.Unlock()
	return nil
}

func argmax(values []float64, actions int) int {
	best := 0
	for a := 1; a < len(values) && a < actions; a++ {
		if values[a] > values[best] {
			best = a
		}
	}
	return best
}

func maxValue(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
