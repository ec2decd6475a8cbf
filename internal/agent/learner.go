package agent

import (
	"context"
	"errors"

	"github.com/hashicorp/go-hclog"

	"omnipong/internal/learning"
	"omnipong/internal/logging"
	"omnipong/internal/metrics"
)

type LearnerConfig struct {
	Loop         learning.Config
	States       int
	BatchSize    int
	LearningRate float64
}

func (c LearnerConfig) withDefaults() LearnerConfig {
	if c.Loop.Actions <= 0 {
		c.Loop.Actions = 10
	}
	if c.States <= 0 {
		c.States = 100
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	return c
}

// Learner bundles a decision loop with the bookkeeping a learning agent
// needs around it.
type Learner struct {
	cfg     LearnerConfig
	loop    *learning.Loop
	metrics *metrics.Metrics
	logger  hclog.Logger
}

func NewLearner(cfg LearnerConfig, m *metrics.Metrics, logger hclog.Logger) *Learner {
	cfg = cfg.withDefaults()
	logger = logging.OrNull(logger)
	estimator := learning.NewTableEstimator(cfg.States, cfg.Loop.Actions, cfg.LearningRate)
	return &Learner{
		cfg:     cfg,
		loop:    learning.NewLoop(cfg.Loop, estimator, nil, logger),
		metrics: m,
		logger:  logger,
	}
}

func (l *Learner) Loop() *learning.Loop {
	return l.loop
}

// Decide maps key onto a state and picks an action for it.
func (l *Learner) Decide(key string) (state, action int) {
	state = learning.StateSignal(key, l.cfg.States)
	return state, l.loop.Act(state)
}

// Learn stores the transition and replays a batch. Too little experience
// skips the replay.
func (l *Learner) Learn(state, action int, reward float64, nextState int, done bool) {
	l.loop.Remember(state, action, reward, nextState, done)
	err := l.loop.Replay(l.cfg.BatchSize)
	switch {
	case err == nil:
		l.metrics.Replay("ok")
	case errors.Is(err, learning.ErrInsufficientExperience):
		l.metrics.Replay("skipped")
		l.logger.Debug("replay skipped", "error", err)
	default:
		l.metrics.Replay("error")
		l.logger.Warn("replay failed", "error", err)
	}
}

func (l *Learner) SaveModel(ctx context.Context, docs DocumentStore, path string) error {
	if docs == nil {
		return errNoDocumentStore
	}
	return l.loop.Save(ctx, docs, path)
}

func (l *Learner) LoadModel(ctx context.Context, docs DocumentStore, path string) error {
	if docs == nil {
		return errNoDocumentStore
	}
	return l.loop.Load(ctx, docs, path)
}
