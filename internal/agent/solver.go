package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"omnipong/internal/domain"
	"omnipong/internal/metrics"
)

const (
	defaultSubtasks = 4
	defaultWorkers  = 4
)

// Decomposition steps. The chosen action selects the first step and the plan
// continues through the list from there.
var solverSteps = []string{
	"Analyze root causes of",
	"Develop solutions for",
	"Implement solutions for",
	"Evaluate outcomes of",
	"Research prior work on",
	"Identify stakeholders affected by",
	"Prototype a fix for",
	"Measure the impact of",
	"Document findings about",
	"Plan the rollout for",
}

type Subtask struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type SolverConfig struct {
	Learner  LearnerConfig
	Subtasks int
	Workers  int
}

// ProblemSolver breaks a problem into subtasks using its decision loop and
// runs each subtask on its own ephemeral worker.
type ProblemSolver struct {
	*Base
	learner  *Learner
	subtasks int
	workers  int
	exec     Executor
}

func NewProblemSolver(id string, cfg SolverConfig, docs DocumentStore, m *metrics.Metrics, logger hclog.Logger) *ProblemSolver {
	if cfg.Learner.Loop.Actions <= 0 {
		cfg.Learner.Loop.Actions = len(solverSteps)
	}
	if cfg.Subtasks <= 0 {
		cfg.Subtasks = defaultSubtasks
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	base := NewBase(id, docs, logger)
	return &ProblemSolver{
		Base:     base,
		learner:  NewLearner(cfg.Learner, m, base.Logger()),
		subtasks: cfg.Subtasks,
		workers:  cfg.Workers,
		exec:     DefaultExecutor,
	}
}

func (p *ProblemSolver) Learner() *Learner {
	return p.learner
}

func (p *ProblemSolver) CanHandle(task domain.Task) bool {
	return task.Type() == domain.TaskTypeSolveProblem
}

func (p *ProblemSolver) ReceiveTask(ctx context.Context, task domain.Task) {
	problem := task.String("problem")
	if problem == "" {
		p.Report(domain.ErrorReport(p.ID(), errors.New("solve_problem task has no problem")))
		return
	}

	state, action := p.learner.Decide(problem)
	subtasks := p.decompose(problem, action)
	p.Logger().Info("decomposed problem", "problem", problem, "action", action, "subtasks", len(subtasks))

	result := map[string]any{
		"problem":  problem,
		"strategy": action,
		"subtasks": subtasks,
	}
	// Workers report their own outcomes; the plan is reported either way.
	if err := p.runSubtasks(ctx, subtasks); err != nil {
		p.Logger().Error("solving problem failed", "problem", problem, "error", err)
		p.learner.Learn(state, action, 0, state, false)
		report := domain.ResultReport(p.ID(), result)
		report[domain.FieldError] = err.Error()
		p.Report(report)
		return
	}

	p.learner.Learn(state, action, evaluate(subtasks), state, false)
	countHandled(p.Base)
	p.Report(domain.ResultReport(p.ID(), result))
}

func (p *ProblemSolver) decompose(problem string, action int) []Subtask {
	out := make([]Subtask, 0, p.subtasks)
	for i := 0; i < p.subtasks; i++ {
		step := solverSteps[(action+i)%len(solverSteps)]
		out = append(out, Subtask{ID: i + 1, Description: step + " " + problem})
	}
	return out
}

// runSubtasks registers one ephemeral worker per subtask through the core and
// waits for all of them.
func (p *ProblemSolver) runSubtasks(ctx context.Context, subtasks []Subtask) error {
	core := p.Core()
	if core == nil {
		return errors.New("problem solver is not bound to a core")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, sub := range subtasks {
		worker := NewEphemeral(
			fmt.Sprintf("%s-worker-%d-%s", p.ID(), sub.ID, uuid.NewString()[:8]),
			domain.NewTask(domain.TaskTypeSolveProblem, map[string]any{
				"id":          sub.ID,
				"description": sub.Description,
			}),
			p.exec,
			p.Logger(),
		)
		core.RegisterAgent(worker)
		g.Go(func() error {
			if err := worker.PerformTask(gctx); err != nil {
				return fmt.Errorf("subtask %d: %w", sub.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// evaluate rewards plans by how much detail their subtasks carry.
func evaluate(subtasks []Subtask) float64 {
	words := 0
	for _, s := range subtasks {
		words += len(strings.Fields(s.Description))
	}
	return float64(words)
}
