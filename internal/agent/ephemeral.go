package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"omnipong/internal/domain"
)

// Executor runs a single task and returns the result payload.
type Executor func(ctx context.Context, task domain.Task) (any, error)

// Ephemeral is a single-task worker. It is never selected by dispatch; its
// owner registers it, calls PerformTask once and the worker removes itself
// from the registry when done.
type Ephemeral struct {
	*Base
	task domain.Task
	exec Executor
}

// NewEphemeral binds task to a new worker. An empty id gets a generated one
// and a nil exec falls back to DefaultExecutor.
func NewEphemeral(id string, task domain.Task, exec Executor, logger hclog.Logger) *Ephemeral {
	if id == "" {
		id = "ephemeral-" + uuid.NewString()
	}
	if exec == nil {
		exec = DefaultExecutor
	}
	return &Ephemeral{
		Base: NewBase(id, nil, logger),
		task: task.Clone(),
		exec: exec,
	}
}

func (e *Ephemeral) CanHandle(domain.Task) bool {
	return false
}

func (e *Ephemeral) Task() domain.Task {
	return e.task.Clone()
}

// PerformTask executes the bound task, reports the outcome and deregisters
// the worker, panics included. The returned error mirrors the reported one.
func (e *Ephemeral) PerformTask(ctx context.Context) (err error) {
	defer e.selfDestruct()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ephemeral worker panic: %v", r)
			e.Logger().Error("task panicked", "task", e.task.Type(), "panic", r)
			e.Report(domain.ErrorReport(e.ID(), err))
		}
	}()

	e.Logger().Debug("performing task", "task", e.task.Summary())
	if err := ctx.Err(); err != nil {
		e.Report(domain.ErrorReport(e.ID(), err))
		return err
	}
	result, err := e.exec(ctx, e.task)
	if err != nil {
		e.Logger().Warn("task failed", "task", e.task.Type(), "error", err)
		e.Report(domain.ErrorReport(e.ID(), err))
		return err
	}
	e.Report(domain.ResultReport(e.ID(), map[string]any{domain.FieldResult: result}))
	return nil
}

func (e *Ephemeral) selfDestruct() {
	core := e.Core()
	if core == nil {
		return
	}
	core.RemoveAgent(e.ID())
	e.Logger().Debug("removed from registry")
}

// DefaultExecutor handles the data task types and subtask descriptions.
func DefaultExecutor(_ context.Context, task domain.Task) (any, error) {
	switch task.Type() {
	case domain.TaskTypeCollectData:
		return collectReading(task), nil
	case domain.TaskTypePreprocessData:
		return preprocess(task)
	case domain.TaskTypeAggregateData:
		return aggregate(task)
	case domain.TaskTypeSolveProblem:
		desc := task.String("description")
		if desc == "" {
			desc = task.String("problem")
		}
		if desc == "" {
			return nil, fmt.Errorf("solve_problem task has no description")
		}
		return map[string]any{"description": desc, "status": "done"}, nil
	default:
		return nil, fmt.Errorf("unknown task type %q", task.Type())
	}
}
