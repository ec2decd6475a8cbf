package agent

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"omnipong/internal/domain"
	"omnipong/internal/logging"
	"omnipong/internal/metrics"
)

const (
	KindEdgeNode      = "EdgeNode"
	KindFogNode       = "FogNode"
	KindProblemSolver = "ProblemSolver"
	KindEphemeral     = "Ephemeral"
)

var ErrUnknownKind = errors.New("unknown agent kind")

// Factory builds agents by kind name, as listed in the config roster.
type Factory struct {
	Docs    DocumentStore
	Solver  SolverConfig
	Metrics *metrics.Metrics
	Logger  hclog.Logger
}

// Create builds an agent of the given kind. An empty id gets a generated
// one. task is only used by the Ephemeral kind.
func (f Factory) Create(kind, id string, task domain.Task) (Agent, error) {
	if id == "" {
		id = kind + "_" + uuid.NewString()[:8]
	}
	logger := logging.OrNull(f.Logger)

	var a Agent
	switch kind {
	case KindEdgeNode:
		a = NewEdgeNode(id, f.Docs, logger)
	case KindFogNode:
		a = NewFogNode(id, f.Docs, logger)
	case KindProblemSolver:
		a = NewProblemSolver(id, f.Solver, f.Docs, f.Metrics, logger)
	case KindEphemeral:
		if task == nil {
			return nil, fmt.Errorf("ephemeral agent %s needs a task", id)
		}
		a = NewEphemeral(id, task, nil, logger)
	default:
		logger.Error("cannot create agent", "kind", kind, "id", id)
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	logger.Info("created agent", "kind", kind, "id", id)
	return a, nil
}
