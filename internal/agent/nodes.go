package agent

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"omnipong/internal/domain"
)

const stateTasksHandled = "tasks_handled"

// EdgeNode collects sensor readings and standardises raw values.
type EdgeNode struct {
	*Base
}

func NewEdgeNode(id string, docs DocumentStore, logger hclog.Logger) *EdgeNode {
	return &EdgeNode{Base: NewBase(id, docs, logger)}
}

func (n *EdgeNode) CanHandle(task domain.Task) bool {
	switch task.Type() {
	case domain.TaskTypeCollectData, domain.TaskTypePreprocessData:
		return true
	}
	return false
}

func (n *EdgeNode) ReceiveTask(_ context.Context, task domain.Task) {
	var (
		result any
		err    error
	)
	switch task.Type() {
	case domain.TaskTypeCollectData:
		r := collectReading(task)
		n.Logger().Info("collected reading", "sensor", r.SensorID, "value", r.Value)
		result = r
	case domain.TaskTypePreprocessData:
		result, err = preprocess(task)
	default:
		err = unsupportedTask(task)
	}
	if err != nil {
		n.Logger().Error("task failed", "task", task.Type(), "error", err)
		n.Report(domain.ErrorReport(n.ID(), err))
		return
	}
	countHandled(n.Base)
	n.Report(domain.ResultReport(n.ID(), map[string]any{domain.FieldResult: result}))
}

// FogNode aggregates vectors coming from several edge nodes.
type FogNode struct {
	*Base
}

func NewFogNode(id string, docs DocumentStore, logger hclog.Logger) *FogNode {
	return &FogNode{Base: NewBase(id, docs, logger)}
}

func (n *FogNode) CanHandle(task domain.Task) bool {
	return task.Type() == domain.TaskTypeAggregateData
}

func (n *FogNode) ReceiveTask(_ context.Context, task domain.Task) {
	if task.Type() != domain.TaskTypeAggregateData {
		n.Report(domain.ErrorReport(n.ID(), unsupportedTask(task)))
		return
	}
	out, err := aggregate(task)
	if err != nil {
		n.Logger().Error("aggregation failed", "error", err)
		n.Report(domain.ErrorReport(n.ID(), err))
		return
	}
	countHandled(n.Base)
	n.Report(domain.ResultReport(n.ID(), out))
}

func countHandled(b *Base) {
	var count int
	switch v, _ := b.GetState(stateTasksHandled); n := v.(type) {
	case int:
		count = n
	case int64:
		count = int(n)
	case float64:
		count = int(n)
	}
	b.UpdateState(stateTasksHandled, count+1)
}

func unsupportedTask(task domain.Task) error {
	return fmt.Errorf("unsupported task type %q", task.Type())
}
