package domain

import (
	"fmt"
	"sort"
	"strings"
)

const (
	TaskTypeCollectData    = "collect_data"
	TaskTypePreprocessData = "preprocess_data"
	TaskTypeAggregateData  = "aggregate_data"
	TaskTypeSolveProblem   = "solve_problem"
	TaskTypeExplore        = "explore"
)

const (
	FieldType     = "type"
	FieldAgent    = "agent"
	FieldResult   = "result"
	FieldError    = "error"
	FieldPriority = "priority"
)

// Task is a work item: a "type" discriminator plus type-specific fields.
type Task map[string]any

func NewTask(taskType string, fields map[string]any) Task {
	t := make(Task, len(fields)+1)
	for k, v := range fields {
		t[k] = v
	}
	t[FieldType] = taskType
	return t
}

func (t Task) Type() string {
	v, _ := t[FieldType].(string)
	return v
}

func (t Task) String(key string) string {
	switch v := t[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Clone is shallow: nested values are shared with the original.
func (t Task) Clone() Task {
	if t == nil {
		return Task{}
	}
	out := make(Task, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Summary renders the task deterministically for log lines.
func (t Task) Summary() string {
	keys := make([]string, 0, len(t))
	for k := range t {
		if k == FieldType {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(t.Type())
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, t[k])
	}
	return b.String()
}

// Report is produced by an agent after executing a task and merged into the
// knowledge base field by field.
type Report map[string]any

func ResultReport(agentID string, fields map[string]any) Report {
	r := make(Report, len(fields)+1)
	for k, v := range fields {
		r[k] = v
	}
	r[FieldAgent] = agentID
	return r
}

func ErrorReport(agentID string, err error) Report {
	return Report{
		FieldAgent: agentID,
		FieldError: err.Error(),
	}
}

func (r Report) Err() string {
	v, _ := r[FieldError].(string)
	return v
}
