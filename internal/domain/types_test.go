package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskAccessors(t *testing.T) {
	task := NewTask(TaskTypeExplore, map[string]any{"topic": "ai", "depth": 2})
	assert.Equal(t, TaskTypeExplore, task.Type())
	assert.Equal(t, "ai", task.String("topic"))
	assert.Equal(t, "2", task.String("depth"))
	assert.Equal(t, "", task.String("missing"))
	assert.Equal(t, "explore depth=2 topic=ai", task.Summary())
}

func TestTaskTypeNotString(t *testing.T) {
	assert.Equal(t, "", Task{"type": 7}.Type())
	assert.Equal(t, "", Task{}.Type())
}

func TestTaskCloneIsIndependent(t *testing.T) {
	task := Task{"type": "explore", "topic": "ai"}
	clone := task.Clone()
	clone["topic"] = "ml"
	assert.Equal(t, "ai", task["topic"])
	assert.NotNil(t, Task(nil).Clone())
}

func TestReports(t *testing.T) {
	r := ResultReport("a1", map[string]any{"result": 3})
	assert.Equal(t, "a1", r[FieldAgent])
	assert.Equal(t, 3, r[FieldResult])
	assert.Empty(t, r.Err())

	e := ErrorReport("a2", errors.New("boom"))
	assert.Equal(t, "boom", e.Err())
	assert.Equal(t, "a2", e[FieldAgent])
}
