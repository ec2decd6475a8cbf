package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"omnipong/internal/domain"
)

// parseTaskInput accepts either a JSON object or the shorthand
// "collect_data sensor_id=s1 priority=2".
func parseTaskInput(input string) (domain.Task, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("empty input")
	}
	if strings.HasPrefix(input, "{") {
		var task domain.Task
		if err := json.Unmarshal([]byte(input), &task); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		if task.Type() == "" {
			return nil, errors.New("task has no type")
		}
		return task, nil
	}

	fields := strings.Fields(input)
	if strings.Contains(fields[0], "=") {
		return nil, errors.New("first word must be the task type")
	}
	task := domain.NewTask(fields[0], nil)
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", f)
		}
		task[key] = parseScalar(value)
	}
	return task, nil
}

func parseScalar(v string) any {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

func renderAgentsTable(table *tview.Table, agents []agentView) {
	table.Clear()
	headers := []string{"Agent", "Handled", "State"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, a := range agents {
		row := i + 1
		handled := "-"
		if v, ok := a.State["tasks_handled"]; ok {
			handled = formatValue(v)
		}
		table.SetCell(row, 0, tview.NewTableCell(a.ID))
		table.SetCell(row, 1, tview.NewTableCell(handled))
		table.SetCell(row, 2, tview.NewTableCell(trimLine(summarize(a.State, "tasks_handled"), 60)))
	}
}

func renderQueue(p pendingView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]queued[-] %d  [yellow]scheduled[-] %d\n", len(p.Queued), p.Scheduled)
	for i, t := range p.Queued {
		fmt.Fprintf(&b, "%3d  %s\n", i+1, trimLine(t.Summary(), 100))
	}
	return b.String()
}

func renderKnowledge(kb map[string]any) string {
	if len(kb) == 0 {
		return "(empty)"
	}
	keys := sortedKeys(kb)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "[green]%s[-]: %s\n", k, trimLine(formatValue(kb[k]), 120))
	}
	return b.String()
}

func renderDeadLetters(items []deadLetterView) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i := len(items) - 1; i >= 0; i-- {
		d := items[i]
		fmt.Fprintf(&b, "%s [red]%s[-] %s\n", d.Rejected.Local().Format("15:04:05"), d.Reason, trimLine(d.Task.Summary(), 80))
	}
	return b.String()
}

func renderReports(items []reportView) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, r := range items {
		outcome := "[green]ok[-]"
		if r.Failed {
			outcome = "[red]" + tview.Escape(trimLine(r.Report.Err(), 60)) + "[-]"
		}
		fmt.Fprintf(&b, "%s %-20s %s %s\n",
			r.CreatedAt.Local().Format("15:04:05"), r.AgentID, outcome, strings.Join(sortedKeys(r.Report), ","))
	}
	return b.String()
}

func summarize(m map[string]any, skip ...string) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		if containsString(skip, k) {
			continue
		}
		parts = append(parts, k+"="+formatValue(m[k]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return "null"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
