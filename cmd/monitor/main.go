package main

import (
	"bytes"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type embeddedOrchestrator struct {
	cmd *exec.Cmd
}

func main() {
	addr := flag.String("addr", "http://localhost:8091", "orchestrator base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	embedded := flag.Bool("embedded", false, "start an orchestrator for the lifetime of the monitor")
	orchestratorBinary := flag.String("orchestrator-bin", "", "path to orchestrator binary (optional in embedded mode)")
	dbPath := flag.String("db", "data/embedded.db", "sqlite db path for embedded orchestrator")
	flag.Parse()

	c := newClient(*addr)

	if *embedded {
		proc, err := startEmbeddedOrchestrator(*addr, *orchestratorBinary, *dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded orchestrator: %v\n", err)
			os.Exit(1)
		}
		defer proc.Stop()
	}

	if err := c.waitHealth(30 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	agentsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	agentsTable.SetTitle("Agents (F5 refresh, F6 dispatch, F7 persist, F10 quit)").SetBorder(true)

	queueView := newTextView("Queue")
	knowledgeView := newTextView("Knowledge Base")
	deadView := newTextView("Dead Letters")
	reportsView := newTextView("Reports")

	taskInput := tview.NewInputField().
		SetLabel("Task -> Orchestrator: ")
	taskInput.SetBorder(true).SetTitle(`Enter = enqueue ("collect_data sensor_id=s1" or JSON)`)

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | embedded=%t | shortcuts: F10 quit, F5 refresh, F6 dispatch, F7 persist, Ctrl+L focus input",
		c.baseURL,
		*embedded,
	))

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(agentsTable, 0, 1, false).
		AddItem(queueView, 0, 1, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(knowledgeView, 0, 2, false).
		AddItem(reportsView, 0, 2, false).
		AddItem(deadView, 8, 0, false)
	mainLayout := tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(taskInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refresh := func() {
		agents, agentsErr := c.listAgents()
		pending, pendingErr := c.pending()
		kb, kbErr := c.knowledge()
		dead, deadErr := c.deadLetters()
		reports, reportsErr := c.reports(30)

		app.QueueUpdateDraw(func() {
			if agentsErr != nil {
				agentsTable.Clear()
				agentsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", agentsErr)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			} else {
				renderAgentsTable(agentsTable, agents)
			}
			setOrError(queueView, pendingErr, func() string { return renderQueue(pending) })
			setOrError(knowledgeView, kbErr, func() string { return renderKnowledge(kb) })
			setOrError(deadView, deadErr, func() string { return renderDeadLetters(dead) })
			setOrError(reportsView, reportsErr, func() string { return renderReports(reports) })
		})
	}

	submitTask := func(input string) {
		task, err := parseTaskInput(input)
		if err != nil {
			setStatusUI("Invalid task: " + err.Error())
			return
		}
		taskInput.SetText("")
		setStatusUI("Enqueueing " + task.Type() + "...")
		go func() {
			if err := c.enqueue(task); err != nil {
				setStatusAsync("Enqueue failed: " + err.Error())
				return
			}
			refresh()
			setStatusAsync("Enqueued: " + task.Summary())
		}()
	}

	dispatch := func() {
		setStatusUI("Dispatching...")
		go func() {
			res, err := c.dispatch(true)
			if err != nil {
				setStatusAsync("Dispatch failed: " + err.Error())
				return
			}
			refresh()
			setStatusAsync(fmt.Sprintf("Dispatched %d task(s), flushed %d from scheduler", res.Dispatched, res.Flushed))
		}()
	}

	persist := func() {
		go func() {
			if err := c.persist(); err != nil {
				setStatusAsync("Persist failed: " + err.Error())
				return
			}
			setStatusAsync("Knowledge base persisted")
		}()
	}

	taskInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitTask(taskInput.GetText())
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go refresh()
			setStatusUI("Refreshing...")
			return nil
		case tcell.KeyF6:
			dispatch()
			return nil
		case tcell.KeyF7:
			persist()
			return nil
		case tcell.KeyCtrlL:
			app.SetFocus(taskInput)
			setStatusUI("Focus -> input")
			return nil
		case tcell.KeyEscape, tcell.KeyTAB:
			if app.GetFocus() == taskInput {
				app.SetFocus(agentsTable)
				setStatusUI("Focus -> agents")
			} else {
				app.SetFocus(taskInput)
				setStatusUI("Focus -> input")
			}
			return nil
		}
		if event.Key() == tcell.KeyRune && app.GetFocus() != taskInput {
			app.SetFocus(taskInput)
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		refresh()
		for range ticker.C {
			refresh()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(taskInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func newTextView(title string) *tview.TextView {
	v := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	v.SetTitle(title).SetBorder(true)
	return v
}

func setOrError(v *tview.TextView, err error, render func() string) {
	if err != nil {
		v.SetText(fmt.Sprintf("error: %v", err))
		return
	}
	v.SetText(render())
}

func startEmbeddedOrchestrator(addr string, orchestratorBinary string, dbPath string) (*embeddedOrchestrator, error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("addr must include explicit port, got %q", addr)
	}
	args := []string{"--addr", ":" + port, "--db", dbPath}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(orchestratorBinary) != "" {
		cmd = exec.Command(orchestratorBinary, args...)
	} else {
		if self, err := os.Executable(); err == nil {
			sibling := filepath.Join(filepath.Dir(self), binaryName("orchestrator"))
			if fileExists(sibling) {
				cmd = exec.Command(sibling, args...)
			}
		}
		if cmd == nil {
			cmd = exec.Command("go", append([]string{"run", "./cmd/orchestrator"}, args...)...)
			cwd, _ := os.Getwd()
			cmd.Dir = cwd
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start orchestrator process: %w", err)
	}
	return &embeddedOrchestrator{cmd: cmd}, nil
}

func (e *embeddedOrchestrator) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func binaryName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
