package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omnipong/internal/domain"
	"omnipong/internal/relay"
)

const maxTaskBody = 1 << 20

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.loggingMiddleware)

	r.Get("/healthz", a.handleHealth)
	r.Get("/config", a.handleConfig)
	r.Get("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}).ServeHTTP)

	r.Get("/agents", a.handleAgents)
	r.Delete("/agents/{id}", a.handleRemoveAgent)

	r.Get("/tasks/pending", a.handlePendingTasks)
	r.Post("/tasks", a.handleEnqueueTask)
	r.Post("/dispatch", a.handleDispatch)

	r.Get("/knowledge", a.handleKnowledge)
	r.Post("/knowledge/persist", a.handlePersist)
	r.Post("/knowledge/restore", a.handleRestore)

	r.Get("/dead-letters", a.handleDeadLetters)
	r.Get("/reports", a.handleReports)
	return r
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path": a.cfg.Path,
		"raw":  a.cfg.Raw,
	})
}

type agentView struct {
	ID    string         `json:"id"`
	State map[string]any `json:"state,omitempty"`
}

func (a *app) handleAgents(w http.ResponseWriter, _ *http.Request) {
	ids := a.svc.AgentIDs()
	out := make([]agentView, 0, len(ids))
	for _, id := range ids {
		view := agentView{ID: id}
		if ag, ok := a.svc.Agent(id); ok {
			if s, ok := ag.(stateful); ok {
				view.State = s.State()
			}
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *app) handleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := a.svc.Agent(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("agent %s not found", id))
		return
	}
	a.svc.RemoveAgent(id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handlePendingTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queued":    a.svc.PendingTasks(),
		"scheduled": a.sched.Len(),
	})
}

// handleEnqueueTask accepts a task as JSON. A priority field, or
// ?schedule=true, sends it through the scheduler instead of straight onto
// the queue.
func (a *app) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTaskBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	task, priority, scheduled, err := relay.DecodeTask(body, a.cfg.Scheduler.DefaultPriority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !scheduled && queryBool(r, "schedule") {
		priority, scheduled = a.cfg.Scheduler.DefaultPriority, true
	}
	if scheduled {
		a.sched.AddTask(task, priority)
		if queryBool(r, "flush") {
			a.sched.Drain(a.svc)
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"task": task, "scheduled": true, "priority": priority})
		return
	}
	a.svc.EnqueueTask(task)
	writeJSON(w, http.StatusAccepted, map[string]any{"task": task, "scheduled": false})
}

func (a *app) handleDispatch(w http.ResponseWriter, r *http.Request) {
	flushed := 0
	if queryBool(r, "flush") {
		flushed = a.sched.Drain(a.svc)
	}
	n := a.svc.DispatchAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"dispatched": n, "flushed": flushed})
}

func (a *app) handleKnowledge(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.KnowledgeBase())
}

func (a *app) handlePersist(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if err := a.svc.PersistKnowledgeBase(r.Context(), path); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"persisted": true, "path": firstNonEmpty(path, a.cfg.Orchestrator.KnowledgeBasePath)})
}

func (a *app) handleRestore(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if err := a.svc.RestoreKnowledgeBase(r.Context(), path); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, domain.ErrDocumentNotFound) {
			code = http.StatusNotFound
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restored": true, "keys": len(a.svc.KnowledgeBase())})
}

func (a *app) handleDeadLetters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.DeadLetters())
}

func (a *app) handleReports(w http.ResponseWriter, r *http.Request) {
	entries, err := a.store.ListReports(r.Context(), r.URL.Query().Get("agent"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func (a *app) loggingMiddleware(next http.Handler) http.Handler {
	logger := a.logger.Named("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
