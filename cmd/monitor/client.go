package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"omnipong/internal/domain"
)

type client struct {
	baseURL string
	http    *http.Client
}

type agentView struct {
	ID    string         `json:"id"`
	State map[string]any `json:"state"`
}

type pendingView struct {
	Queued    []domain.Task `json:"queued"`
	Scheduled int           `json:"scheduled"`
}

type deadLetterView struct {
	Task     domain.Task `json:"task"`
	Reason   string      `json:"reason"`
	Rejected time.Time   `json:"rejected_at"`
}

type reportView struct {
	ID        int64         `json:"id"`
	AgentID   string        `json:"agent_id"`
	Report    domain.Report `json:"report"`
	Failed    bool          `json:"failed"`
	CreatedAt time.Time     `json:"created_at"`
}

type dispatchResult struct {
	Dispatched int `json:"dispatched"`
	Flushed    int `json:"flushed"`
}

func newClient(addr string) *client {
	return &client{
		baseURL: strings.TrimRight(addr, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *client) listAgents() ([]agentView, error) {
	var out []agentView
	if err := c.getJSON("/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) pending() (pendingView, error) {
	var out pendingView
	err := c.getJSON("/tasks/pending", &out)
	return out, err
}

func (c *client) knowledge() (map[string]any, error) {
	out := map[string]any{}
	if err := c.getJSON("/knowledge", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) deadLetters() ([]deadLetterView, error) {
	var out []deadLetterView
	if err := c.getJSON("/dead-letters", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) reports(limit int) ([]reportView, error) {
	var out []reportView
	if err := c.getJSON(fmt.Sprintf("/reports?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) enqueue(task domain.Task) error {
	return c.postJSON("/tasks", task, nil)
}

func (c *client) dispatch(flush bool) (dispatchResult, error) {
	var out dispatchResult
	path := "/dispatch"
	if flush {
		path += "?flush=true"
	}
	err := c.postJSON(path, nil, &out)
	return out, err
}

func (c *client) persist() error {
	return c.postJSON("/knowledge/persist", nil, nil)
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postJSON(path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *client) waitHealth(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := c.http.Get(c.baseURL + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode < 300 {
				return nil
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}
