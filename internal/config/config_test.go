package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(`
[orchestrator]
dispatch_interval_ms = 250

[storage]
backend = "sqlite"
`)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.DispatchInterval())
	assert.Equal(t, 5*time.Second, cfg.ForwardInterval())
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 2000, cfg.Learning.MemorySize)
	assert.InDelta(t, 0.95, cfg.Learning.Gamma, 1e-9)
	assert.Equal(t, "tasks", cfg.Transport.TasksTopic)
	assert.Len(t, cfg.Agents, 3)
	assert.Contains(t, cfg.Raw, "orchestrator")
}

func TestParseAgentRoster(t *testing.T) {
	cfg, err := Parse(`
[[agents]]
kind = "EdgeNode"
id = "edge-a"

[[agents]]
kind = "ProblemSolver"
id = "solver"
`)
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, AgentSpec{Kind: "EdgeNode", ID: "edge-a"}, cfg.Agents[0])
	assert.Equal(t, "solver", cfg.Agents[1].ID)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[http]\naddr = \":9999\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, path, cfg.Path)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestParseRejectsInvalidTOML(t *testing.T) {
	_, err := Parse("[orchestrator\n")
	require.Error(t, err)
}

func TestParseKeepsExplicitZeroLearningParameters(t *testing.T) {
	cfg, err := Parse(`
[learning]
gamma = 0.0
epsilon = 0.0
epsilon_min = 0.0
`)
	require.NoError(t, err)
	assert.Zero(t, cfg.Learning.Gamma)
	assert.Zero(t, cfg.Learning.Epsilon)
	assert.Zero(t, cfg.Learning.EpsilonMin)
	assert.InDelta(t, 0.995, cfg.Learning.EpsilonDecay, 1e-9)
}

func TestParseReplacesOutOfRangeLearningParameters(t *testing.T) {
	cfg, err := Parse(`
[learning]
gamma = 1.5
epsilon = -0.2
epsilon_min = 2.0
`)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, cfg.Learning.Gamma, 1e-9)
	assert.InDelta(t, 1.0, cfg.Learning.Epsilon, 1e-9)
	assert.InDelta(t, 0.01, cfg.Learning.EpsilonMin, 1e-9)

	unset, err := Parse("")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, unset.Learning.EpsilonMin, 1e-9)
}
