package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	Learning     LearningConfig     `toml:"learning"`
	Storage      StorageConfig      `toml:"storage"`
	Log          LogConfig          `toml:"log"`
	HTTP         HTTPConfig         `toml:"http"`
	Transport    TransportConfig    `toml:"transport"`
	Agents       []AgentSpec        `toml:"agents"`
	Raw          map[string]any     `toml:"-"`
	Path         string             `toml:"-"`
}

type OrchestratorConfig struct {
	DispatchIntervalMS int    `toml:"dispatch_interval_ms"`
	KnowledgeBasePath  string `toml:"knowledge_base_path"`
	DeadLetterLimit    int    `toml:"dead_letter_limit"`
	RestoreOnStart     bool   `toml:"restore_on_start"`
	PersistOnShutdown  bool   `toml:"persist_on_shutdown"`
}

type SchedulerConfig struct {
	ForwardIntervalMS int `toml:"forward_interval_ms"`
	DefaultPriority   int `toml:"default_priority"`
}

type LearningConfig struct {
	MemorySize   int     `toml:"memory_size"`
	BatchSize    int     `toml:"batch_size"`
	Gamma        float64 `toml:"gamma"`
	Epsilon      float64 `toml:"epsilon"`
	EpsilonMin   float64 `toml:"epsilon_min"`
	EpsilonDecay float64 `toml:"epsilon_decay"`
	LearningRate float64 `toml:"learning_rate"`
	States       int     `toml:"states"`
}

type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `toml:"backend"`
	Root    string `toml:"root"`
	DBPath  string `toml:"db_path"`
}

type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

type TransportConfig struct {
	TasksTopic   string `toml:"tasks_topic"`
	ReportsTopic string `toml:"reports_topic"`
	Buffer       int    `toml:"buffer"`
}

type AgentSpec struct {
	Kind string `toml:"kind"`
	ID   string `toml:"id"`
}

func Default() Config {
	return Config{}.WithDefaults()
}

func (c Config) WithDefaults() Config {
	if c.Orchestrator.DispatchIntervalMS <= 0 {
		c.Orchestrator.DispatchIntervalMS = 5000
	}
	if c.Orchestrator.KnowledgeBasePath == "" {
		c.Orchestrator.KnowledgeBasePath = "knowledge_base.json"
	}
	if c.Orchestrator.DeadLetterLimit <= 0 {
		c.Orchestrator.DeadLetterLimit = 256
	}
	if c.Scheduler.ForwardIntervalMS <= 0 {
		c.Scheduler.ForwardIntervalMS = 5000
	}
	if c.Scheduler.DefaultPriority <= 0 {
		c.Scheduler.DefaultPriority = 1
	}
	if c.Learning.MemorySize <= 0 {
		c.Learning.MemorySize = 2000
	}
	if c.Learning.BatchSize <= 0 {
		c.Learning.BatchSize = 32
	}
	if c.Learning.Gamma <= 0 || c.Learning.Gamma >= 1 {
		c.Learning.Gamma = 0.95
	}
	if c.Learning.Epsilon <= 0 || c.Learning.Epsilon > 1 {
		c.Learning.Epsilon = 1.0
	}
	if c.Learning.EpsilonMin <= 0 || c.Learning.EpsilonMin > 1 {
		c.Learning.EpsilonMin = 0.01
	}
	if c.Learning.EpsilonDecay <= 0 || c.Learning.EpsilonDecay > 1 {
		c.Learning.EpsilonDecay = 0.995
	}
	if c.Learning.LearningRate <= 0 {
		c.Learning.LearningRate = 0.1
	}
	if c.Learning.States <= 0 {
		c.Learning.States = 100
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "data"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "data/omnipong.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8091"
	}
	if c.Transport.TasksTopic == "" {
		c.Transport.TasksTopic = "tasks"
	}
	if c.Transport.ReportsTopic == "" {
		c.Transport.ReportsTopic = "reports"
	}
	if c.Transport.Buffer <= 0 {
		c.Transport.Buffer = 64
	}
	if len(c.Agents) == 0 {
		c.Agents = []AgentSpec{
			{Kind: "EdgeNode", ID: "EdgeNodeAgent_1"},
			{Kind: "FogNode", ID: "FogNodeAgent_1"},
			{Kind: "ProblemSolver", ID: "ProblemSolver_1"},
		}
	}
	return c
}

func (c Config) DispatchInterval() time.Duration {
	return time.Duration(c.Orchestrator.DispatchIntervalMS) * time.Millisecond
}

func (c Config) ForwardInterval() time.Duration {
	return time.Duration(c.Scheduler.ForwardIntervalMS) * time.Millisecond
}

// Load reads a TOML file. An empty path with no file at the default location
// yields the defaults.
func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
		if _, err := os.Stat(resolved); os.IsNotExist(err) {
			return Default(), nil
		}
	}
	resolved, err := expandHome(resolved)
	if err != nil {
		return Config{}, err
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}
	cfg, err := Parse(string(bytes))
	if err != nil {
		return Config{}, err
	}
	cfg.Path = resolved
	return cfg, nil
}

func Parse(data string) (Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(data, &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	decoded := cfg.Learning
	cfg = cfg.WithDefaults()
	keepExplicitZeros(md, decoded, &cfg.Learning)
	cfg.Raw = raw
	return cfg, nil
}

// keepExplicitZeros restores learning parameters that the file sets to 0,
// which WithDefaults cannot tell apart from unset fields.
func keepExplicitZeros(md toml.MetaData, decoded LearningConfig, l *LearningConfig) {
	fields := []struct {
		key string
		src float64
		dst *float64
	}{
		{"gamma", decoded.Gamma, &l.Gamma},
		{"epsilon", decoded.Epsilon, &l.Epsilon},
		{"epsilon_min", decoded.EpsilonMin, &l.EpsilonMin},
	}
	for _, f := range fields {
		if f.src == 0 && md.IsDefined("learning", f.key) {
			*f.dst = 0
		}
	}
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(p, "~")
	trimmed = strings.TrimPrefix(trimmed, "\\")
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Join(home, trimmed), nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".omnipong/config.toml"
	}
	return filepath.Join(home, ".omnipong", "config.toml")
}
