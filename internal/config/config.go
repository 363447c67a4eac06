package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yooozz3/target-assign-rl/internal/env"
	"github.com/yooozz3/target-assign-rl/internal/iql"
	"github.com/yooozz3/target-assign-rl/internal/policy"
	"github.com/yooozz3/target-assign-rl/internal/remote"
	"github.com/yooozz3/target-assign-rl/internal/train"
)

// Config is the full file layout shared by the commands.
type Config struct {
	Planner  PlannerConfig  `yaml:"planner"`
	Agent    AgentConfig    `yaml:"agent"`
	Training TrainingConfig `yaml:"training"`
	Remote   RemoteConfig   `yaml:"remote"`
}

// PlannerConfig sizes the allocation problem.
type PlannerConfig struct {
	NumThreats int  `yaml:"num_threats"`
	NumDrones  *int `yaml:"num_drones"` // nil = 20, 0 = no units
}

// AgentConfig holds the learning agent settings.
type AgentConfig struct {
	Hidden          []int    `yaml:"hidden"`
	LearningRate    float64  `yaml:"learning_rate"`
	Gamma           *float64 `yaml:"gamma"`            // nil = 0.99
	EpsilonStart    *float64 `yaml:"epsilon_start"`    // nil = 1.0
	EpsilonEnd      *float64 `yaml:"epsilon_end"`      // nil = 0.01
	EpsilonDecay    float64  `yaml:"epsilon_decay"`
	RedundancyLimit *int     `yaml:"redundancy_limit"` // nil = 3, 0 = disabled
	Seed            uint64   `yaml:"seed"`
}

// TrainingConfig holds the loop, environment and persistence settings.
type TrainingConfig struct {
	Episodes        int     `yaml:"episodes"`
	BatchSize       int     `yaml:"batch_size"`
	BufferCapacity  int     `yaml:"buffer_capacity"`
	Warmup          int     `yaml:"warmup"`
	TargetSyncEvery int     `yaml:"target_sync_every"`
	CheckpointEvery *int    `yaml:"checkpoint_every"` // nil = 100, 0 = disabled
	CheckpointDir   string  `yaml:"checkpoint_dir"`
	DBPath          string  `yaml:"db_path"`
	ActiveProb      float64 `yaml:"active_prob"`
	MaxLevel        int     `yaml:"max_level"`
}

// RemoteConfig points at an external policy service.
type RemoteConfig struct {
	Addr    string `yaml:"addr"`
	Listen  string `yaml:"listen"`
	Timeout string `yaml:"timeout"`
}

// Load reads path when non-empty, then applies defaults and TA_* environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyDefaults(cfg)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Planner.NumThreats == 0 {
		cfg.Planner.NumThreats = 20
	}
	if cfg.Planner.NumDrones == nil {
		cfg.Planner.NumDrones = ptr(20)
	}

	agent := iql.DefaultConfig(cfg.Planner.NumThreats)
	if cfg.Agent.Hidden == nil {
		cfg.Agent.Hidden = agent.Hidden
	}
	if cfg.Agent.LearningRate == 0 {
		cfg.Agent.LearningRate = agent.LearningRate
	}
	if cfg.Agent.Gamma == nil {
		cfg.Agent.Gamma = ptr(agent.Gamma)
	}
	if cfg.Agent.EpsilonStart == nil {
		cfg.Agent.EpsilonStart = ptr(agent.EpsilonStart)
	}
	if cfg.Agent.EpsilonEnd == nil {
		cfg.Agent.EpsilonEnd = ptr(agent.EpsilonEnd)
	}
	if cfg.Agent.EpsilonDecay == 0 {
		cfg.Agent.EpsilonDecay = agent.EpsilonDecay
	}
	if cfg.Agent.RedundancyLimit == nil {
		cfg.Agent.RedundancyLimit = ptr(agent.RedundancyLimit)
	}

	loop := train.DefaultConfig()
	if cfg.Training.Episodes == 0 {
		cfg.Training.Episodes = loop.Episodes
	}
	if cfg.Training.BatchSize == 0 {
		cfg.Training.BatchSize = loop.BatchSize
	}
	if cfg.Training.BufferCapacity == 0 {
		cfg.Training.BufferCapacity = loop.BufferCapacity
	}
	if cfg.Training.TargetSyncEvery == 0 {
		cfg.Training.TargetSyncEvery = loop.TargetSyncEvery
	}
	if cfg.Training.CheckpointEvery == nil {
		cfg.Training.CheckpointEvery = ptr(loop.CheckpointEvery)
	}
	if cfg.Training.CheckpointDir == "" {
		cfg.Training.CheckpointDir = loop.CheckpointDir
	}
	if cfg.Training.DBPath == "" {
		cfg.Training.DBPath = "target_assign.db"
	}

	episodes := env.DefaultConfig()
	if cfg.Training.ActiveProb == 0 {
		cfg.Training.ActiveProb = episodes.ActiveProb
	}
	if cfg.Training.MaxLevel == 0 {
		cfg.Training.MaxLevel = episodes.MaxLevel
	}

	if cfg.Remote.Addr == "" {
		cfg.Remote.Addr = "localhost:50061"
	}
	if cfg.Remote.Listen == "" {
		cfg.Remote.Listen = ":50061"
	}
	if cfg.Remote.Timeout == "" {
		cfg.Remote.Timeout = remote.DefaultTimeout.String()
	}
}

// applyEnv lets TA_* variables override file values.
func applyEnv(cfg *Config) error {
	cfg.Training.DBPath = envOr("TA_DB", cfg.Training.DBPath)
	cfg.Training.CheckpointDir = envOr("TA_CHECKPOINT_DIR", cfg.Training.CheckpointDir)
	cfg.Remote.Addr = envOr("TA_REMOTE_ADDR", cfg.Remote.Addr)
	cfg.Remote.Listen = envOr("TA_LISTEN", cfg.Remote.Listen)

	ints := []struct {
		key string
		dst *int
	}{
		{"TA_NUM_THREATS", &cfg.Planner.NumThreats},
		{"TA_NUM_DRONES", cfg.Planner.NumDrones},
		{"TA_EPISODES", &cfg.Training.Episodes},
	}
	for _, v := range ints {
		raw := envOr(v.key, "")
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", v.key, err)
		}
		*v.dst = n
	}
	return nil
}

// Validate checks dimensions, ranges and durations.
func (c *Config) Validate() error {
	if c.Planner.NumThreats <= 0 {
		return fmt.Errorf("planner.num_threats must be positive, got %d", c.Planner.NumThreats)
	}
	if c.Planner.NumDrones == nil || *c.Planner.NumDrones < 0 {
		return fmt.Errorf("planner.num_drones must be >= 0, got %v", deref(c.Planner.NumDrones))
	}
	if err := c.IQL().Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if err := c.Env().Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	loop := c.Train()
	if loop.Warmup == 0 {
		loop.Warmup = loop.BatchSize
	}
	if err := loop.Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if _, err := time.ParseDuration(c.Remote.Timeout); err != nil {
		return fmt.Errorf("remote.timeout: %w", err)
	}
	return nil
}

// IQL returns the agent configuration.
func (c *Config) IQL() iql.Config {
	cfg := iql.DefaultConfig(c.Planner.NumThreats)
	cfg.Hidden = c.Agent.Hidden
	cfg.LearningRate = c.Agent.LearningRate
	if c.Agent.Gamma != nil {
		cfg.Gamma = *c.Agent.Gamma
	}
	if c.Agent.EpsilonStart != nil {
		cfg.EpsilonStart = *c.Agent.EpsilonStart
	}
	if c.Agent.EpsilonEnd != nil {
		cfg.EpsilonEnd = *c.Agent.EpsilonEnd
	}
	cfg.EpsilonDecay = c.Agent.EpsilonDecay
	if c.Agent.RedundancyLimit != nil {
		cfg.RedundancyLimit = *c.Agent.RedundancyLimit
	}
	cfg.Seed = c.Agent.Seed
	return cfg
}

// Env returns the episode generator configuration.
func (c *Config) Env() env.Config {
	return env.Config{
		NumThreats: c.Planner.NumThreats,
		NumDrones:  deref(c.Planner.NumDrones),
		ActiveProb: c.Training.ActiveProb,
		MaxLevel:   c.Training.MaxLevel,
		Seed:       c.Agent.Seed,
	}
}

// Train returns the training loop configuration.
func (c *Config) Train() train.Config {
	return train.Config{
		Episodes:        c.Training.Episodes,
		BatchSize:       c.Training.BatchSize,
		BufferCapacity:  c.Training.BufferCapacity,
		Warmup:          c.Training.Warmup,
		TargetSyncEvery: c.Training.TargetSyncEvery,
		CheckpointEvery: deref(c.Training.CheckpointEvery),
		CheckpointDir:   c.Training.CheckpointDir,
		Seed:            c.Agent.Seed,
	}
}

// RemoteTimeout returns the parsed per-call timeout.
func (c *Config) RemoteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Remote.Timeout)
	if err != nil {
		return remote.DefaultTimeout
	}
	return d
}

// PolicyOptions returns registry options for the configured problem.
func (c *Config) PolicyOptions() policy.Options {
	opts := policy.Options{
		NumThreats:    c.Planner.NumThreats,
		NumDrones:     deref(c.Planner.NumDrones),
		Seed:          c.Agent.Seed,
		Hidden:        c.Agent.Hidden,
		RemoteAddr:    c.Remote.Addr,
		RemoteTimeout: c.RemoteTimeout(),
	}
	if c.Agent.RedundancyLimit != nil {
		opts.RedundancyLimit = *c.Agent.RedundancyLimit
	}
	return opts
}

func ptr[T any](v T) *T { return &v }

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
