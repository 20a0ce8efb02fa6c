// Package config loads and validates the memory core configuration from the
// agents directory. Both the nested layout (memory: search: alpha:) and the
// legacy flat layout (search_alpha:) are accepted; nested keys win on
// conflict. Every numeric knob is clamped to a documented range, so a bad
// config file degrades the daemon instead of breaking it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the memory core configuration.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Pipeline  PipelineConfig  `yaml:"pipelineV2"`
	Session   SessionConfig   `yaml:"session"`
	Retention RetentionConfig `yaml:"retention"`

	// Warnings accumulated while clamping. Logged by the daemon at boot.
	Warnings []string `yaml:"-"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // local-http, remote-openai-compatible, gemini
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
}

// SearchConfig configures hybrid recall.
type SearchConfig struct {
	Alpha                 float64 `yaml:"alpha"`
	TopK                  int     `yaml:"top_k"`
	MinScore              float64 `yaml:"min_score"`
	RehearsalEnabled      bool    `yaml:"rehearsal_enabled"`
	RehearsalWeight       float64 `yaml:"rehearsal_weight"`
	RehearsalHalfLifeDays float64 `yaml:"rehearsal_half_life_days"`
}

// PipelineConfig is the pipelineV2 block: the autonomous extraction and
// maintenance machinery.
type PipelineConfig struct {
	Enabled         bool             `yaml:"enabled"`
	ShadowMode      bool             `yaml:"shadowMode"`
	MutationsFrozen bool             `yaml:"mutationsFrozen"`
	Autonomous      AutonomousConfig `yaml:"autonomous"`
	Extraction      ExtractionConfig `yaml:"extraction"`
	Worker          WorkerConfig     `yaml:"worker"`
	Graph           GraphConfig      `yaml:"graph"`
	Reranker        RerankerConfig   `yaml:"reranker"`
	Repair          RepairConfig     `yaml:"repair"`
	Guardrails      GuardrailsConfig `yaml:"guardrails"`
}

// AutonomousConfig gates autonomous maintenance.
type AutonomousConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Frozen                bool   `yaml:"frozen"`
	AllowUpdateDelete     bool   `yaml:"allowUpdateDelete"`
	MaintenanceIntervalMs int64  `yaml:"maintenanceIntervalMs"`
	MaintenanceMode       string `yaml:"maintenanceMode"` // observe, execute
}

// ExtractionConfig configures the extraction LLM.
type ExtractionConfig struct {
	Provider      string  `yaml:"provider"` // local-http, remote-openai-compatible, gemini
	Model         string  `yaml:"model"`
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	Timeout       string  `yaml:"timeout"`
	MinConfidence float64 `yaml:"minConfidence"`
}

// WorkerConfig configures the extraction worker loop.
type WorkerConfig struct {
	PollMs         int64 `yaml:"pollMs"`
	MaxRetries     int   `yaml:"maxRetries"`
	LeaseTimeoutMs int64 `yaml:"leaseTimeoutMs"`
}

// GraphConfig configures the recall graph boost.
type GraphConfig struct {
	Enabled        bool    `yaml:"enabled"`
	BoostWeight    float64 `yaml:"boostWeight"`
	BoostTimeoutMs int64   `yaml:"boostTimeoutMs"`
}

// RerankerConfig configures the optional reranker pass.
type RerankerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	TopN      int    `yaml:"topN"`
	TimeoutMs int64  `yaml:"timeoutMs"`
}

// RepairConfig sets repair action cooldowns and hourly budgets.
type RepairConfig struct {
	ReembedCooldownMs   int64 `yaml:"reembedCooldownMs"`
	ReembedHourlyBudget int   `yaml:"reembedHourlyBudget"`
	RequeueCooldownMs   int64 `yaml:"requeueCooldownMs"`
	RequeueHourlyBudget int   `yaml:"requeueHourlyBudget"`
}

// GuardrailsConfig bounds content sizes.
type GuardrailsConfig struct {
	MaxContentChars     int `yaml:"maxContentChars"`
	ChunkTargetChars    int `yaml:"chunkTargetChars"`
	RecallTruncateChars int `yaml:"recallTruncateChars"`
}

// SessionConfig configures continuity checkpointing.
type SessionConfig struct {
	CheckpointIntervalMs int64 `yaml:"checkpointIntervalMs"`
	PromptInterval       int   `yaml:"promptInterval"`
}

// RetentionConfig configures the soft-delete retention window.
type RetentionConfig struct {
	WindowDays int `yaml:"windowDays"`
}

// Provider kinds accepted for embedding and extraction.
var ValidProviders = []string{"local-http", "remote-openai-compatible", "gemini"}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:   "local-http",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			BaseURL:    "http://localhost:11434",
		},
		Search: SearchConfig{
			Alpha:                 0.7,
			TopK:                  20,
			MinScore:              0.3,
			RehearsalEnabled:      true,
			RehearsalWeight:       0.2,
			RehearsalHalfLifeDays: 14,
		},
		Pipeline: PipelineConfig{
			Enabled:         false,
			ShadowMode:      false,
			MutationsFrozen: false,
			Autonomous: AutonomousConfig{
				Enabled:               false,
				Frozen:                false,
				AllowUpdateDelete:     false,
				MaintenanceIntervalMs: 600_000,
				MaintenanceMode:       "observe",
			},
			Extraction: ExtractionConfig{
				Provider:      "local-http",
				Model:         "qwen3:4b",
				BaseURL:       "http://localhost:11434",
				Timeout:       "20s",
				MinConfidence: 0.6,
			},
			Worker: WorkerConfig{
				PollMs:         2_000,
				MaxRetries:     3,
				LeaseTimeoutMs: 60_000,
			},
			Graph: GraphConfig{
				Enabled:        false,
				BoostWeight:    0.15,
				BoostTimeoutMs: 250,
			},
			Reranker: RerankerConfig{
				Enabled:   false,
				TopN:      10,
				TimeoutMs: 1_500,
			},
			Repair: RepairConfig{
				ReembedCooldownMs:   300_000,
				ReembedHourlyBudget: 4,
				RequeueCooldownMs:   60_000,
				RequeueHourlyBudget: 30,
			},
			Guardrails: GuardrailsConfig{
				MaxContentChars:     8_192,
				ChunkTargetChars:    1_200,
				RecallTruncateChars: 700,
			},
		},
		Session: SessionConfig{
			CheckpointIntervalMs: 1_800_000,
			PromptInterval:       20,
		},
		Retention: RetentionConfig{
			WindowDays: 30,
		},
	}
}

// ResolveConfigPath finds the configuration file under the agents directory.
// First hit in agent.yaml, AGENT.yaml, config.yaml wins; empty string when
// none exists.
func ResolveConfigPath(agentsDir string) string {
	for _, name := range []string{"agent.yaml", "AGENT.yaml", "config.yaml"} {
		p := filepath.Join(agentsDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// fileRoot matches documents that nest the memory config under a top-level
// memory: key (the agent.yaml layout). Documents without it are treated as
// memory config at the root (the config.yaml layout).
type fileRoot struct {
	// Declared as a value, not *yaml.Node: yaml.v3 leaves a pointer field
	// as an empty allocated node instead of capturing the subtree.
	Memory yaml.Node `yaml:"memory"`
}

// flatAliases lists the legacy single-level keys. Pointers distinguish
// "absent" from "zero"; aliases apply before the nested pass so nested keys
// win on conflict.
type flatAliases struct {
	EmbeddingProvider     *string  `yaml:"embedding_provider"`
	EmbeddingModel        *string  `yaml:"embedding_model"`
	EmbeddingDimensions   *int     `yaml:"embedding_dimensions"`
	EmbeddingBaseURL      *string  `yaml:"embedding_base_url"`
	EmbeddingAPIKey       *string  `yaml:"embedding_api_key"`
	SearchAlpha           *float64 `yaml:"search_alpha"`
	SearchTopK            *int     `yaml:"search_top_k"`
	SearchMinScore        *float64 `yaml:"search_min_score"`
	RehearsalEnabled      *bool    `yaml:"rehearsal_enabled"`
	RehearsalWeight       *float64 `yaml:"rehearsal_weight"`
	RehearsalHalfLifeDays *float64 `yaml:"rehearsal_half_life_days"`
	RetentionWindowDays   *int     `yaml:"retention_window_days"`
}

// Load reads the memory config from the agents directory. A missing file
// returns defaults; a file that fails to parse also returns defaults, with a
// warning recorded. Env overrides apply after the file; clamping always runs
// last.
func Load(agentsDir string) (*Config, error) {
	cfg := DefaultConfig()

	path := ResolveConfigPath(agentsDir)
	if path == "" {
		cfg.applyEnvOverrides()
		cfg.Clamp()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.merge(data); err != nil {
		// Parse failures fall back to documented defaults.
		cfg = DefaultConfig()
		cfg.Warnings = append(cfg.Warnings,
			fmt.Sprintf("config %s unparseable, using defaults: %v", path, err))
	}

	cfg.applyEnvOverrides()
	cfg.Clamp()
	return cfg, nil
}

// merge applies one YAML document onto cfg: flat aliases first, then the
// nested layout (either under a memory: key or at the document root).
func (c *Config) merge(data []byte) error {
	var root fileRoot
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}

	if !root.Memory.IsZero() {
		var flat flatAliases
		if err := root.Memory.Decode(&flat); err == nil {
			c.applyFlat(flat)
		}
		return root.Memory.Decode(c)
	}

	var flat flatAliases
	if err := yaml.Unmarshal(data, &flat); err == nil {
		c.applyFlat(flat)
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyFlat(f flatAliases) {
	if f.EmbeddingProvider != nil {
		c.Embedding.Provider = *f.EmbeddingProvider
	}
	if f.EmbeddingModel != nil {
		c.Embedding.Model = *f.EmbeddingModel
	}
	if f.EmbeddingDimensions != nil {
		c.Embedding.Dimensions = *f.EmbeddingDimensions
	}
	if f.EmbeddingBaseURL != nil {
		c.Embedding.BaseURL = *f.EmbeddingBaseURL
	}
	if f.EmbeddingAPIKey != nil {
		c.Embedding.APIKey = *f.EmbeddingAPIKey
	}
	if f.SearchAlpha != nil {
		c.Search.Alpha = *f.SearchAlpha
	}
	if f.SearchTopK != nil {
		c.Search.TopK = *f.SearchTopK
	}
	if f.SearchMinScore != nil {
		c.Search.MinScore = *f.SearchMinScore
	}
	if f.RehearsalEnabled != nil {
		c.Search.RehearsalEnabled = *f.RehearsalEnabled
	}
	if f.RehearsalWeight != nil {
		c.Search.RehearsalWeight = *f.RehearsalWeight
	}
	if f.RehearsalHalfLifeDays != nil {
		c.Search.RehearsalHalfLifeDays = *f.RehearsalHalfLifeDays
	}
	if f.RetentionWindowDays != nil {
		c.Retention.WindowDays = *f.RetentionWindowDays
	}
}

// applyEnvOverrides applies environment variable overrides after the file.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("SIGNET_EMBEDDING_BASE_URL"); url != "" {
		c.Embedding.BaseURL = url
	}
	if key := os.Getenv("SIGNET_EMBEDDING_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}
	if key := os.Getenv("SIGNET_EXTRACTION_API_KEY"); key != "" {
		c.Pipeline.Extraction.APIKey = key
	}
	// Provider-specific keys fill in only when nothing explicit was set.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.Embedding.Provider == "gemini" && c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
		if c.Pipeline.Extraction.Provider == "gemini" && c.Pipeline.Extraction.APIKey == "" {
			c.Pipeline.Extraction.APIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.Embedding.Provider == "remote-openai-compatible" && c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
		if c.Pipeline.Extraction.Provider == "remote-openai-compatible" && c.Pipeline.Extraction.APIKey == "" {
			c.Pipeline.Extraction.APIKey = key
		}
	}
}

// =============================================================================
// DURATION ACCESSORS
// =============================================================================

// ExtractionTimeout returns the extraction timeout as a duration.
func (c *Config) ExtractionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.Extraction.Timeout)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// WorkerPollInterval returns the worker poll interval.
func (c *Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.Pipeline.Worker.PollMs) * time.Millisecond
}

// LeaseTimeout returns the job lease timeout.
func (c *Config) LeaseTimeout() time.Duration {
	return time.Duration(c.Pipeline.Worker.LeaseTimeoutMs) * time.Millisecond
}

// GraphBoostTimeout returns the graph boost budget.
func (c *Config) GraphBoostTimeout() time.Duration {
	return time.Duration(c.Pipeline.Graph.BoostTimeoutMs) * time.Millisecond
}

// RerankerTimeout returns the reranker budget.
func (c *Config) RerankerTimeout() time.Duration {
	return time.Duration(c.Pipeline.Reranker.TimeoutMs) * time.Millisecond
}

// MaintenanceInterval returns the autonomous maintenance interval.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Pipeline.Autonomous.MaintenanceIntervalMs) * time.Millisecond
}

// CheckpointInterval returns the continuity checkpoint interval.
func (c *Config) CheckpointInterval() time.Duration {
	return time.Duration(c.Session.CheckpointIntervalMs) * time.Millisecond
}

// RetentionWindow returns the soft-delete recovery window.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Retention.WindowDays) * 24 * time.Hour
}
