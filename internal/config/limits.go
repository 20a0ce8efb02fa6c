package config

import "fmt"

// Clamp bounds. Out-of-range values are pulled to the nearest bound rather
// than rejected, so a bad config file degrades instead of breaking startup.
const (
	MinDimensions = 8
	MaxDimensions = 8192

	MinTopK = 1
	MaxTopK = 100

	MinHalfLifeDays = 1
	MaxHalfLifeDays = 365

	MinMaintenanceIntervalMs = 60_000
	MaxMaintenanceIntervalMs = 86_400_000

	MinPollMs = 250
	MaxPollMs = 60_000

	MinMaxRetries = 1
	MaxMaxRetries = 10

	MinLeaseTimeoutMs = 5_000
	MaxLeaseTimeoutMs = 600_000

	MinBoostTimeoutMs = 50
	MaxBoostTimeoutMs = 5_000

	MinRerankTopN = 1
	MaxRerankTopN = 50

	MinRerankTimeoutMs = 100
	MaxRerankTimeoutMs = 10_000

	MinCooldownMs = 1_000
	MaxCooldownMs = 3_600_000

	MinReembedBudget = 1
	MaxReembedBudget = 100

	MinRequeueBudget = 1
	MaxRequeueBudget = 1000

	MinContentChars = 256
	MaxContentChars = 65_536

	MinChunkChars = 200
	MaxChunkChars = 8_000

	MinTruncateChars = 80
	MaxTruncateChars = 4_000

	MinCheckpointMs = 60_000
	MaxCheckpointMs = 7_200_000

	MinPromptInterval = 1
	MaxPromptInterval = 200

	MinRetentionDays = 1
	MaxRetentionDays = 365
)

// Clamp pulls every numeric field into its documented range and normalizes
// enum fields, recording a warning per adjustment.
func (c *Config) Clamp() {
	c.Embedding.Provider = normalizeProvider(c.Embedding.Provider, &c.Warnings, "embedding.provider")
	c.Embedding.Dimensions = c.clampInt("embedding.dimensions", c.Embedding.Dimensions, MinDimensions, MaxDimensions)

	c.Search.Alpha = c.clampFloat("search.alpha", c.Search.Alpha, 0, 1)
	c.Search.TopK = c.clampInt("search.top_k", c.Search.TopK, MinTopK, MaxTopK)
	c.Search.MinScore = c.clampFloat("search.min_score", c.Search.MinScore, 0, 1)
	c.Search.RehearsalWeight = c.clampFloat("search.rehearsal_weight", c.Search.RehearsalWeight, 0, 1)
	c.Search.RehearsalHalfLifeDays = c.clampFloat("search.rehearsal_half_life_days", c.Search.RehearsalHalfLifeDays, MinHalfLifeDays, MaxHalfLifeDays)

	a := &c.Pipeline.Autonomous
	a.MaintenanceIntervalMs = c.clampInt64("autonomous.maintenanceIntervalMs", a.MaintenanceIntervalMs, MinMaintenanceIntervalMs, MaxMaintenanceIntervalMs)
	if a.MaintenanceMode != "observe" && a.MaintenanceMode != "execute" {
		c.warn("autonomous.maintenanceMode %q invalid, using observe", a.MaintenanceMode)
		a.MaintenanceMode = "observe"
	}

	e := &c.Pipeline.Extraction
	e.Provider = normalizeProvider(e.Provider, &c.Warnings, "extraction.provider")
	e.MinConfidence = c.clampFloat("extraction.minConfidence", e.MinConfidence, 0, 1)
	if d := c.ExtractionTimeout(); d.Seconds() < 1 || d.Seconds() > 120 {
		c.warn("extraction.timeout %s out of range [1s,120s], using 20s", e.Timeout)
		e.Timeout = "20s"
	}

	w := &c.Pipeline.Worker
	w.PollMs = c.clampInt64("worker.pollMs", w.PollMs, MinPollMs, MaxPollMs)
	w.MaxRetries = c.clampInt("worker.maxRetries", w.MaxRetries, MinMaxRetries, MaxMaxRetries)
	w.LeaseTimeoutMs = c.clampInt64("worker.leaseTimeoutMs", w.LeaseTimeoutMs, MinLeaseTimeoutMs, MaxLeaseTimeoutMs)

	g := &c.Pipeline.Graph
	g.BoostWeight = c.clampFloat("graph.boostWeight", g.BoostWeight, 0, 1)
	g.BoostTimeoutMs = c.clampInt64("graph.boostTimeoutMs", g.BoostTimeoutMs, MinBoostTimeoutMs, MaxBoostTimeoutMs)

	rr := &c.Pipeline.Reranker
	rr.TopN = c.clampInt("reranker.topN", rr.TopN, MinRerankTopN, MaxRerankTopN)
	rr.TimeoutMs = c.clampInt64("reranker.timeoutMs", rr.TimeoutMs, MinRerankTimeoutMs, MaxRerankTimeoutMs)

	rp := &c.Pipeline.Repair
	rp.ReembedCooldownMs = c.clampInt64("repair.reembedCooldownMs", rp.ReembedCooldownMs, MinCooldownMs, MaxCooldownMs)
	rp.ReembedHourlyBudget = c.clampInt("repair.reembedHourlyBudget", rp.ReembedHourlyBudget, MinReembedBudget, MaxReembedBudget)
	rp.RequeueCooldownMs = c.clampInt64("repair.requeueCooldownMs", rp.RequeueCooldownMs, MinCooldownMs, MaxCooldownMs)
	rp.RequeueHourlyBudget = c.clampInt("repair.requeueHourlyBudget", rp.RequeueHourlyBudget, MinRequeueBudget, MaxRequeueBudget)

	gr := &c.Pipeline.Guardrails
	gr.MaxContentChars = c.clampInt("guardrails.maxContentChars", gr.MaxContentChars, MinContentChars, MaxContentChars)
	gr.ChunkTargetChars = c.clampInt("guardrails.chunkTargetChars", gr.ChunkTargetChars, MinChunkChars, MaxChunkChars)
	gr.RecallTruncateChars = c.clampInt("guardrails.recallTruncateChars", gr.RecallTruncateChars, MinTruncateChars, MaxTruncateChars)

	c.Session.CheckpointIntervalMs = c.clampInt64("session.checkpointIntervalMs", c.Session.CheckpointIntervalMs, MinCheckpointMs, MaxCheckpointMs)
	c.Session.PromptInterval = c.clampInt("session.promptInterval", c.Session.PromptInterval, MinPromptInterval, MaxPromptInterval)

	c.Retention.WindowDays = c.clampInt("retention.windowDays", c.Retention.WindowDays, MinRetentionDays, MaxRetentionDays)
}

func normalizeProvider(p string, warnings *[]string, field string) string {
	switch p {
	case "local-http", "remote-openai-compatible", "gemini":
		return p
	case "ollama", "": // historical alias and default
		return "local-http"
	case "openai":
		return "remote-openai-compatible"
	default:
		*warnings = append(*warnings, fmt.Sprintf("%s %q unknown (valid: %v), using local-http", field, p, ValidProviders))
		return "local-http"
	}
}

func (c *Config) warn(format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func (c *Config) clampFloat(name string, v, lo, hi float64) float64 {
	if v < lo {
		c.warn("%s %.3f below %.3f, clamped", name, v, lo)
		return lo
	}
	if v > hi {
		c.warn("%s %.3f above %.3f, clamped", name, v, hi)
		return hi
	}
	return v
}

func (c *Config) clampInt(name string, v, lo, hi int) int {
	if v < lo {
		c.warn("%s %d below %d, clamped", name, v, lo)
		return lo
	}
	if v > hi {
		c.warn("%s %d above %d, clamped", name, v, hi)
		return hi
	}
	return v
}

func (c *Config) clampInt64(name string, v, lo, hi int64) int64 {
	if v < lo {
		c.warn("%s %d below %d, clamped", name, v, lo)
		return lo
	}
	if v > hi {
		c.warn("%s %d above %d, clamped", name, v, hi)
		return hi
	}
	return v
}
