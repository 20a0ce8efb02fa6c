package embedding

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/signetai/signet/internal/logging"
)

// availabilityTTL is how long one probe result stands in for the
// provider's state. Requests between probes trust the cache.
const availabilityTTL = 30 * time.Second

// Availability is the cached result of one provider probe.
type Availability struct {
	Available  bool   `json:"available"`
	Dimensions int    `json:"dimensions,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Client wraps an Engine with the failure policy the memory core needs:
// embedding is always best-effort, and availability is probed at most
// once per TTL instead of per request.
type Client struct {
	engine Engine

	mu        sync.Mutex
	probed    Availability
	probedAt  time.Time
	probeText string
}

// NewClient wraps an engine. A nil engine yields a client that reports
// unavailable and embeds nothing, which keeps callers branch-free.
func NewClient(engine Engine) *Client {
	return &Client{engine: engine, probeText: "test"}
}

// Model names the wrapped engine, or "" when none is configured.
func (c *Client) Model() string {
	if c == nil || c.engine == nil {
		return ""
	}
	return c.engine.Name()
}

// Dimensions reports the wrapped engine's vector width.
func (c *Client) Dimensions() int {
	if c == nil || c.engine == nil {
		return 0
	}
	return c.engine.Dimensions()
}

// EmbedOrNil returns a vector for text, or nil on any failure. Failures
// are logged and absorbed; the caller degrades to keyword retrieval.
func (c *Client) EmbedOrNil(ctx context.Context, text string) []float32 {
	if c == nil || c.engine == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	vec, err := c.engine.Embed(ctx, text)
	if err != nil {
		logging.EmbeddingWarn("embed failed (%s): %v", c.engine.Name(), err)
		c.markUnavailable(err)
		return nil
	}
	return vec
}

// EmbedBatchOrNil embeds texts, falling back to per-item calls when the
// batch fails as a whole. Result slots are nil where embedding failed.
func (c *Client) EmbedBatchOrNil(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if c == nil || c.engine == nil || len(texts) == 0 {
		return out
	}
	vecs, err := c.engine.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) == len(texts) {
		copy(out, vecs)
		return out
	}
	logging.EmbeddingWarn("batch embed failed (%s), retrying per item: %v", c.engine.Name(), err)
	for i, text := range texts {
		if ctx.Err() != nil {
			break
		}
		out[i] = c.EmbedOrNil(ctx, text)
	}
	return out
}

// Available probes the provider by embedding a short literal, caching
// the outcome for the TTL so hot paths never block on a dead provider.
func (c *Client) Available(ctx context.Context) Availability {
	if c == nil || c.engine == nil {
		return Availability{Available: false, Error: "no embedding engine configured"}
	}

	c.mu.Lock()
	if time.Since(c.probedAt) < availabilityTTL {
		cached := c.probed
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result := Availability{}
	vec, err := c.engine.Embed(probeCtx, c.probeText)
	if err != nil {
		result.Error = err.Error()
		logging.EmbeddingDebug("availability probe failed: %v", err)
	} else {
		result.Available = true
		result.Dimensions = len(vec)
	}

	c.mu.Lock()
	c.probed = result
	c.probedAt = time.Now()
	c.mu.Unlock()
	return result
}

// markUnavailable poisons the cache after a hard failure so the next
// Available call reflects reality without waiting for the TTL.
func (c *Client) markUnavailable(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.probed.Available {
		c.probed = Availability{Available: false, Error: err.Error()}
		c.probedAt = time.Now()
	}
}

// InvalidateProbe forgets the cached probe. Tests and repair actions use
// it to force a fresh look at the provider.
func (c *Client) InvalidateProbe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probedAt = time.Time{}
}
