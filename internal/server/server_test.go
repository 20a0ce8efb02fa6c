package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetai/signet/internal/config"
	"github.com/signetai/signet/internal/embedding"
	"github.com/signetai/signet/internal/repair"
	"github.com/signetai/signet/internal/session"
	"github.com/signetai/signet/internal/store"
)

// harness runs the full handler stack over an in-memory store with no
// embedding provider, so every search degrades to the keyword path.
type harness struct {
	ts      *httptest.Server
	st      *store.Store
	repairs *repair.Registry
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Pipeline.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	client := embedding.NewClient(nil)
	repairs := repair.New(st, client, cfg)
	sessions := session.NewManager(st, cfg)
	srv := New(st, cfg, client, repairs, sessions)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{ts: ts, st: st, repairs: repairs}
}

func (h *harness) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.ts.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (h *harness) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(h.ts.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (h *harness) remember(t *testing.T, content string) map[string]interface{} {
	t.Helper()
	resp, body := h.post(t, "/api/memory/remember", map[string]interface{}{"content": content})
	require.Equal(t, http.StatusOK, resp.StatusCode, "remember failed: %v", body)
	return body
}

func TestRememberCriticalPrefix(t *testing.T) {
	h := newHarness(t, nil)

	body := h.remember(t, "critical: [security, api]: rotate keys weekly")
	assert.Equal(t, true, body["pinned"])
	assert.Equal(t, 1.0, body["importance"])
	assert.Equal(t, "fact", body["type"])
	assert.Equal(t, "rotate keys weekly", body["content"])
	assert.ElementsMatch(t, []interface{}{"security", "api"}, body["tags"])
	assert.NotEqual(t, true, body["embedded"])
}

func TestRememberDeduplicatesOnContentHash(t *testing.T) {
	h := newHarness(t, nil)

	first := h.remember(t, "the staging db lives on host db-2")
	second := h.remember(t, "the staging db lives on host db-2")
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, true, second["deduplicated"])
	assert.NotEqual(t, true, first["deduplicated"])
}

func TestRecallKeywordFallback(t *testing.T) {
	h := newHarness(t, nil)
	stored := h.remember(t, "critical: [security, api]: rotate keys weekly")

	// No provider is wired, so the hybrid pipeline degrades to keyword
	// scoring; porter stemming still lets "rotation" reach "rotate".
	resp, body := h.post(t, "/api/memory/recall", map[string]interface{}{"query": "key rotation"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "keyword", body["method"])

	results := body["results"].([]interface{})
	require.NotEmpty(t, results)
	top := results[0].(map[string]interface{})
	assert.Equal(t, stored["id"], top["id"])
	assert.Equal(t, "keyword", top["source"])
}

func TestRecallEmptyQueryRejected(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.post(t, "/api/memory/recall", map[string]interface{}{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", body["error"])
	assert.Equal(t, "query is empty", body["message"])
	assert.NotEmpty(t, body["requestId"])
}

func TestRepairCooldownReturns429(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Pipeline.Autonomous.Enabled = true
	})
	req := map[string]interface{}{"reason": "cleanup", "actorType": "operator"}

	resp, body := h.post(t, "/api/repair/requeueDeadJobs", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	// Back-to-back within the cooldown: denied, but the action result
	// body still comes back so the caller sees why.
	resp, body = h.post(t, "/api/repair/requeueDeadJobs", req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "requeueDeadJobs", body["action"])
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "cooldown active")
}

func TestRepairUnknownActionIs404(t *testing.T) {
	h := newHarness(t, nil)
	resp, body := h.post(t, "/api/repair/defragmentEverything", map[string]interface{}{"actorType": "operator"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])
}

func TestForgetPinnedForceDeniedForAutonomousActor(t *testing.T) {
	h := newHarness(t, nil)
	stored := h.remember(t, "critical: deploys go through the canary first")

	resp, body := h.post(t, "/api/memory/forget", map[string]interface{}{
		"id":        stored["id"],
		"force":     true,
		"actorType": "pipeline",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "autonomous_force_denied", body["error"])
	assert.Contains(t, body["message"], "operator")

	// The row is untouched.
	_, listing := h.get(t, "/api/memories?deleted=only")
	assert.Equal(t, float64(0), listing["total"])
	_, listing = h.get(t, "/api/memories?pinned=1")
	assert.Equal(t, float64(1), listing["total"])
}

func TestForgetPinnedNeedsForce(t *testing.T) {
	h := newHarness(t, nil)
	stored := h.remember(t, "critical: never commit straight to main")

	resp, body := h.post(t, "/api/memory/forget", map[string]interface{}{
		"id": stored["id"],
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "pinned_requires_force", body["error"])

	resp, body = h.post(t, "/api/memory/forget", map[string]interface{}{
		"id":        stored["id"],
		"force":     true,
		"actorType": "operator",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deleted", body["status"])
}

func TestHealthAndStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.remember(t, "the nightly backup runs at 02:00 utc")

	resp, body := h.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = h.get(t, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotNil(t, body["uptime_seconds"])
	assert.Equal(t, float64(0), body["queue_depth"])

	cfgEcho := body["config"].(map[string]interface{})
	assert.Contains(t, cfgEcho, "search")
	assert.Contains(t, cfgEcho, "retention_days")
	assert.NotContains(t, cfgEcho, "apiKey")
}

func TestSessionStartInjectsMemoryBlock(t *testing.T) {
	h := newHarness(t, nil)
	h.remember(t, "critical: deploys go through the canary first")
	h.remember(t, "the team prefers table-driven tests")

	resp, body := h.post(t, "/api/hooks/session-start", map[string]interface{}{
		"harness":    "claude-code",
		"sessionKey": "boot-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	inject := body["inject"].(string)
	assert.Contains(t, inject, "## Memory\n")
	assert.Contains(t, inject, "- [fact] deploys go through the canary first")

	candidates := body["candidates"].([]interface{})
	require.Len(t, candidates, 2)
	first := candidates[0].(map[string]interface{})
	assert.Equal(t, "session_start", first["source"])

	// The pinned memory sorts ahead of the unpinned one.
	assert.Contains(t, first["content"], "canary")

	recorded, err := h.st.SessionCandidates(context.Background(), "boot-1")
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	for _, c := range recorded {
		assert.True(t, c.Injected)
		assert.Equal(t, "session_start", c.Source)
	}
}

func TestSessionStartEmptyStore(t *testing.T) {
	h := newHarness(t, nil)
	resp, body := h.post(t, "/api/hooks/session-start", map[string]interface{}{"harness": "cursor"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "", body["inject"])
}

func TestPromptHookCheckpoints(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Session.PromptInterval = 2
	})

	resp, body := h.post(t, "/api/hooks/prompt", map[string]interface{}{
		"sessionKey": "hook-1",
		"prompt":     "how do I rotate the api keys",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["recorded"])
	assert.Equal(t, false, body["checkpointed"])

	resp, body = h.post(t, "/api/hooks/prompt", map[string]interface{}{
		"sessionKey": "hook-1",
		"prompt":     "and where does the canary deploy run",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["checkpointed"])
	require.NotEmpty(t, body["checkpointId"])

	mem, err := h.st.GetMemory(context.Background(), body["checkpointId"].(string))
	require.NoError(t, err)
	assert.Equal(t, "session_summary", mem.Type)
	assert.Contains(t, mem.Content, "Session digest: 2 prompts")
}

func TestPromptHookRequiresSessionKey(t *testing.T) {
	h := newHarness(t, nil)
	resp, body := h.post(t, "/api/hooks/prompt", map[string]interface{}{"prompt": "hello"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", body["error"])
}

func TestKeywordSearchTracksFtsHits(t *testing.T) {
	h := newHarness(t, nil)
	stored := h.remember(t, "the build cache lives under /var/cache/signet")

	resp, body := h.get(t, "/memory/search?q=cache&sessionKey=s-fts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	recorded, err := h.st.SessionCandidates(context.Background(), "s-fts")
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, stored["id"], recorded[0].MemoryID)
	assert.True(t, recorded[0].FtsHit)
}

func TestKeywordSearchFilters(t *testing.T) {
	h := newHarness(t, nil)
	h.remember(t, "critical: [infra]: rotate keys weekly")
	h.remember(t, "we decided to rotate the on-call schedule monthly")

	resp, body := h.get(t, "/memory/search?q=rotate&pinned=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = h.get(t, "/memory/search?q=rotate&type=decision")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := body["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Contains(t, results[0].(map[string]interface{})["content"], "on-call")
}

func TestHistoryUnknownMemory(t *testing.T) {
	h := newHarness(t, nil)
	resp, body := h.get(t, "/api/memories/no-such-id/history")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])
}

func TestHistoryRecordsMutations(t *testing.T) {
	h := newHarness(t, nil)
	stored := h.remember(t, "the artifact bucket is signet-builds")
	id := stored["id"].(string)

	resp, _ := h.post(t, "/api/memory/modify", map[string]interface{}{
		"id":         id,
		"importance": 0.9,
		"reason":     "bumped after incident review",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := h.get(t, fmt.Sprintf("/api/memories/%s/history", id))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := body["events"].([]interface{})
	assert.Len(t, events, 2)
}

func TestRequestIDHeader(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	req, err := http.NewRequest(http.MethodGet, h.ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "trace-123")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "trace-123", resp.Header.Get("X-Request-Id"))
}

func TestRecoverAfterForget(t *testing.T) {
	h := newHarness(t, nil)
	stored := h.remember(t, "the grafana dashboard is at /d/mem-core")
	id := stored["id"].(string)

	resp, _ := h.post(t, "/api/memory/forget", map[string]interface{}{"id": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := h.post(t, "/api/memory/recover", map[string]interface{}{"id": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "recovered", body["status"])

	// Recall finds it again.
	resp, body = h.post(t, "/api/memory/recall", map[string]interface{}{"query": "grafana dashboard"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
}
