package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/signetai/signet/internal/types"
)

func TestParseRememberContent(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		content  string
		tags     []string
		critical bool
	}{
		{"plain", "the sky is blue", "the sky is blue", nil, false},
		{"critical", "critical: rotate keys weekly", "rotate keys weekly", nil, true},
		{"critical case-insensitive", "CRITICAL: do not deploy fridays", "do not deploy fridays", nil, true},
		{"tags", "[api, security]: use TLS 1.3", "use TLS 1.3", []string{"api", "security"}, false},
		{"tags deduped lowered", "[API, api, Security]: x", "x", []string{"api", "security"}, false},
		{"critical then tags", "critical: [security, api]: rotate keys weekly", "rotate keys weekly", []string{"security", "api"}, true},
		{"bracket without colon is content", "[not a tag] body", "[not a tag] body", nil, false},
		{"whitespace trimmed", "  padded  ", "padded", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseRememberContent(tt.raw)
			if p.Content != tt.content {
				t.Errorf("content = %q, want %q", p.Content, tt.content)
			}
			if p.Critical != tt.critical {
				t.Errorf("critical = %v, want %v", p.Critical, tt.critical)
			}
			if len(p.Tags) != len(tt.tags) {
				t.Fatalf("tags = %v, want %v", p.Tags, tt.tags)
			}
			for i := range tt.tags {
				if p.Tags[i] != tt.tags[i] {
					t.Errorf("tags = %v, want %v", p.Tags, tt.tags)
				}
			}
		})
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"user prefers dark mode", types.TypePreference},
		{"she likes espresso", types.TypePreference},
		{"we want faster builds", types.TypePreference},
		{"decided to use postgres", types.TypeDecision},
		{"agreed on weekly releases", types.TypeDecision},
		{"we will use feature flags", types.TypeDecision},
		{"learned that WAL needs checkpoints", types.TypeLearning},
		{"til sqlite has partial indexes", types.TypeLearning},
		{"bug in the retry loop", types.TypeIssue},
		{"never commit secrets", types.TypeRule},
		{"always run migrations first", types.TypeRule},
		{"releases must be signed", types.TypeRule},
		{"the sky is blue", types.TypeFact},
		{"rotate keys weekly", types.TypeFact},
		// First hint wins: "prefer" appears before "must" in the table.
		{"prefer tabs, but spaces must be allowed", types.TypePreference},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			if got := InferType(tt.content); got != tt.want {
				t.Errorf("InferType(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestRememberCriticalPrefixLocksPinnedAndImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := 0.2
	res, err := s.Remember(ctx, types.RememberRequest{
		Content:    "critical: [security, api]: rotate keys weekly",
		Who:        "op",
		Importance: &low, // critical: wins over the caller
	}, RememberOptions{}, testMC())
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	if !res.Pinned {
		t.Error("expected pinned=true from critical prefix")
	}
	if res.Importance != 1.0 {
		t.Errorf("importance = %f, want 1.0", res.Importance)
	}
	if res.Content != "rotate keys weekly" {
		t.Errorf("content = %q, want prefix stripped", res.Content)
	}
	if res.Type != types.TypeFact {
		t.Errorf("type = %q, want fact (no hint in body)", res.Type)
	}
	if strings.Join(res.Tags, ",") != "security,api" {
		t.Errorf("tags = %v, want [security api]", res.Tags)
	}

	m, err := s.GetMemory(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if m.ContentHash != types.ContentHash("rotate keys weekly") {
		t.Error("stored hash is not the sha256 of the normalized stripped body")
	}
}

func TestRememberDedupeByContentHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Remember(ctx, types.RememberRequest{Content: "idempotent ingest"}, RememberOptions{}, testMC())
	if err != nil {
		t.Fatalf("first Remember failed: %v", err)
	}
	// Normalization collapses case and whitespace, so this is the same row.
	second, err := s.Remember(ctx, types.RememberRequest{Content: "  Idempotent   ingest "}, RememberOptions{}, testMC())
	if err != nil {
		t.Fatalf("second Remember failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("dedupe returned %s, want %s", second.ID, first.ID)
	}
	if !second.Deduplicated {
		t.Error("expected Deduplicated=true on the second call")
	}

	_, total, err := s.ListMemories(ctx, ListParams{})
	if err != nil {
		t.Fatalf("ListMemories failed: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 memory, got %d", total)
	}
}

func TestRememberValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Remember(ctx, types.RememberRequest{Content: "   "}, RememberOptions{}, testMC())
	if types.KindOf(err) != types.KindBadRequest {
		t.Errorf("empty content: kind = %v, want bad_request", types.KindOf(err))
	}

	_, err = s.Remember(ctx, types.RememberRequest{Content: strings.Repeat("x", 100)},
		RememberOptions{MaxContentChars: 50}, testMC())
	if types.KindOf(err) != types.KindBadRequest {
		t.Errorf("oversized content: kind = %v, want bad_request", types.KindOf(err))
	}
}

func TestRememberCallerImportanceWinsWithoutCritical(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := 0.35
	res, err := s.Remember(ctx, types.RememberRequest{Content: "plain note", Importance: &v}, RememberOptions{}, testMC())
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if res.Importance != 0.35 {
		t.Errorf("importance = %f, want caller's 0.35", res.Importance)
	}

	res2, err := s.Remember(ctx, types.RememberRequest{Content: "another note"}, RememberOptions{}, testMC())
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if res2.Importance != 0.8 {
		t.Errorf("importance = %f, want default 0.8", res2.Importance)
	}
}

type stubEmbedder struct {
	vec  []float32
	fail bool
}

func (e *stubEmbedder) EmbedOrNil(_ context.Context, _ string) []float32 {
	if e.fail {
		return nil
	}
	return e.vec
}

func TestRememberEmbedsWhenProviderUp(t *testing.T) {
	s := newTestStore(t)
	s.SetEmbedder(&stubEmbedder{vec: []float32{0.1, 0.2, 0.3, 0.4}})
	ctx := context.Background()

	res, err := s.Remember(ctx, types.RememberRequest{Content: "embed me"},
		RememberOptions{EmbedModel: "stub-model"}, testMC())
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if !res.Embedded {
		t.Fatal("expected Embedded=true")
	}

	var count int
	if err := s.WithReadDB(ctx, func(q DBTX) error {
		return q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM embeddings WHERE source_id = ?", res.ID).Scan(&count)
	}); err != nil {
		t.Fatalf("count embeddings failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 embedding row, got %d", count)
	}

	m, _ := s.GetMemory(ctx, res.ID)
	if m.EmbeddingModel != "stub-model" {
		t.Errorf("embedding_model = %q, want stub-model", m.EmbeddingModel)
	}

	// Dedupe does not produce a second embedding.
	res2, err := s.Remember(ctx, types.RememberRequest{Content: "embed me"},
		RememberOptions{EmbedModel: "stub-model"}, testMC())
	if err != nil {
		t.Fatalf("second Remember failed: %v", err)
	}
	if res2.Embedded {
		t.Error("expected Embedded=false on dedupe")
	}
	if err := s.WithReadDB(ctx, func(q DBTX) error {
		return q.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&count)
	}); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected embeddings to stay at 1, got %d", count)
	}
}

func TestRememberSurvivesEmbedderFailure(t *testing.T) {
	s := newTestStore(t)
	s.SetEmbedder(&stubEmbedder{fail: true})

	res, err := s.Remember(context.Background(), types.RememberRequest{Content: "keyword only"},
		RememberOptions{}, testMC())
	if err != nil {
		t.Fatalf("Remember must not fail on embedder failure: %v", err)
	}
	if res.Embedded {
		t.Error("expected Embedded=false when the provider is down")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Error("embedding timeout must not surface")
	}
}

func TestRememberEnqueuesExtractionJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Remember(ctx, types.RememberRequest{Content: "queue me"},
		RememberOptions{EnqueueExtraction: true}, testMC())
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	pending, err := s.CountJobs(ctx, types.JobPending)
	if err != nil {
		t.Fatalf("CountJobs failed: %v", err)
	}
	if pending != 1 {
		t.Errorf("expected 1 pending job, got %d", pending)
	}

	m, _ := s.GetMemory(ctx, res.ID)
	if m.ExtractionStatus != types.ExtractionPending {
		t.Errorf("extraction_status = %q, want pending", m.ExtractionStatus)
	}
}
