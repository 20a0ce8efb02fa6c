package session

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestRingBuffersStayBounded(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 30; i++ {
		tr.RecordPrompt("s1", fmt.Sprintf("prompt %d", i))
		tr.RecordRemember("s1", fmt.Sprintf("remember %d", i))
		tr.RecordQuery("s1", fmt.Sprintf("term%d", i))
	}

	state := tr.ConsumeState("s1")
	if state == nil {
		t.Fatal("ConsumeState returned nil")
	}
	if len(state.Prompts) != maxPrompts {
		t.Errorf("prompts = %d, want %d", len(state.Prompts), maxPrompts)
	}
	if len(state.Remembers) != maxRemembers {
		t.Errorf("remembers = %d, want %d", len(state.Remembers), maxRemembers)
	}
	if len(state.QueryTerms) != maxQueryTerms {
		t.Errorf("query terms = %d, want %d", len(state.QueryTerms), maxQueryTerms)
	}

	// FIFO: the oldest entries were evicted.
	if state.Prompts[0] != "prompt 20" {
		t.Errorf("oldest kept prompt = %q, want prompt 20", state.Prompts[0])
	}
	if state.PromptCount != 30 || state.TotalPrompts != 30 {
		t.Errorf("counts = %d/%d, want 30/30", state.PromptCount, state.TotalPrompts)
	}
}

func TestPromptSnippetsTruncated(t *testing.T) {
	tr := NewTracker()
	tr.RecordPrompt("s1", strings.Repeat("x", 500))

	state := tr.ConsumeState("s1")
	if got := len(state.Prompts[0]); got != snippetChars {
		t.Errorf("snippet length = %d, want %d", got, snippetChars)
	}
}

func TestPromptSnippetsTruncateOnRuneBoundary(t *testing.T) {
	tr := NewTracker()
	tr.RecordPrompt("s1", strings.Repeat("é", 300))

	state := tr.ConsumeState("s1")
	got := state.Prompts[0]
	if !utf8.ValidString(got) {
		t.Errorf("snippet is not valid UTF-8: %q", got)
	}
	if n := len([]rune(got)); n != snippetChars {
		t.Errorf("snippet runes = %d, want %d", n, snippetChars)
	}
}

func TestQueryTermsDeduplicated(t *testing.T) {
	tr := NewTracker()
	tr.RecordQuery("s1", "Redis cache eviction")
	tr.RecordQuery("s1", "redis CLUSTER")

	state := tr.ConsumeState("s1")
	want := []string{"redis", "cache", "eviction", "cluster"}
	if len(state.QueryTerms) != len(want) {
		t.Fatalf("terms = %v, want %v", state.QueryTerms, want)
	}
	for i, term := range want {
		if state.QueryTerms[i] != term {
			t.Errorf("term[%d] = %q, want %q", i, state.QueryTerms[i], term)
		}
	}
}

func TestShouldCheckpointByPromptCount(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 4; i++ {
		tr.RecordPrompt("s1", "p")
	}
	if tr.ShouldCheckpoint("s1", time.Hour, 5) {
		t.Error("due at 4 prompts with promptInterval 5")
	}
	tr.RecordPrompt("s1", "p")
	if !tr.ShouldCheckpoint("s1", time.Hour, 5) {
		t.Error("not due at 5 prompts with promptInterval 5")
	}
}

func TestShouldCheckpointByElapsedTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.SetClock(func() time.Time { return now })

	tr.RecordPrompt("s1", "p")
	if tr.ShouldCheckpoint("s1", 30*time.Minute, 100) {
		t.Error("due immediately")
	}

	now = now.Add(31 * time.Minute)
	if !tr.ShouldCheckpoint("s1", 30*time.Minute, 100) {
		t.Error("not due after the interval elapsed")
	}

	// A session with zero prompts is never due, however old.
	tr.Clear("s1")
	tr.RecordQuery("s2", "just searching")
	now = now.Add(24 * time.Hour)
	if tr.ShouldCheckpoint("s2", 30*time.Minute, 100) {
		t.Error("promptless session reported due")
	}
}

func TestConsumeStateResetsCounters(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.SetClock(func() time.Time { return now })

	for i := 0; i < 6; i++ {
		tr.RecordPrompt("s1", "p")
	}
	if state := tr.ConsumeState("s1"); state.PromptCount != 6 {
		t.Fatalf("PromptCount = %d, want 6", state.PromptCount)
	}

	// Counters reset; the total survives.
	tr.RecordPrompt("s1", "p")
	state := tr.ConsumeState("s1")
	if state.PromptCount != 1 {
		t.Errorf("PromptCount after reset = %d, want 1", state.PromptCount)
	}
	if state.TotalPrompts != 7 {
		t.Errorf("TotalPrompts = %d, want 7", state.TotalPrompts)
	}
}

func TestConsumeStateUnknownSession(t *testing.T) {
	tr := NewTracker()
	if state := tr.ConsumeState("nope"); state != nil {
		t.Errorf("ConsumeState(unknown) = %+v, want nil", state)
	}
}

func TestClearDropsSession(t *testing.T) {
	tr := NewTracker()
	tr.RecordPrompt("s1", "p")
	tr.Clear("s1")
	if tr.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d after Clear, want 0", tr.ActiveSessions())
	}
}
