package session

import (
	"context"
	"strings"
	"testing"

	"github.com/signetai/signet/internal/config"
	"github.com/signetai/signet/internal/store"
)

func newManager(t *testing.T, mutate func(*config.Config)) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return NewManager(st, cfg), st
}

func TestNotePromptCheckpointsAtPromptInterval(t *testing.T) {
	m, st := newManager(t, func(c *config.Config) {
		c.Session.PromptInterval = 3
	})
	ctx := context.Background()

	m.Tracker().RecordQuery("s1", "sqlite vector search")
	m.Tracker().RecordRemember("s1", "prefer WAL mode")

	for i := 0; i < 2; i++ {
		mem, err := m.NotePrompt(ctx, "s1", "how do I tune sqlite?")
		if err != nil {
			t.Fatalf("NotePrompt %d failed: %v", i, err)
		}
		if mem != nil {
			t.Fatalf("checkpoint fired early at prompt %d", i+1)
		}
	}

	mem, err := m.NotePrompt(ctx, "s1", "and what about WAL checkpoints?")
	if err != nil {
		t.Fatalf("NotePrompt failed: %v", err)
	}
	if mem == nil {
		t.Fatal("no checkpoint at the prompt interval")
	}
	if mem.Type != "session_summary" {
		t.Errorf("type = %q, want session_summary", mem.Type)
	}
	if mem.Importance != 0.6 {
		t.Errorf("importance = %v, want 0.6", mem.Importance)
	}
	tags := strings.Join(mem.Tags, ",")
	if !strings.Contains(tags, "session") || !strings.Contains(tags, "continuity") {
		t.Errorf("tags = %q, want session and continuity", tags)
	}
	if !strings.Contains(mem.Content, "3 prompts") {
		t.Errorf("digest = %q, want prompt count", mem.Content)
	}
	if !strings.Contains(mem.Content, "sqlite") {
		t.Errorf("digest = %q, want recent topics", mem.Content)
	}
	if !strings.Contains(mem.Content, "prefer WAL mode") {
		t.Errorf("digest = %q, want remembered items", mem.Content)
	}

	// The stored row is the digest memory.
	stored, err := st.GetMemory(ctx, mem.ID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if stored.SourceID != "s1" {
		t.Errorf("source_id = %q, want s1", stored.SourceID)
	}
}

func TestCheckpointIdleSessionIsNoOp(t *testing.T) {
	m, st := newManager(t, nil)
	ctx := context.Background()

	mem, err := m.Checkpoint(ctx, "never-seen")
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if mem != nil {
		t.Errorf("checkpoint of unknown session wrote %+v", mem)
	}

	_, total, err := st.ListMemories(ctx, store.ListParams{})
	if err != nil {
		t.Fatalf("ListMemories failed: %v", err)
	}
	if total != 0 {
		t.Errorf("memories = %d, want 0", total)
	}
}

func TestDigestOmitsEmptyClauses(t *testing.T) {
	got := Digest(&State{PromptCount: 2})
	if got != "Session digest: 2 prompts" {
		t.Errorf("digest = %q", got)
	}
}
