package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signetai/signet/internal/store"
)

func newFeed(t *testing.T) (*Feed, *store.Store, string) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	return New(st, dir, 1200, store.RememberOptions{}), st, dir
}

func writeNote(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestIngestFileChunksAndTags(t *testing.T) {
	f, st, dir := newFeed(t)
	ctx := context.Background()

	path := writeNote(t, dir, "2026-03-01-retro.md", "# Wins\n\nShipped the recall fix.\n\n# Losses\n\nFlaky CI all week.\n")

	n, err := f.IngestFile(ctx, path)
	if err != nil {
		t.Fatalf("IngestFile failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("ingested = %d, want 2", n)
	}

	memories, _, err := st.ListMemories(ctx, store.ListParams{})
	if err != nil {
		t.Fatalf("ListMemories failed: %v", err)
	}
	for _, m := range memories {
		if m.SourceType != "feed" || m.Who != "feed" {
			t.Errorf("memory %s source_type=%q who=%q, want feed/feed", m.ID, m.SourceType, m.Who)
		}
		if m.Importance != sectionImportance {
			t.Errorf("memory %s importance = %v, want %v", m.ID, m.Importance, sectionImportance)
		}
		tags := map[string]bool{}
		for _, tag := range m.Tags {
			tags[tag] = true
		}
		if !tags["2026-03-01"] || !tags["retro"] {
			t.Errorf("memory %s tags = %v, want date and filename tags", m.ID, m.Tags)
		}
	}
}

func TestIngestFileSkipsUnchangedContent(t *testing.T) {
	f, _, dir := newFeed(t)
	ctx := context.Background()

	path := writeNote(t, dir, "note.md", "# One\n\nfirst version\n")
	if n, _ := f.IngestFile(ctx, path); n != 1 {
		t.Fatalf("first ingest = %d, want 1", n)
	}
	if n, _ := f.IngestFile(ctx, path); n != 0 {
		t.Errorf("unchanged re-ingest = %d, want 0", n)
	}

	// A real edit goes through again.
	writeNote(t, dir, "note.md", "# One\n\nsecond version\n")
	if n, _ := f.IngestFile(ctx, path); n != 1 {
		t.Errorf("edited re-ingest = %d, want 1", n)
	}
}

func TestEligible(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/m/notes.md", true},
		{"/m/NOTES.MD", true},
		{"/m/MEMORY.md", false},
		{"/m/memory.md", false},
		{"/m/script.sh", false},
		{"/m/readme.txt", false},
	}
	for _, tt := range tests {
		if got := eligible(tt.path); got != tt.want {
			t.Errorf("eligible(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWatcherPicksUpNewFile(t *testing.T) {
	f, st, dir := newFeed(t)
	if err := f.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.Stop()

	writeNote(t, dir, "fresh.md", "# Fresh\n\njust arrived\n")

	// Debounce plus write delivery; poll rather than sleep a fixed time.
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, total, err := st.ListMemories(context.Background(), store.ListParams{})
		if err != nil {
			t.Fatalf("ListMemories failed: %v", err)
		}
		if total == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher never ingested the file (total=%d)", total)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestInitialScanIngestsExistingFiles(t *testing.T) {
	f, st, dir := newFeed(t)
	writeNote(t, dir, "old.md", "# Old\n\nwas here before the watcher\n")
	writeNote(t, dir, "MEMORY.md", "# Index\n\nshould be skipped\n")

	if err := f.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.Stop()

	_, total, err := st.ListMemories(context.Background(), store.ListParams{})
	if err != nil {
		t.Fatalf("ListMemories failed: %v", err)
	}
	if total != 1 {
		t.Errorf("memories = %d, want 1 (index excluded)", total)
	}
}
