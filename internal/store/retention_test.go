package store

import (
	"context"
	"testing"
	"time"

	"github.com/signetai/signet/internal/types"
)

func TestPruneLowValueOnlyCollectsAutonomousSources(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	ingestLow := func(content, sourceType string) *types.Memory {
		t.Helper()
		m, _, err := s.Ingest(ctx, IngestParams{
			Content:    content,
			Type:       types.TypeFact,
			Importance: 0.1,
			SourceType: sourceType,
		}, testMC())
		if err != nil {
			t.Fatalf("Ingest(%q) failed: %v", content, err)
		}
		return m
	}
	extracted := ingestLow("stale extracted detail", "extraction")
	auto := ingestLow("stale auto-extract detail", "auto-extract")
	feed := ingestLow("stale note from a watched file", "feed")
	manual := ingestLow("stale note typed in directly", "")

	s.SetClock(func() time.Time { return base.Add(61 * 24 * time.Hour) })

	n, err := s.PruneLowValueMemories(ctx, 50, testMC())
	if err != nil {
		t.Fatalf("PruneLowValueMemories failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned = %d, want 2 (extraction and auto-extract only)", n)
	}

	for _, tc := range []struct {
		m       *types.Memory
		deleted bool
	}{
		{extracted, true},
		{auto, true},
		{feed, false},
		{manual, false},
	} {
		got, err := s.GetMemory(ctx, tc.m.ID)
		if err != nil {
			t.Fatalf("GetMemory(%s) failed: %v", tc.m.ID, err)
		}
		if got.IsDeleted != tc.deleted {
			t.Errorf("source %q: deleted = %v, want %v", tc.m.SourceType, got.IsDeleted, tc.deleted)
		}
	}
}

func TestPruneLowValueSkipsRecentAndAccessedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	touched, _, err := s.Ingest(ctx, IngestParams{
		Content:    "extracted but actually read",
		Type:       types.TypeFact,
		Importance: 0.1,
		SourceType: "extraction",
	}, testMC())
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if err := s.FinalizeAccess(ctx, []string{touched.ID}); err != nil {
		t.Fatalf("FinalizeAccess failed: %v", err)
	}
	untouched, _, err := s.Ingest(ctx, IngestParams{
		Content:    "extracted and never read",
		Type:       types.TypeFact,
		Importance: 0.1,
		SourceType: "extraction",
	}, testMC())
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	// Too young: neither row is a candidate yet.
	s.SetClock(func() time.Time { return base.Add(10 * 24 * time.Hour) })
	n, err := s.PruneLowValueMemories(ctx, 50, testMC())
	if err != nil {
		t.Fatalf("PruneLowValueMemories failed: %v", err)
	}
	if n != 0 {
		t.Errorf("pruned = %d at 10 days, want 0", n)
	}

	// Old enough: only the never-accessed row goes.
	s.SetClock(func() time.Time { return base.Add(61 * 24 * time.Hour) })
	n, err = s.PruneLowValueMemories(ctx, 50, testMC())
	if err != nil {
		t.Fatalf("PruneLowValueMemories failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d at 61 days, want 1", n)
	}
	if got, _ := s.GetMemory(ctx, touched.ID); got.IsDeleted {
		t.Error("accessed row was pruned")
	}
	if got, _ := s.GetMemory(ctx, untouched.ID); !got.IsDeleted {
		t.Error("never-accessed row survived")
	}
}
