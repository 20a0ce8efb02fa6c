package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/signetai/signet/internal/config"
	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/store"
	"github.com/signetai/signet/internal/types"
)

const (
	digestTopics    = 8
	digestRemembers = 5
)

// Manager ties the continuity tracker to the store: it accumulates
// prompt activity and, when a session is due, condenses it into a
// session_summary memory so the next session can pick the thread up.
type Manager struct {
	store   *store.Store
	cfg     *config.Config
	tracker *Tracker
}

func NewManager(st *store.Store, cfg *config.Config) *Manager {
	return &Manager{store: st, cfg: cfg, tracker: NewTracker()}
}

// Tracker exposes the underlying continuity state for recall and
// remember hooks.
func (m *Manager) Tracker() *Tracker {
	return m.tracker
}

// NotePrompt records one prompt and checkpoints the session if it is
// due. Returns the digest memory when a checkpoint fired, nil otherwise.
func (m *Manager) NotePrompt(ctx context.Context, sessionKey, prompt string) (*types.Memory, error) {
	if sessionKey == "" {
		return nil, nil
	}
	m.tracker.RecordPrompt(sessionKey, prompt)
	if !m.tracker.ShouldCheckpoint(sessionKey, m.cfg.CheckpointInterval(), m.cfg.Session.PromptInterval) {
		return nil, nil
	}
	return m.Checkpoint(ctx, sessionKey)
}

// Checkpoint consumes the session's state and writes the digest memory.
// An idle session yields nil without touching the store.
func (m *Manager) Checkpoint(ctx context.Context, sessionKey string) (*types.Memory, error) {
	state := m.tracker.ConsumeState(sessionKey)
	if state == nil || state.PromptCount == 0 {
		return nil, nil
	}

	mem, dedup, err := m.store.Ingest(ctx, store.IngestParams{
		Content:    Digest(state),
		Type:       "session_summary",
		Tags:       []string{"session", "continuity"},
		Importance: 0.6,
		Who:        "daemon",
		SourceType: "session",
		SourceID:   sessionKey,
	}, types.MutationContext{ActorType: types.ActorDaemon, SessionID: sessionKey})
	if err != nil {
		return nil, err
	}
	if dedup {
		logging.SessionDebug("checkpoint for %s deduplicated onto %s", sessionKey, mem.ID)
		return mem, nil
	}
	logging.Session("checkpointed session %s: %d prompts into %s", sessionKey, state.PromptCount, mem.ID)
	return mem, nil
}

// Digest renders consumed state into the checkpoint text. The clauses
// for topics and remembers drop out when empty.
func Digest(state *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session digest: %d prompts", state.PromptCount)
	if topics := head(state.QueryTerms, digestTopics); len(topics) > 0 {
		b.WriteString("; recent topics: ")
		b.WriteString(strings.Join(topics, ", "))
	}
	if remembers := head(state.Remembers, digestRemembers); len(remembers) > 0 {
		b.WriteString("; remembered: ")
		b.WriteString(strings.Join(remembers, "; "))
	}
	return b.String()
}

func head(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
