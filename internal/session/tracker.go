// Package session keeps the in-memory continuity state for active agent
// sessions and turns it into checkpoint digests. Nothing here touches
// disk until a checkpoint fires; the durable candidate rows live in the
// store's session_candidates table.
package session

import (
	"strings"
	"sync"
	"time"
)

const (
	maxQueryTerms = 20
	maxRemembers  = 10
	maxPrompts    = 10
	snippetChars  = 200
)

// State is one session's accumulated activity, snapshotted by
// ConsumeState. The slices are copies; callers own them.
type State struct {
	SessionKey   string
	PromptCount  int // prompts since the last checkpoint
	TotalPrompts int
	QueryTerms   []string
	Remembers    []string
	Prompts      []string
}

type entry struct {
	lastCheckpointAt time.Time
	promptsSinceLast int
	totalPrompts     int
	queryTerms       []string
	remembers        []string
	prompts          []string
}

// Tracker holds per-session ring buffers behind one mutex. Sessions are
// created lazily on first activity and dropped by Clear.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*entry
	now      func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

// SetClock overrides the tracker clock. Tests use it to cross
// checkpoint intervals without sleeping.
func (t *Tracker) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

func (t *Tracker) entryFor(key string) *entry {
	e := t.sessions[key]
	if e == nil {
		e = &entry{lastCheckpointAt: t.now()}
		t.sessions[key] = e
	}
	return e
}

// RecordPrompt notes one user prompt, keeping a truncated snippet.
func (t *Tracker) RecordPrompt(key, prompt string) {
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryFor(key)
	e.promptsSinceLast++
	e.totalPrompts++
	e.prompts = push(e.prompts, truncate(prompt), maxPrompts)
}

// RecordRemember notes content the session explicitly saved.
func (t *Tracker) RecordRemember(key, content string) {
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryFor(key)
	e.remembers = push(e.remembers, truncate(content), maxRemembers)
}

// RecordQuery notes the terms of one recall query, deduplicated against
// the terms already held.
func (t *Tracker) RecordQuery(key, query string) {
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryFor(key)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if contains(e.queryTerms, term) {
			continue
		}
		e.queryTerms = push(e.queryTerms, term, maxQueryTerms)
	}
}

// ShouldCheckpoint reports whether the session is due: either the
// interval has elapsed since the last checkpoint or enough prompts have
// accumulated. Sessions with no prompts are never due.
func (t *Tracker) ShouldCheckpoint(key string, interval time.Duration, promptInterval int) bool {
	if key == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.sessions[key]
	if e == nil || e.promptsSinceLast == 0 {
		return false
	}
	if promptInterval > 0 && e.promptsSinceLast >= promptInterval {
		return true
	}
	return interval > 0 && t.now().Sub(e.lastCheckpointAt) >= interval
}

// ConsumeState snapshots the session's accumulated activity and resets
// the interval counters and rings in the same critical section. Returns
// nil for an unknown session.
func (t *Tracker) ConsumeState(key string) *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.sessions[key]
	if e == nil {
		return nil
	}
	s := &State{
		SessionKey:   key,
		PromptCount:  e.promptsSinceLast,
		TotalPrompts: e.totalPrompts,
		QueryTerms:   append([]string(nil), e.queryTerms...),
		Remembers:    append([]string(nil), e.remembers...),
		Prompts:      append([]string(nil), e.prompts...),
	}
	e.promptsSinceLast = 0
	e.lastCheckpointAt = t.now()
	e.queryTerms = nil
	e.remembers = nil
	e.prompts = nil
	return s
}

// Clear drops a session's state entirely.
func (t *Tracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, key)
}

// ActiveSessions reports how many sessions hold state.
func (t *Tracker) ActiveSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func push(ring []string, v string, limit int) []string {
	if v == "" {
		return ring
	}
	ring = append(ring, v)
	if len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	return ring
}

func contains(ring []string, v string) bool {
	for _, r := range ring {
		if r == v {
			return true
		}
	}
	return false
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= snippetChars {
		return s
	}
	return string(runes[:snippetChars])
}
