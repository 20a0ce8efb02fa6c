package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/signetai/signet/internal/types"
)

const (
	sessionStartLimit  = 20
	injectBudgetChars  = 2000
	injectSnippetChars = 240
)

type sessionStartRequest struct {
	Harness    string `json:"harness"`
	SessionKey string `json:"sessionKey,omitempty"`
}

type sessionCandidate struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
}

// handleSessionStart composes the memory block a harness injects into a
// fresh session: top memories by effective score, pinned rows first,
// bounded by a character budget.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	scored, err := s.store.SessionStartCandidates(r.Context(), sessionStartLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var block strings.Builder
	block.WriteString("## Memory\n")
	budget := injectBudgetChars - block.Len()

	candidates := make([]sessionCandidate, 0, len(scored))
	records := make([]types.SessionCandidate, 0, len(scored))
	for _, sm := range scored {
		m := sm.Memory
		line := fmt.Sprintf("- [%s] %s\n", m.Type, snippet(m.Content))
		injected := len(line) <= budget
		if injected {
			block.WriteString(line)
			budget -= len(line)
		}
		candidates = append(candidates, sessionCandidate{
			ID:      m.ID,
			Content: m.Content,
			Score:   sm.Score,
			Source:  "session_start",
		})
		records = append(records, types.SessionCandidate{
			SessionKey: req.SessionKey,
			MemoryID:   m.ID,
			Score:      sm.Score,
			Source:     "session_start",
			Injected:   injected,
		})
	}

	if req.SessionKey != "" {
		if err := s.store.RecordSessionCandidates(r.Context(), req.SessionKey, records); err != nil {
			writeError(w, r, err)
			return
		}
	}

	inject := ""
	if len(candidates) > 0 {
		inject = block.String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"inject":     inject,
		"candidates": candidates,
	})
}

func snippet(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= injectSnippetChars {
		return content
	}
	return string(runes[:injectSnippetChars]) + "…"
}

type promptHookRequest struct {
	SessionKey string `json:"sessionKey"`
	Prompt     string `json:"prompt"`
}

// handlePromptHook records prompt activity and runs the checkpoint
// digest when the session is due.
func (s *Server) handlePromptHook(w http.ResponseWriter, r *http.Request) {
	var req promptHookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SessionKey == "" {
		writeError(w, r, types.E(types.KindBadRequest, "sessionKey is required"))
		return
	}

	digest, err := s.sessions.NotePrompt(r.Context(), req.SessionKey, req.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := map[string]interface{}{"recorded": true, "checkpointed": digest != nil}
	if digest != nil {
		resp["checkpointId"] = digest.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
