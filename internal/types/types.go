// Package types provides shared type definitions used across signet packages.
// This package exists to break import cycles between store, pipeline, and
// server code. Types in this package should be foundational data structures
// with no complex dependencies.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// MEMORY
// =============================================================================

// Memory types. The type column is a free string; these are the values the
// ingest pipeline infers and the extraction pipeline emits.
const (
	TypeFact           = "fact"
	TypePreference     = "preference"
	TypeDecision       = "decision"
	TypeRationale      = "rationale"
	TypeIssue          = "issue"
	TypeRule           = "rule"
	TypeLearning       = "learning"
	TypeSessionSummary = "session_summary"
)

// Extraction status values for Memory.ExtractionStatus.
const (
	ExtractionNone    = "none"
	ExtractionPending = "pending"
	ExtractionDone    = "done"
	ExtractionFailed  = "failed"
)

// Memory is the atomic unit of the store. Content is free-form text;
// NormalizedContent and ContentHash exist for dedupe only.
type Memory struct {
	ID                string     `json:"id"`
	Content           string     `json:"content"`
	NormalizedContent string     `json:"-"`
	ContentHash       string     `json:"content_hash,omitempty"`
	Type              string     `json:"type"`
	Tags              []string   `json:"tags"`
	Importance        float64    `json:"importance"`
	Pinned            bool       `json:"pinned"`
	IsDeleted         bool       `json:"is_deleted,omitempty"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
	Version           int64      `json:"version"`
	AccessCount       int64      `json:"access_count"`
	LastAccessed      *time.Time `json:"last_accessed,omitempty"`
	Who               string     `json:"who,omitempty"`
	Why               string     `json:"why,omitempty"`
	Project           string     `json:"project,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	UpdatedBy         string     `json:"updated_by,omitempty"`
	SourceType        string     `json:"source_type,omitempty"`
	SourceID          string     `json:"source_id,omitempty"`
	EmbeddingModel    string     `json:"embedding_model,omitempty"`
	ExtractionStatus  string     `json:"extraction_status,omitempty"`
	ExtractionModel   string     `json:"extraction_model,omitempty"`
}

// =============================================================================
// MUTATION CONTEXT & AUDIT
// =============================================================================

// Actor types recorded on every history event.
const (
	ActorOperator = "operator"
	ActorAgent    = "agent"
	ActorPipeline = "pipeline"
	ActorDaemon   = "daemon"
	ActorHarness  = "harness"
)

// MutationContext identifies who is performing a mutation. It is threaded
// through every transaction closure into the history log.
type MutationContext struct {
	ActorType string `json:"actor_type"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// History event kinds.
const (
	EventCreated   = "created"
	EventUpdated   = "updated"
	EventDeleted   = "deleted"
	EventRecovered = "recovered"
	EventMerged    = "merged"
	EventNone      = "none"
)

// SystemMemoryID is the memory_id used for synthetic history events that
// describe store-wide operations (repair actions, sweeps) rather than a
// single row.
const SystemMemoryID = "system"

// HistoryEvent is one append-only audit row. Immutable after insert.
type HistoryEvent struct {
	ID         int64     `json:"id"`
	MemoryID   string    `json:"memory_id"`
	Event      string    `json:"event"`
	OldContent string    `json:"old_content,omitempty"`
	NewContent string    `json:"new_content,omitempty"`
	ChangedBy  string    `json:"changed_by,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Metadata   string    `json:"metadata,omitempty"`
	ActorType  string    `json:"actor_type"`
	SessionID  string    `json:"session_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// =============================================================================
// JOBS
// =============================================================================

// Job statuses. A worker claims a job by atomically transitioning a pending
// or stale-leased row to leased with its own lease timestamp.
const (
	JobPending = "pending"
	JobLeased  = "leased"
	JobDone    = "done"
	JobDead    = "dead"
)

// JobTypeExtract is the only job type currently enqueued.
const JobTypeExtract = "extract"

// MemoryJob is one extraction queue row.
type MemoryJob struct {
	ID        string     `json:"id"`
	MemoryID  string     `json:"memory_id"`
	JobType   string     `json:"job_type"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	LeasedAt  *time.Time `json:"leased_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// =============================================================================
// GRAPH
// =============================================================================

// Entity is one node of the tiny knowledge graph used to boost recall.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// EntityMention joins a memory to an entity.
type EntityMention struct {
	EntityID string `json:"entity_id"`
	MemoryID string `json:"memory_id"`
}

// =============================================================================
// SESSIONS
// =============================================================================

// SessionCandidate records that a memory was considered for a session.
type SessionCandidate struct {
	SessionKey string    `json:"session_key"`
	MemoryID   string    `json:"memory_id"`
	Score      float64   `json:"score"`
	Source     string    `json:"source"`
	Injected   bool      `json:"injected"`
	FtsHit     bool      `json:"fts_hit"`
	CreatedAt  time.Time `json:"created_at"`
}

// =============================================================================
// RECALL
// =============================================================================

// Recall result sources.
const (
	SourceHybrid  = "hybrid"
	SourceVector  = "vector"
	SourceKeyword = "keyword"
	SourceGraph   = "graph"
)

// Recall methods reported on the response envelope.
const (
	MethodHybrid  = "hybrid"
	MethodKeyword = "keyword"
)

// RecallResult is one shaped row of a recall response.
type RecallResult struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	ContentLength int       `json:"content_length"`
	Truncated     bool      `json:"truncated"`
	Score         float64   `json:"score"`
	Source        string    `json:"source"`
	Type          string    `json:"type"`
	Tags          []string  `json:"tags"`
	Pinned        bool      `json:"pinned"`
	Importance    float64   `json:"importance"`
	Who           string    `json:"who,omitempty"`
	Project       string    `json:"project,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Supplementary bool      `json:"supplementary,omitempty"`
}

// RecallFilters narrows recall and keyword search. Zero values mean no
// filter; Tags matches any-of.
type RecallFilters struct {
	Type          string     `json:"type,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Who           string     `json:"who,omitempty"`
	Pinned        *bool      `json:"pinned,omitempty"`
	ImportanceMin *float64   `json:"importance_min,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
	Until         *time.Time `json:"until,omitempty"`
}

// =============================================================================
// INGEST
// =============================================================================

// RememberRequest is the input to the ingest pipeline. Importance and Pinned
// are pointers so the pipeline can tell "absent" from "zero".
type RememberRequest struct {
	Content    string   `json:"content"`
	Who        string   `json:"who,omitempty"`
	Project    string   `json:"project,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Pinned     *bool    `json:"pinned,omitempty"`
	SourceType string   `json:"source_type,omitempty"`
	SourceID   string   `json:"source_id,omitempty"`
	SessionKey string   `json:"sessionKey,omitempty"`
}

// RememberResult reports what the ingest pipeline stored.
type RememberResult struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Tags         []string `json:"tags"`
	Pinned       bool     `json:"pinned"`
	Importance   float64  `json:"importance"`
	Content      string   `json:"content"`
	Embedded     bool     `json:"embedded"`
	Deduplicated bool     `json:"deduplicated,omitempty"`
}

// =============================================================================
// MUTATION STATUSES
// =============================================================================

// ModifyStatus is the outcome of a Modify transaction.
type ModifyStatus string

const (
	ModifyUpdated          ModifyStatus = "updated"
	ModifyNotFound         ModifyStatus = "not_found"
	ModifyDeleted          ModifyStatus = "deleted"
	ModifyVersionConflict  ModifyStatus = "version_conflict"
	ModifyDuplicateContent ModifyStatus = "duplicate_content_hash"
	ModifyNoChanges        ModifyStatus = "no_changes"
)

// ForgetStatus is the outcome of a Forget transaction.
type ForgetStatus string

const (
	ForgetDeleted          ForgetStatus = "deleted"
	ForgetNotFound         ForgetStatus = "not_found"
	ForgetAlreadyDeleted   ForgetStatus = "already_deleted"
	ForgetVersionConflict  ForgetStatus = "version_conflict"
	ForgetPinnedNeedsForce ForgetStatus = "pinned_requires_force"
	ForgetAutonomousDenied ForgetStatus = "autonomous_force_denied"
)

// RecoverStatus is the outcome of a Recover transaction.
type RecoverStatus string

const (
	RecoverRecovered        RecoverStatus = "recovered"
	RecoverNotFound         RecoverStatus = "not_found"
	RecoverNotDeleted       RecoverStatus = "not_deleted"
	RecoverVersionConflict  RecoverStatus = "version_conflict"
	RecoverRetentionExpired RecoverStatus = "retention_expired"
)

// DecisionKind names the relationship an extraction decision proposes.
type DecisionKind string

const (
	DecisionUpdate DecisionKind = "update"
	DecisionDelete DecisionKind = "delete"
	DecisionMerge  DecisionKind = "merge"
)

// =============================================================================
// TAG HELPERS
// =============================================================================

// NormalizeTags lowercases, trims, and de-dupes tags preserving first
// occurrence order. Empty tags are dropped.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// JoinTags renders a normalized tag list into the comma-joined storage form.
func JoinTags(tags []string) string {
	return strings.Join(NormalizeTags(tags), ",")
}

// SplitTags parses the comma-joined storage form back into a tag list.
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return NormalizeTags(strings.Split(s, ","))
}
