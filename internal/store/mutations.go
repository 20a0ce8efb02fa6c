package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/types"
)

// This file holds the transaction closures behind every memory mutation.
// Each closure runs inside one WithWriteTx call and obeys two invariants:
// a successful mutation bumps the row version by exactly one, and writes
// exactly one history event. Rejected mutations leave the row untouched
// and write nothing.

// ===== Ingest =====

// IngestParams is the fully-resolved input to the insert closure. Parsing
// (critical prefix, tag extraction, type inference) happens upstream in
// the pipeline; by the time a row reaches the store it is final.
type IngestParams struct {
	Content    string
	Type       string
	Tags       []string
	Importance float64
	Pinned     bool
	Who        string
	Why        string
	Project    string
	SourceType string
	SourceID   string

	// EnqueueExtraction queues an extraction job in the same transaction
	// as the insert, so a crash can never strand a pending status with
	// no job behind it.
	EnqueueExtraction bool
}

// Ingest inserts a memory, deduplicating by content hash against live
// rows. On a duplicate the existing memory is returned with dedup=true
// and nothing is written.
func (s *Store) Ingest(ctx context.Context, p IngestParams, mc types.MutationContext) (*types.Memory, bool, error) {
	normalized := types.NormalizeContent(p.Content)
	hash := types.ContentHash(p.Content)

	var result *types.Memory
	var dedup bool
	err := s.WithWriteTx(ctx, func(tx DBTX) error {
		existing, err := liveMemoryByHash(ctx, tx, hash)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			dedup = true
			return nil
		}

		now := s.now()
		m := &types.Memory{
			ID:                uuid.NewString(),
			Content:           p.Content,
			NormalizedContent: normalized,
			ContentHash:       hash,
			Type:              p.Type,
			Tags:              types.NormalizeTags(p.Tags),
			Importance:        p.Importance,
			Pinned:            p.Pinned,
			Version:           1,
			Who:               p.Who,
			Why:               p.Why,
			Project:           p.Project,
			SourceType:        p.SourceType,
			SourceID:          p.SourceID,
			ExtractionStatus:  types.ExtractionNone,
			CreatedAt:         now,
			UpdatedAt:         now,
			UpdatedBy:         mc.ActorType,
		}
		if err := insertMemory(ctx, tx, m); err != nil {
			return err
		}
		if err := insertHistory(ctx, tx, now, types.HistoryEvent{
			MemoryID:   m.ID,
			Event:      types.EventCreated,
			NewContent: m.Content,
			ChangedBy:  mc.ActorType,
			ActorType:  mc.ActorType,
			SessionID:  mc.SessionID,
			RequestID:  mc.RequestID,
		}); err != nil {
			return err
		}
		if p.EnqueueExtraction {
			if err := enqueueJobTx(ctx, tx, now, m.ID, types.JobTypeExtract); err != nil {
				return err
			}
			m.ExtractionStatus = types.ExtractionPending
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if dedup {
		logging.IngestDebug("Dedup hit for hash %s -> %s", hash[:12], result.ID)
	}
	return result, dedup, nil
}

func insertMemory(ctx context.Context, tx DBTX, m *types.Memory) error {
	pinned := 0
	if m.Pinned {
		pinned = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memories (id, content, normalized_content, content_hash, type, tags, importance, pinned,
			is_deleted, version, access_count, who, why, project, source_type, source_id,
			embedding_model, extraction_status, extraction_model, created_at, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?, ?, ?, ?, '', ?, '', ?, ?, ?)`,
		m.ID, m.Content, m.NormalizedContent, m.ContentHash, m.Type, types.JoinTags(m.Tags),
		m.Importance, pinned, m.Version, m.Who, m.Why, m.Project, m.SourceType, m.SourceID,
		m.ExtractionStatus, formatTime(m.CreatedAt), formatTime(m.UpdatedAt), m.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// ===== Modify =====

// ModifyParams carries the requested field changes. Nil pointers mean
// "leave alone"; ExpectedVersion nil skips optimistic locking.
type ModifyParams struct {
	ID              string
	Content         *string
	Type            *string
	Tags            *[]string
	Importance      *float64
	Pinned          *bool
	Who             *string
	Why             *string
	Project         *string
	ExpectedVersion *int64
	Reason          string
}

// ModifyOutcome reports the closure result. Memory is the post-update row
// on ModifyUpdated, the colliding row on ModifyDuplicateContent, and the
// unchanged row on ModifyNoChanges.
type ModifyOutcome struct {
	Status types.ModifyStatus
	Memory *types.Memory
}

// Modify applies a field-level update with optimistic version checking.
// A content change recomputes the hash, re-runs dedupe against live rows,
// and invalidates the stored embedding so the tracker re-embeds it.
func (s *Store) Modify(ctx context.Context, p ModifyParams, mc types.MutationContext) (*ModifyOutcome, error) {
	out := &ModifyOutcome{}
	err := s.WithWriteTx(ctx, func(tx DBTX) error {
		m, err := getMemoryTx(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if m == nil {
			out.Status = types.ModifyNotFound
			return nil
		}
		if m.IsDeleted {
			out.Status = types.ModifyDeleted
			out.Memory = m
			return nil
		}
		if p.ExpectedVersion != nil && *p.ExpectedVersion != m.Version {
			out.Status = types.ModifyVersionConflict
			out.Memory = m
			return nil
		}

		set := []string{}
		args := []interface{}{}
		changed := []string{}
		oldContent := ""
		newContent := ""
		contentChanged := false

		if p.Content != nil && *p.Content != m.Content {
			content := *p.Content
			normalized := types.NormalizeContent(content)
			hash := types.ContentHash(content)
			if hash != m.ContentHash {
				dup, err := liveMemoryByHash(ctx, tx, hash)
				if err != nil {
					return err
				}
				if dup != nil && dup.ID != m.ID {
					out.Status = types.ModifyDuplicateContent
					out.Memory = dup
					return nil
				}
			}
			set = append(set, "content = ?", "normalized_content = ?", "content_hash = ?")
			args = append(args, content, normalized, hash)
			changed = append(changed, "content")
			oldContent, newContent = m.Content, content
			contentChanged = true
		}
		if p.Type != nil && *p.Type != m.Type {
			set = append(set, "type = ?")
			args = append(args, *p.Type)
			changed = append(changed, "type")
		}
		if p.Tags != nil {
			newTags := types.JoinTags(*p.Tags)
			if newTags != types.JoinTags(m.Tags) {
				set = append(set, "tags = ?")
				args = append(args, newTags)
				changed = append(changed, "tags")
			}
		}
		if p.Importance != nil && *p.Importance != m.Importance {
			set = append(set, "importance = ?")
			args = append(args, clampUnit(*p.Importance))
			changed = append(changed, "importance")
		}
		if p.Pinned != nil && *p.Pinned != m.Pinned {
			pinned := 0
			if *p.Pinned {
				pinned = 1
			}
			set = append(set, "pinned = ?")
			args = append(args, pinned)
			changed = append(changed, "pinned")
		}
		if p.Who != nil && *p.Who != m.Who {
			set = append(set, "who = ?")
			args = append(args, *p.Who)
			changed = append(changed, "who")
		}
		if p.Why != nil && *p.Why != m.Why {
			set = append(set, "why = ?")
			args = append(args, *p.Why)
			changed = append(changed, "why")
		}
		if p.Project != nil && *p.Project != m.Project {
			set = append(set, "project = ?")
			args = append(args, *p.Project)
			changed = append(changed, "project")
		}

		if len(changed) == 0 {
			out.Status = types.ModifyNoChanges
			out.Memory = m
			return nil
		}

		now := s.now()
		if contentChanged {
			// Stale vectors describe text that no longer exists.
			set = append(set, "embedding_model = ''")
			if err := deleteEmbeddingsTx(ctx, tx, s.hasVec, m.ID); err != nil {
				return err
			}
		}
		set = append(set, "version = version + 1", "updated_at = ?", "updated_by = ?")
		args = append(args, formatTime(now), mc.ActorType, m.ID, m.Version)

		res, err := tx.ExecContext(ctx,
			"UPDATE memories SET "+strings.Join(set, ", ")+" WHERE id = ? AND version = ?", args...)
		if err != nil {
			return fmt.Errorf("update memory: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			out.Status = types.ModifyVersionConflict
			out.Memory = m
			return nil
		}

		meta, _ := json.Marshal(map[string]interface{}{"fields": changed})
		if err := insertHistory(ctx, tx, now, types.HistoryEvent{
			MemoryID:   m.ID,
			Event:      types.EventUpdated,
			OldContent: oldContent,
			NewContent: newContent,
			ChangedBy:  mc.ActorType,
			ActorType:  mc.ActorType,
			SessionID:  mc.SessionID,
			RequestID:  mc.RequestID,
			Reason:     p.Reason,
			Metadata:   string(meta),
		}); err != nil {
			return err
		}

		updated, err := getMemoryTx(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		out.Status = types.ModifyUpdated
		out.Memory = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ===== Forget =====

// ForgetParams asks for a soft delete. Force lets operators delete pinned
// memories; autonomous actors can never force.
type ForgetParams struct {
	ID              string
	ExpectedVersion *int64
	Force           bool
	Reason          string
}

// ForgetOutcome reports the closure result.
type ForgetOutcome struct {
	Status types.ForgetStatus
	Memory *types.Memory
}

// Forget soft-deletes a memory. The row stays recoverable until the
// retention sweep hard-deletes it.
func (s *Store) Forget(ctx context.Context, p ForgetParams, mc types.MutationContext) (*ForgetOutcome, error) {
	out := &ForgetOutcome{}
	err := s.WithWriteTx(ctx, func(tx DBTX) error {
		m, err := getMemoryTx(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if m == nil {
			out.Status = types.ForgetNotFound
			return nil
		}
		if m.IsDeleted {
			out.Status = types.ForgetAlreadyDeleted
			out.Memory = m
			return nil
		}
		if p.ExpectedVersion != nil && *p.ExpectedVersion != m.Version {
			out.Status = types.ForgetVersionConflict
			out.Memory = m
			return nil
		}
		if m.Pinned {
			if !p.Force {
				out.Status = types.ForgetPinnedNeedsForce
				out.Memory = m
				return nil
			}
			if mc.ActorType != types.ActorOperator {
				out.Status = types.ForgetAutonomousDenied
				out.Memory = m
				return nil
			}
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET is_deleted = 1, deleted_at = ?, version = version + 1, updated_at = ?, updated_by = ?
			WHERE id = ?`, formatTime(now), formatTime(now), mc.ActorType, m.ID); err != nil {
			return fmt.Errorf("soft delete memory: %w", err)
		}
		if err := insertHistory(ctx, tx, now, types.HistoryEvent{
			MemoryID:   m.ID,
			Event:      types.EventDeleted,
			OldContent: m.Content,
			ChangedBy:  mc.ActorType,
			ActorType:  mc.ActorType,
			SessionID:  mc.SessionID,
			RequestID:  mc.RequestID,
			Reason:     p.Reason,
		}); err != nil {
			return err
		}

		deleted, err := getMemoryTx(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		out.Status = types.ForgetDeleted
		out.Memory = deleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ===== Recover =====

// RecoverParams asks for an un-delete of a soft-deleted memory.
type RecoverParams struct {
	ID              string
	ExpectedVersion *int64
	Reason          string
}

// RecoverOutcome reports the closure result.
type RecoverOutcome struct {
	Status types.RecoverStatus
	Memory *types.Memory
}

// Recover restores a soft-deleted memory if it is still inside the
// retention window. A live row holding the same content hash blocks
// recovery with a duplicate_content_hash error.
func (s *Store) Recover(ctx context.Context, p RecoverParams, retention time.Duration, mc types.MutationContext) (*RecoverOutcome, error) {
	out := &RecoverOutcome{}
	err := s.WithWriteTx(ctx, func(tx DBTX) error {
		m, err := getMemoryTx(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if m == nil {
			out.Status = types.RecoverNotFound
			return nil
		}
		if !m.IsDeleted {
			out.Status = types.RecoverNotDeleted
			out.Memory = m
			return nil
		}
		if p.ExpectedVersion != nil && *p.ExpectedVersion != m.Version {
			out.Status = types.RecoverVersionConflict
			out.Memory = m
			return nil
		}
		if m.DeletedAt != nil && s.now().Sub(*m.DeletedAt) > retention {
			out.Status = types.RecoverRetentionExpired
			out.Memory = m
			return nil
		}

		dup, err := liveMemoryByHash(ctx, tx, m.ContentHash)
		if err != nil {
			return err
		}
		if dup != nil {
			return types.Ef(types.KindDuplicateContentHash,
				"cannot recover %s: live memory %s holds the same content", m.ID, dup.ID)
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET is_deleted = 0, deleted_at = NULL, version = version + 1, updated_at = ?, updated_by = ?
			WHERE id = ?`, formatTime(now), mc.ActorType, m.ID); err != nil {
			return fmt.Errorf("recover memory: %w", err)
		}
		if err := insertHistory(ctx, tx, now, types.HistoryEvent{
			MemoryID:   m.ID,
			Event:      types.EventRecovered,
			NewContent: m.Content,
			ChangedBy:  mc.ActorType,
			ActorType:  mc.ActorType,
			SessionID:  mc.SessionID,
			RequestID:  mc.RequestID,
			Reason:     p.Reason,
		}); err != nil {
			return err
		}

		recovered, err := getMemoryTx(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		out.Status = types.RecoverRecovered
		out.Memory = recovered
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ===== Extraction decisions =====

// DecisionParams is one proposal from the extraction model: update a
// memory's content, delete it, or merge several memories into one.
type DecisionParams struct {
	Kind       types.DecisionKind
	TargetID   string
	SourceID   string
	NewContent string
	MergeIDs   []string
	Confidence float64
	Model      string
	Reason     string
}

// DecisionOutcome reports what ApplyDecision did.
type DecisionOutcome struct {
	Status   string
	MemoryID string
}

// Decision outcomes.
const (
	DecisionApplied          = "applied"
	DecisionSkippedNotFound  = "skipped_not_found"
	DecisionSkippedPinned    = "skipped_pinned"
	DecisionSkippedDeleted   = "skipped_deleted"
	DecisionSkippedDuplicate = "skipped_duplicate"
)

// ApplyDecision executes one extraction decision in a single transaction.
// Pinned rows are never touched by autonomous decisions; conflicts are
// reported as skips rather than errors so the worker can keep going.
func (s *Store) ApplyDecision(ctx context.Context, d DecisionParams, mc types.MutationContext) (*DecisionOutcome, error) {
	out := &DecisionOutcome{}
	err := s.WithWriteTx(ctx, func(tx DBTX) error {
		switch d.Kind {
		case types.DecisionUpdate:
			return s.applyUpdateDecision(ctx, tx, d, mc, out)
		case types.DecisionDelete:
			return s.applyDeleteDecision(ctx, tx, d, mc, out)
		case types.DecisionMerge:
			return s.applyMergeDecision(ctx, tx, d, mc, out)
		default:
			return types.Ef(types.KindBadRequest, "unknown decision kind %q", d.Kind)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) applyUpdateDecision(ctx context.Context, tx DBTX, d DecisionParams, mc types.MutationContext, out *DecisionOutcome) error {
	m, err := getMemoryTx(ctx, tx, d.TargetID)
	if err != nil {
		return err
	}
	if m == nil {
		out.Status = DecisionSkippedNotFound
		return nil
	}
	if m.IsDeleted {
		out.Status = DecisionSkippedDeleted
		return nil
	}
	if m.Pinned {
		out.Status = DecisionSkippedPinned
		return nil
	}

	hash := types.ContentHash(d.NewContent)
	if hash != m.ContentHash {
		dup, err := liveMemoryByHash(ctx, tx, hash)
		if err != nil {
			return err
		}
		if dup != nil && dup.ID != m.ID {
			out.Status = DecisionSkippedDuplicate
			out.MemoryID = dup.ID
			return nil
		}
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE memories SET content = ?, normalized_content = ?, content_hash = ?, embedding_model = '',
			version = version + 1, updated_at = ?, updated_by = ?
		WHERE id = ?`,
		d.NewContent, types.NormalizeContent(d.NewContent), hash,
		formatTime(now), mc.ActorType, m.ID); err != nil {
		return fmt.Errorf("apply update decision: %w", err)
	}
	if err := deleteEmbeddingsTx(ctx, tx, s.hasVec, m.ID); err != nil {
		return err
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"decision": string(d.Kind), "confidence": d.Confidence, "model": d.Model, "source_memory": d.SourceID,
	})
	if err := insertHistory(ctx, tx, now, types.HistoryEvent{
		MemoryID:   m.ID,
		Event:      types.EventUpdated,
		OldContent: m.Content,
		NewContent: d.NewContent,
		ChangedBy:  mc.ActorType,
		ActorType:  mc.ActorType,
		SessionID:  mc.SessionID,
		RequestID:  mc.RequestID,
		Reason:     d.Reason,
		Metadata:   string(meta),
	}); err != nil {
		return err
	}
	out.Status = DecisionApplied
	out.MemoryID = m.ID
	return nil
}

func (s *Store) applyDeleteDecision(ctx context.Context, tx DBTX, d DecisionParams, mc types.MutationContext, out *DecisionOutcome) error {
	m, err := getMemoryTx(ctx, tx, d.TargetID)
	if err != nil {
		return err
	}
	if m == nil {
		out.Status = DecisionSkippedNotFound
		return nil
	}
	if m.IsDeleted {
		out.Status = DecisionSkippedDeleted
		return nil
	}
	if m.Pinned {
		out.Status = DecisionSkippedPinned
		return nil
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE memories SET is_deleted = 1, deleted_at = ?, version = version + 1, updated_at = ?, updated_by = ?
		WHERE id = ?`, formatTime(now), formatTime(now), mc.ActorType, m.ID); err != nil {
		return fmt.Errorf("apply delete decision: %w", err)
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"decision": string(d.Kind), "confidence": d.Confidence, "model": d.Model, "source_memory": d.SourceID,
	})
	if err := insertHistory(ctx, tx, now, types.HistoryEvent{
		MemoryID:   m.ID,
		Event:      types.EventDeleted,
		OldContent: m.Content,
		ChangedBy:  mc.ActorType,
		ActorType:  mc.ActorType,
		SessionID:  mc.SessionID,
		RequestID:  mc.RequestID,
		Reason:     d.Reason,
		Metadata:   string(meta),
	}); err != nil {
		return err
	}
	out.Status = DecisionApplied
	out.MemoryID = m.ID
	return nil
}

func (s *Store) applyMergeDecision(ctx context.Context, tx DBTX, d DecisionParams, mc types.MutationContext, out *DecisionOutcome) error {
	ids := append([]string{d.TargetID}, d.MergeIDs...)
	sources := make([]*types.Memory, 0, len(ids))
	for _, id := range ids {
		m, err := getMemoryTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if m == nil || m.IsDeleted {
			out.Status = DecisionSkippedNotFound
			out.MemoryID = id
			return nil
		}
		if m.Pinned {
			out.Status = DecisionSkippedPinned
			out.MemoryID = id
			return nil
		}
		sources = append(sources, m)
	}
	if len(sources) < 2 {
		return types.Ef(types.KindBadRequest, "merge needs at least two memories, got %d", len(sources))
	}

	content := d.NewContent
	if content == "" {
		parts := make([]string, len(sources))
		for i, m := range sources {
			parts[i] = m.Content
		}
		content = strings.Join(parts, "\n")
	}
	hash := types.ContentHash(content)
	if dup, err := liveMemoryByHash(ctx, tx, hash); err != nil {
		return err
	} else if dup != nil {
		out.Status = DecisionSkippedDuplicate
		out.MemoryID = dup.ID
		return nil
	}

	var tags []string
	importance := 0.0
	for _, m := range sources {
		tags = append(tags, m.Tags...)
		if m.Importance > importance {
			importance = m.Importance
		}
	}

	now := s.now()
	merged := &types.Memory{
		ID:                uuid.NewString(),
		Content:           content,
		NormalizedContent: types.NormalizeContent(content),
		ContentHash:       hash,
		Type:              sources[0].Type,
		Tags:              types.NormalizeTags(tags),
		Importance:        importance,
		Version:           1,
		Who:               sources[0].Who,
		Project:           sources[0].Project,
		SourceType:        "merge",
		SourceID:          d.SourceID,
		ExtractionStatus:  types.ExtractionDone,
		CreatedAt:         now,
		UpdatedAt:         now,
		UpdatedBy:         mc.ActorType,
	}
	if err := insertMemory(ctx, tx, merged); err != nil {
		return err
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"decision": string(d.Kind), "confidence": d.Confidence, "model": d.Model,
		"merged_into": merged.ID, "merged_from": ids,
	})
	if err := insertHistory(ctx, tx, now, types.HistoryEvent{
		MemoryID:   merged.ID,
		Event:      types.EventCreated,
		NewContent: merged.Content,
		ChangedBy:  mc.ActorType,
		ActorType:  mc.ActorType,
		SessionID:  mc.SessionID,
		RequestID:  mc.RequestID,
		Reason:     d.Reason,
		Metadata:   string(meta),
	}); err != nil {
		return err
	}

	for _, m := range sources {
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET is_deleted = 1, deleted_at = ?, version = version + 1, updated_at = ?, updated_by = ?
			WHERE id = ?`, formatTime(now), formatTime(now), mc.ActorType, m.ID); err != nil {
			return fmt.Errorf("soft delete merge source %s: %w", m.ID, err)
		}
		if err := insertHistory(ctx, tx, now, types.HistoryEvent{
			MemoryID:   m.ID,
			Event:      types.EventMerged,
			OldContent: m.Content,
			ChangedBy:  mc.ActorType,
			ActorType:  mc.ActorType,
			SessionID:  mc.SessionID,
			RequestID:  mc.RequestID,
			Reason:     d.Reason,
			Metadata:   string(meta),
		}); err != nil {
			return err
		}
	}

	out.Status = DecisionApplied
	out.MemoryID = merged.ID
	return nil
}

// ===== Access finalization =====

// FinalizeAccess bumps rehearsal counters for every id in one write
// transaction. It is deliberately not a mutation: no version bump and no
// history, so a recall never shows up in the audit trail.
func (s *Store) FinalizeAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := formatTime(s.now())
	return s.WithWriteTx(ctx, func(tx DBTX) error {
		placeholders := strings.Repeat("?,", len(ids))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]interface{}, 0, len(ids)+1)
		args = append(args, now)
		for _, id := range ids {
			args = append(args, id)
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id IN ("+placeholders+")",
			args...)
		if err != nil {
			return fmt.Errorf("finalize access: %w", err)
		}
		return nil
	})
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
