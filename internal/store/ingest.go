package store

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/types"
)

// The remember pipeline: prefix parsing, type inference, hash dedupe,
// the insert transaction, then a best-effort embedding outside it. The
// HTTP surface and the markdown feed both enter here.

// criticalPrefix pins a memory at full importance. Matched
// case-insensitively at the very start of the raw text.
const criticalPrefix = "critical:"

// tagPrefixRe matches the "[tag1, tag2]: body" shorthand.
var tagPrefixRe = regexp.MustCompile(`^\[([^\[\]]+)\]:\s*`)

// typeHints maps content substrings to inferred memory types, checked in
// order; the first hit wins. Scanning is over the lowercased content.
var typeHints = []struct {
	hint       string
	memoryType string
}{
	{"prefer", types.TypePreference},
	{"likes", types.TypePreference},
	{"want", types.TypePreference},
	{"decided", types.TypeDecision},
	{"agreed", types.TypeDecision},
	{"will use", types.TypeDecision},
	{"learned", types.TypeLearning},
	{"til ", types.TypeLearning},
	{"bug", types.TypeIssue},
	{"never", types.TypeRule},
	{"always", types.TypeRule},
	{"must", types.TypeRule},
}

// ParsedContent is the outcome of prefix parsing on raw remember input.
type ParsedContent struct {
	Content  string
	Tags     []string
	Critical bool
}

// ParseRememberContent strips the critical: prefix and the bracketed tag
// shorthand from raw input. The remaining body is the stored content.
func ParseRememberContent(raw string) ParsedContent {
	p := ParsedContent{Content: strings.TrimSpace(raw)}

	if len(p.Content) >= len(criticalPrefix) &&
		strings.EqualFold(p.Content[:len(criticalPrefix)], criticalPrefix) {
		p.Critical = true
		p.Content = strings.TrimSpace(p.Content[len(criticalPrefix):])
	}

	if m := tagPrefixRe.FindStringSubmatch(p.Content); m != nil {
		p.Tags = types.NormalizeTags(strings.Split(m[1], ","))
		p.Content = strings.TrimSpace(p.Content[len(m[0]):])
	}

	return p
}

// InferType scans lowercased content against the ordered hint table.
// Content matching no hint is a plain fact.
func InferType(content string) string {
	lower := strings.ToLower(content)
	for _, h := range typeHints {
		if strings.Contains(lower, h.hint) {
			return h.memoryType
		}
	}
	return types.TypeFact
}

// RememberOptions carries the config-derived knobs for one remember
// call. The daemon builds one per request from loaded config.
type RememberOptions struct {
	// DefaultImportance applies when the caller supplies none. Zero
	// means the stock 0.8.
	DefaultImportance float64

	// MaxContentChars rejects oversized payloads. Zero disables the
	// check (tests and trusted internal callers).
	MaxContentChars int

	// EnqueueExtraction queues an extraction job for the new row.
	EnqueueExtraction bool

	// EmbedModel names the model recorded alongside a produced vector.
	EmbedModel string

	// EmbedTimeout bounds the post-commit embedding call. Zero means
	// 30 seconds.
	EmbedTimeout time.Duration
}

// Remember runs the full ingest pipeline. The insert commits before any
// embedding work starts, so a dead provider can only cost semantic
// recall, never the write. On a content-hash collision the existing row
// is returned with Deduplicated=true and nothing else happens.
func (s *Store) Remember(ctx context.Context, req types.RememberRequest, opts RememberOptions, mc types.MutationContext) (*types.RememberResult, error) {
	parsed := ParseRememberContent(req.Content)
	if parsed.Content == "" {
		return nil, types.E(types.KindBadRequest, "content is empty")
	}
	if opts.MaxContentChars > 0 && len(parsed.Content) > opts.MaxContentChars {
		return nil, types.Ef(types.KindBadRequest, "content exceeds %d chars", opts.MaxContentChars)
	}

	// critical: locks pinned and full importance; otherwise the caller's
	// explicit values win over defaults.
	importance := opts.DefaultImportance
	if importance <= 0 {
		importance = 0.8
	}
	if req.Importance != nil {
		importance = clampUnit(*req.Importance)
	}
	pinned := req.Pinned != nil && *req.Pinned
	if parsed.Critical {
		pinned = true
		importance = 1.0
	}

	tags := append(append([]string{}, parsed.Tags...), req.Tags...)

	memory, dedup, err := s.Ingest(ctx, IngestParams{
		Content:           parsed.Content,
		Type:              InferType(parsed.Content),
		Tags:              tags,
		Importance:        importance,
		Pinned:            pinned,
		Who:               req.Who,
		Project:           req.Project,
		SourceType:        req.SourceType,
		SourceID:          req.SourceID,
		EnqueueExtraction: opts.EnqueueExtraction,
	}, mc)
	if err != nil {
		return nil, err
	}

	result := &types.RememberResult{
		ID:           memory.ID,
		Type:         memory.Type,
		Tags:         memory.Tags,
		Pinned:       memory.Pinned,
		Importance:   memory.Importance,
		Content:      memory.Content,
		Deduplicated: dedup,
	}
	if dedup {
		return result, nil
	}

	// Post-commit embedding, bounded and best-effort.
	if s.embedder != nil {
		timeout := opts.EmbedTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		embedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		if vec := s.embedder.EmbedOrNil(embedCtx, memory.Content); vec != nil {
			if err := s.UpsertEmbedding(embedCtx, memory.ID, memory.ContentHash, vec, memory.Content, opts.EmbedModel); err != nil {
				logging.IngestWarn("embedding upsert failed for %s: %v", memory.ID, err)
			} else {
				result.Embedded = true
			}
		} else {
			logging.IngestDebug("no embedding for %s; tracker will backfill", memory.ID)
		}
	}

	logging.Ingest("remembered %s type=%s pinned=%v embedded=%v", memory.ID, memory.Type, memory.Pinned, result.Embedded)
	return result, nil
}
