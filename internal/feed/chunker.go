// Package feed watches a directory of markdown notes and ingests them
// as memories. Files are chunked along their header structure so recall
// surfaces sections, not whole documents.
package feed

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Chunk is one ingestible slice of a markdown file. Paragraph chunks
// come from sections that overran the target size; they re-carry the
// section header so the context survives the split.
type Chunk struct {
	Text      string
	Section   string
	Paragraph bool
}

var (
	headerRe   = regexp.MustCompile(`^(#{1,3})\s+(.+?)\s*$`)
	datePrefix = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[-_ ]*(.*)$`)
	slugStrip  = regexp.MustCompile(`[^a-z0-9]+`)
)

// SplitMarkdown slices content into section chunks. Headers from # to
// ### open a new section and stay in its text; deeper headers are plain
// body. Sections longer than targetChars split into paragraph chunks.
func SplitMarkdown(content string, targetChars int) []Chunk {
	if targetChars <= 0 {
		targetChars = 1200
	}

	var chunks []Chunk
	var header string
	var body []string

	flush := func() {
		chunks = append(chunks, buildChunks(header, strings.Join(body, "\n"), targetChars)...)
		body = body[:0]
	}

	for _, line := range strings.Split(content, "\n") {
		if m := headerRe.FindStringSubmatch(line); m != nil {
			flush()
			header = line
			continue
		}
		body = append(body, line)
	}
	flush()
	return chunks
}

func buildChunks(header, body string, targetChars int) []Chunk {
	body = strings.TrimSpace(body)
	if body == "" && header == "" {
		return nil
	}
	section := sectionSlug(header)

	text := body
	if header != "" {
		if body == "" {
			text = header
		} else {
			text = header + "\n\n" + body
		}
	}
	if len(text) <= targetChars {
		return []Chunk{{Text: text, Section: section}}
	}

	// Oversized section: one chunk per paragraph, header re-attached.
	var out []Chunk
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		text := para
		if header != "" {
			text = header + "\n\n" + para
		}
		out = append(out, Chunk{Text: text, Section: section, Paragraph: true})
	}
	return out
}

func sectionSlug(header string) string {
	m := headerRe.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return slug(m[2])
}

func slug(s string) string {
	s = slugStrip.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}

// FileTags derives tags from a note's filename: the slugged name, plus
// a separate date tag when the name starts with YYYY-MM-DD.
func FileTags(path string) []string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var tags []string
	if m := datePrefix.FindStringSubmatch(base); m != nil {
		tags = append(tags, m[1])
		base = m[2]
	}
	if s := slug(base); s != "" {
		tags = append(tags, s)
	}
	return tags
}
