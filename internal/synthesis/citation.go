package synthesis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/srinidhi621/knowledge-atlas/models"
)

// MarkerFormat documents the citation marker grammar the synthesis oracle must emit.
const MarkerFormat = "[cite:<source_id>#<chunk_index>] or [cite:<source_id>#<chunk_index>@<page_or_section>]"

var (
	// markerPattern finds anything shaped like a marker; parseMarker decides if it is valid.
	markerPattern = regexp.MustCompile(`\[cite:[^\]]*\]`)
	markerBody    = regexp.MustCompile(`^([^#@\s][^#]*?)#(\d+)(?:@(.+))?$`)
)

// Marker is one citation marker as written in the answer.
type Marker struct {
	Raw           string
	SourceID      string
	ChunkIndex    int
	PageOrSection string
}

// Marker renders m in canonical form.
func (m Marker) String() string {
	if m.PageOrSection != "" {
		return fmt.Sprintf("[cite:%s#%d@%s]", m.SourceID, m.ChunkIndex, m.PageOrSection)
	}
	return fmt.Sprintf("[cite:%s#%d]", m.SourceID, m.ChunkIndex)
}

// FindMarkers returns the marker-shaped substrings of text in order of appearance.
func FindMarkers(text string) []string {
	return markerPattern.FindAllString(text, -1)
}

// ParseMarker parses a single "[cite:...]" token.
func ParseMarker(raw string) (Marker, bool) {
	if !strings.HasPrefix(raw, "[cite:") || !strings.HasSuffix(raw, "]") {
		return Marker{}, false
	}
	body := strings.TrimSpace(raw[len("[cite:") : len(raw)-1])
	m := markerBody.FindStringSubmatch(body)
	if m == nil {
		return Marker{}, false
	}
	idx, err := strconv.Atoi(m[2])
	if err != nil {
		return Marker{}, false
	}
	source := strings.TrimSpace(m[1])
	if source == "" {
		return Marker{}, false
	}
	return Marker{
		Raw:           raw,
		SourceID:      source,
		ChunkIndex:    idx,
		PageOrSection: strings.TrimSpace(m[3]),
	}, true
}

// citationConfig controls formatting behaviour.
type citationConfig struct {
	maxSnippet int
}

// CitationOption configures citation formatting.
type CitationOption func(*citationConfig)

// WithMaxSnippetLength truncates snippets to n runes (default 180).
func WithMaxSnippetLength(n int) CitationOption {
	return func(cfg *citationConfig) {
		if n > 0 {
			cfg.maxSnippet = n
		}
	}
}

// FormatCitation renders a citation on one line:
// [source#chunk, page] "Snippet"
func FormatCitation(c models.Citation, opts ...CitationOption) string {
	cfg := citationConfig{maxSnippet: 180}
	for _, opt := range opts {
		opt(&cfg)
	}

	sourceID := strings.TrimSpace(c.SourceID)
	if sourceID == "" {
		sourceID = "source"
	}
	ref := fmt.Sprintf("%s#%d", sourceID, c.ChunkIndex)
	if page := strings.TrimSpace(c.PageOrSection); page != "" {
		ref += ", " + page
	}

	parts := []string{"[" + ref + "]"}
	if snippet := formatSnippet(c.TextSnippet, cfg.maxSnippet); snippet != "" {
		parts = append(parts, snippet)
	}
	return strings.Join(parts, " ")
}

// FormatCitations renders a collection of citations.
func FormatCitations(citations []models.Citation, opts ...CitationOption) []string {
	if len(citations) == 0 {
		return nil
	}
	out := make([]string, 0, len(citations))
	for _, c := range citations {
		out = append(out, FormatCitation(c, opts...))
	}
	return out
}

func formatSnippet(snippet string, limit int) string {
	snippet = collapse(snippet)
	if snippet == "" {
		return ""
	}
	snippet = truncate(snippet, limit)
	return `"` + strings.Trim(snippet, `"`) + `"`
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
