package synthesis

import (
	"testing"

	"github.com/srinidhi621/knowledge-atlas/models"
)

func TestParseMarker(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		ok   bool
		want Marker
	}{
		{raw: "[cite:report.pdf#3]", ok: true, want: Marker{SourceID: "report.pdf", ChunkIndex: 3}},
		{raw: "[cite:report.pdf#12@p. 4]", ok: true, want: Marker{SourceID: "report.pdf", ChunkIndex: 12, PageOrSection: "p. 4"}},
		{raw: "[cite: sales.csv#0 ]", ok: true, want: Marker{SourceID: "sales.csv", ChunkIndex: 0}},
		{raw: "[cite:notes v2.md#1@Section 2#b]", ok: true, want: Marker{SourceID: "notes v2.md", ChunkIndex: 1, PageOrSection: "Section 2#b"}},
		{raw: "[cite:report.pdf]", ok: false},
		{raw: "[cite:report.pdf#two]", ok: false},
		{raw: "[cite:#4]", ok: false},
		{raw: "[cite:]", ok: false},
		{raw: "[source:report.pdf#1]", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseMarker(tc.raw)
		if ok != tc.ok {
			t.Fatalf("ParseMarker(%q) ok = %v, want %v", tc.raw, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if got.SourceID != tc.want.SourceID || got.ChunkIndex != tc.want.ChunkIndex || got.PageOrSection != tc.want.PageOrSection {
			t.Fatalf("ParseMarker(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
		if got.Raw != tc.raw {
			t.Fatalf("ParseMarker(%q) kept raw %q", tc.raw, got.Raw)
		}
	}
}

func TestMarkerString(t *testing.T) {
	t.Parallel()
	if got := (Marker{SourceID: "a.pdf", ChunkIndex: 2}).String(); got != "[cite:a.pdf#2]" {
		t.Fatalf("unexpected marker %q", got)
	}
	if got := (Marker{SourceID: "a.pdf", ChunkIndex: 2, PageOrSection: "p. 9"}).String(); got != "[cite:a.pdf#2@p. 9]" {
		t.Fatalf("unexpected marker %q", got)
	}
}

func TestFormatCitation(t *testing.T) {
	t.Parallel()
	c := models.Citation{
		SourceID:      "10-K.pdf",
		PageOrSection: "p. 41",
		ChunkIndex:    7,
		TextSnippet:   "Revenue increased   12% year over year,\n driven by services.",
	}

	got := FormatCitation(c)
	want := `[10-K.pdf#7, p. 41] "Revenue increased 12% year over year, driven by services."`
	if got != want {
		t.Fatalf("FormatCitation() = %q, want %q", got, want)
	}
}

func TestFormatCitationTruncatesSnippet(t *testing.T) {
	t.Parallel()
	c := models.Citation{
		SourceID:    "memo.docx",
		TextSnippet: "Über-long snippet that should be truncated for neat citation summaries.",
	}

	got := FormatCitation(c, WithMaxSnippetLength(20))
	want := `[memo.docx#0] "Über-long snippet th…"`
	if got != want {
		t.Fatalf("FormatCitation() = %q, want %q", got, want)
	}
}

func TestFormatCitationsBatch(t *testing.T) {
	t.Parallel()
	items := FormatCitations([]models.Citation{{SourceID: "A"}, {SourceID: "B", ChunkIndex: 1}})
	if len(items) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(items))
	}
	if items[0] != "[A#0]" || items[1] != "[B#1]" {
		t.Fatalf("unexpected entries %#v", items)
	}
	if FormatCitations(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}
