// Package synthesis turns observations into a cited answer through the synthesis oracle
// and extracts structured citations from the markers it writes.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/srinidhi621/knowledge-atlas/models"
)

// Oracle is the external synthesis service. It receives every observation, failed ones
// included, and must cite evidence with markers in MarkerFormat.
type Oracle interface {
	Synthesize(ctx context.Context, query string, observations []models.Observation) (string, error)
}

// ErrEmptyAnswer is wrapped when the oracle returns only whitespace.
var ErrEmptyAnswer = errors.New("synthesis oracle returned an empty answer")

// SynthesisOracleError wraps a failure of the synthesis oracle.
type SynthesisOracleError struct {
	Err error
}

func (e *SynthesisOracleError) Error() string {
	return fmt.Sprintf("synthesis oracle: %v", e.Err)
}

func (e *SynthesisOracleError) Unwrap() error { return e.Err }

// Answer is the synthesized prose plus the citations that resolved against evidence.
type Answer struct {
	Text      string
	Citations []models.Citation
	// Unresolved lists markers kept in Text but excluded from Citations.
	Unresolved []string
	// Fallback is set when the answer was produced without the oracle.
	Fallback bool
}

// Synthesizer wraps the oracle.
type Synthesizer struct {
	oracle     Oracle
	logger     *zap.Logger
	snippetLen int
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the synthesizer logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSnippetLength bounds citation snippets in runes.
func WithSnippetLength(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.snippetLen = n
		}
	}
}

var synthesisTracer trace.Tracer = otel.Tracer("knowledge-atlas/internal/synthesis")

// New constructs a Synthesizer.
func New(oracle Oracle, opts ...Option) *Synthesizer {
	s := &Synthesizer{oracle: oracle, logger: zap.NewNop(), snippetLen: 280}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize produces the final answer. When no observation succeeded the oracle is not
// called and a deterministic explanation is returned instead.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, observations []models.Observation) (Answer, error) {
	ctx, span := synthesisTracer.Start(ctx, "synthesis.Synthesize", trace.WithAttributes(
		attribute.Int("observations", len(observations)),
	))
	defer span.End()

	if !anySucceeded(observations) {
		span.SetAttributes(attribute.Bool("synthesis.fallback", true))
		return s.Fallback(query, observations), nil
	}

	text, err := s.oracle.Synthesize(ctx, query, observations)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyAnswer
	}
	if err != nil {
		oerr := &SynthesisOracleError{Err: err}
		span.RecordError(oerr)
		span.SetStatus(codes.Error, oerr.Error())
		s.logger.Warn("synthesis oracle failed", zap.Error(err))
		return Answer{}, oerr
	}

	citations, unresolved := s.ExtractCitations(text, observations)
	if len(unresolved) > 0 {
		s.logger.Debug("dropped unresolved citation markers", zap.Strings("markers", unresolved))
	}
	span.SetAttributes(
		attribute.Int("citations", len(citations)),
		attribute.Int("citations.unresolved", len(unresolved)),
	)
	return Answer{Text: text, Citations: citations, Unresolved: unresolved}, nil
}

// ExtractCitations parses every marker in text. A marker becomes a citation only when it
// parses and its source and chunk appear in the evidence of a succeeded observation;
// everything else is reported as unresolved. The text itself is never modified.
func (s *Synthesizer) ExtractCitations(text string, observations []models.Observation) ([]models.Citation, []string) {
	idx := indexEvidence(observations)
	type key struct {
		source string
		chunk  int
		page   string
	}
	seen := make(map[key]struct{})
	var citations []models.Citation
	var unresolved []string

	for _, raw := range FindMarkers(text) {
		m, ok := ParseMarker(raw)
		if !ok {
			unresolved = append(unresolved, raw)
			continue
		}
		ev, known := idx[m.SourceID][m.ChunkIndex]
		if !known {
			unresolved = append(unresolved, raw)
			continue
		}
		c := models.Citation{
			SourceID:      m.SourceID,
			ChunkIndex:    m.ChunkIndex,
			PageOrSection: m.PageOrSection,
			TextSnippet:   truncate(collapse(ev.Text), s.snippetLen),
		}
		if c.PageOrSection == "" {
			c.PageOrSection = ev.PageOrSection
		}
		k := key{c.SourceID, c.ChunkIndex, c.PageOrSection}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		citations = append(citations, c)
	}
	return citations, unresolved
}

// Fallback returns the deterministic answer used when nothing succeeded.
func (s *Synthesizer) Fallback(query string, observations []models.Observation) Answer {
	var b strings.Builder
	fmt.Fprintf(&b, "I could not resolve %q from this notebook.", strings.TrimSpace(query))
	last := lastAttempts(observations)
	if len(last) == 0 {
		b.WriteString(" No tool calls were executed.")
		return Answer{Text: b.String(), Fallback: true}
	}
	b.WriteString(" None of the tool calls succeeded:")
	for _, o := range last {
		msg := "unknown error"
		if o.Error != nil {
			msg = o.Error.Error()
		}
		fmt.Fprintf(&b, "\n- step %d (%s) failed after %d attempt(s): %s", o.StepIndex, o.ToolName, o.AttemptCount, msg)
	}
	return Answer{Text: b.String(), Fallback: true}
}

func anySucceeded(observations []models.Observation) bool {
	for _, o := range observations {
		if o.Succeeded() {
			return true
		}
	}
	return false
}

func indexEvidence(observations []models.Observation) map[string]map[int]models.Evidence {
	idx := make(map[string]map[int]models.Evidence)
	for _, o := range observations {
		if !o.Succeeded() || o.Result == nil {
			continue
		}
		for _, ev := range o.Result.Evidence {
			if ev.SourceID == "" {
				continue
			}
			chunks, ok := idx[ev.SourceID]
			if !ok {
				chunks = make(map[int]models.Evidence)
				idx[ev.SourceID] = chunks
			}
			if _, exists := chunks[ev.ChunkIndex]; !exists {
				chunks[ev.ChunkIndex] = ev
			}
		}
	}
	return idx
}

// lastAttempts keeps the final attempt of each step, in step order.
func lastAttempts(observations []models.Observation) []models.Observation {
	var out []models.Observation
	pos := make(map[int]int)
	for _, o := range observations {
		if i, ok := pos[o.StepIndex]; ok {
			out[i] = o
			continue
		}
		pos[o.StepIndex] = len(out)
		out = append(out, o)
	}
	return out
}
