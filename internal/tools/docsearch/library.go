// Package docsearch implements the search_documents tool over per-notebook bleve indexes.
package docsearch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"go.uber.org/zap"
)

// ErrNoIndex is returned when a notebook has no document index.
var ErrNoIndex = errors.New("notebook has no document index")

var notebookIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Chunk is one indexed passage of a source document.
type Chunk struct {
	SourceID      string
	ChunkIndex    int
	PageOrSection string
	Text          string
}

// DocID is the bleve document id of the chunk.
func (c Chunk) DocID() string {
	return fmt.Sprintf("%s#%d", c.SourceID, c.ChunkIndex)
}

// Library owns one bleve index per notebook. With an empty dir indexes live in memory.
type Library struct {
	dir     string
	logger  *zap.Logger
	mu      sync.Mutex
	indexes map[string]bleve.Index
}

// NewLibrary returns a library rooted at dir.
func NewLibrary(dir string, logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{dir: dir, logger: logger, indexes: make(map[string]bleve.Index)}
}

func (l *Library) path(notebookID string) string {
	return filepath.Join(l.dir, notebookID+".bleve")
}

// index returns the open index for the notebook. create controls whether a missing
// index is created.
func (l *Library) index(notebookID string, create bool) (bleve.Index, error) {
	if !notebookIDPattern.MatchString(notebookID) {
		return nil, fmt.Errorf("invalid notebook id %q", notebookID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx, ok := l.indexes[notebookID]; ok {
		return idx, nil
	}
	var (
		idx bleve.Index
		err error
	)
	switch {
	case l.dir == "" && !create:
		return nil, ErrNoIndex
	case l.dir == "":
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	default:
		idx, err = bleve.Open(l.path(notebookID))
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			if !create {
				return nil, ErrNoIndex
			}
			if err = os.MkdirAll(l.dir, 0o755); err != nil {
				return nil, err
			}
			idx, err = bleve.New(l.path(notebookID), bleve.NewIndexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open index for %s: %w", notebookID, err)
	}
	l.indexes[notebookID] = idx
	return idx, nil
}

// AddChunks indexes chunks into the notebook's index, creating it when needed.
func (l *Library) AddChunks(notebookID string, chunks ...Chunk) error {
	idx, err := l.index(notebookID, true)
	if err != nil {
		return err
	}
	batch := idx.NewBatch()
	for _, c := range chunks {
		if strings.TrimSpace(c.SourceID) == "" {
			return fmt.Errorf("chunk %d: source id required", c.ChunkIndex)
		}
		doc := map[string]interface{}{
			"source_id":   c.SourceID,
			"chunk_index": c.ChunkIndex,
			"page":        c.PageOrSection,
			"text":        c.Text,
		}
		if err := batch.Index(c.DocID(), doc); err != nil {
			return err
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	l.logger.Debug("chunks indexed", zap.String("notebook_id", notebookID), zap.Int("chunks", len(chunks)))
	return nil
}

// Hit is one search result.
type Hit struct {
	Chunk
	Score float64
}

// Search runs a match query and returns up to limit hits, best first. Ties break on doc id.
func (l *Library) Search(notebookID, q string, limit int) ([]Hit, error) {
	idx, err := l.index(notebookID, false)
	if err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), limit, 0, false)
	req.Fields = []string{"source_id", "chunk_index", "page", "text"}
	req.SortBy([]string{"-_score", "_id"})
	res, err := idx.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{Score: h.Score}
		hit.SourceID, _ = h.Fields["source_id"].(string)
		hit.PageOrSection, _ = h.Fields["page"].(string)
		hit.Text, _ = h.Fields["text"].(string)
		if n, ok := h.Fields["chunk_index"].(float64); ok {
			hit.ChunkIndex = int(n)
		}
		out = append(out, hit)
	}
	return out, nil
}

// Close closes every open index.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for id, idx := range l.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(l.indexes, id)
	}
	return errors.Join(errs...)
}

// ChunkText splits text into chunks of roughly size runes on paragraph boundaries.
// Form feeds mark page breaks; pages are numbered from 1 and recorded as "p. N".
func ChunkText(sourceID, text string, size int) []Chunk {
	if size <= 0 {
		size = 1200
	}
	var (
		out  []Chunk
		buf  strings.Builder
		page string
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			out = append(out, Chunk{SourceID: sourceID, ChunkIndex: len(out), PageOrSection: page, Text: s})
		}
		buf.Reset()
	}
	pages := strings.Split(text, "\f")
	for i, p := range pages {
		if len(pages) > 1 {
			flush()
			page = fmt.Sprintf("p. %d", i+1)
		}
		for _, para := range strings.Split(p, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			if buf.Len() > 0 && len([]rune(buf.String()))+len([]rune(para)) > size {
				flush()
			}
			if buf.Len() > 0 {
				buf.WriteString("\n\n")
			}
			buf.WriteString(para)
		}
	}
	flush()
	return out
}
