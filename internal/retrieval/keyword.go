package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/dyluth/sevai/internal/logging"
	"github.com/dyluth/sevai/internal/producer"
)

// Chunking defaults, in words.
const (
	DefaultChunkSize    = 120
	DefaultChunkOverlap = 20
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "in": true, "is": true, "it": true, "of": true,
	"on": true, "or": true, "the": true, "to": true, "with": true,
}

// ChunkOptions control how documents are split.
type ChunkOptions struct {
	Size    int
	Overlap int
}

type chunk struct {
	doc   *Document
	index int
	text  string
	terms map[string]bool
}

// KeywordIndex is an immutable in-memory index, safe for concurrent use.
type KeywordIndex struct {
	chunks []chunk
	logger *zap.Logger
}

var _ producer.Retriever = (*KeywordIndex)(nil)

// NewKeywordIndex chunks and indexes docs. Zero options use the defaults.
func NewKeywordIndex(docs []Document, opts ChunkOptions, logger *zap.Logger) (*KeywordIndex, error) {
	if opts.Size == 0 {
		opts.Size = DefaultChunkSize
	}
	if opts.Overlap == 0 && opts.Size > DefaultChunkOverlap {
		opts.Overlap = DefaultChunkOverlap
	}
	if opts.Size < 1 || opts.Overlap < 0 || opts.Overlap >= opts.Size {
		return nil, fmt.Errorf("invalid chunking: size %d, overlap %d", opts.Size, opts.Overlap)
	}

	idx := &KeywordIndex{logger: logging.OrNop(logger).Named("retrieval")}
	for i := range docs {
		d := &docs[i]
		for ci, text := range Chunk(d.Text, opts.Size, opts.Overlap) {
			idx.chunks = append(idx.chunks, chunk{doc: d, index: ci, text: text, terms: termSet(text)})
		}
	}
	idx.logger.Info("Knowledge index built", zap.Int("documents", len(docs)), zap.Int("chunks", len(idx.chunks)))
	return idx, nil
}

// Chunk splits text into windows of size words that overlap by overlap words.
func Chunk(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := size - overlap
	var out []string
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

// Len is the number of indexed chunks.
func (k *KeywordIndex) Len() int { return len(k.chunks) }

// Retrieve returns up to topK chunks sharing terms with query, best first.
// The score is the fraction of query terms present in the chunk.
func (k *KeywordIndex) Retrieve(ctx context.Context, query string, topK int) ([]producer.ContextDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = producer.DefaultTopK
	}
	q := termSet(query)
	if len(q) == 0 {
		return []producer.ContextDocument{}, nil
	}

	type hit struct {
		c     *chunk
		score float64
	}
	var hits []hit
	for i := range k.chunks {
		c := &k.chunks[i]
		var shared int
		for t := range q {
			if c.terms[t] {
				shared++
			}
		}
		if shared > 0 {
			hits = append(hits, hit{c: c, score: float64(shared) / float64(len(q))})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	out := make([]producer.ContextDocument, 0, min(len(hits), topK))
	for _, h := range hits[:min(len(hits), topK)] {
		md := map[string]any{
			"doc_id":   h.c.doc.ID,
			"chunk_id": h.c.index,
		}
		if h.c.doc.Source != "" {
			md["source"] = h.c.doc.Source
		}
		if h.c.doc.Topic != "" {
			md["topic"] = h.c.doc.Topic
		}
		for key, v := range h.c.doc.Metadata {
			if _, taken := md[key]; !taken {
				md[key] = v
			}
		}
		out = append(out, producer.ContextDocument{Text: h.c.text, Score: h.score, Metadata: md})
	}
	k.logger.Debug("Retrieved context", zap.Int("query_terms", len(q)), zap.Int("hits", len(hits)), zap.Int("returned", len(out)))
	return out, nil
}

func termSet(text string) map[string]bool {
	terms := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if !stopwords[w] {
			terms[w] = true
		}
	}
	return terms
}
