package ai

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

type chunk struct {
	source string
	index  int
	text   string
	terms  map[string]int
	vector []float32
}

func newChunk(source string, index int, text string) chunk {
	terms := make(map[string]int)
	for _, term := range tokenize(text) {
		terms[term]++
	}
	return chunk{source: source, index: index, text: text, terms: terms}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// queryTerms drops very short words, which are mostly stop words.
func queryTerms(query string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, term := range tokenize(query) {
		if len([]rune(term)) < 3 {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

// selectChunks ranks chunks by query term overlap and returns at most k. When
// nothing matches, the leading chunks are used so broad questions still see
// the start of the documents.
func selectChunks(chunks []chunk, query string, k int) []chunk {
	if len(chunks) == 0 || k <= 0 {
		return nil
	}

	terms := queryTerms(query)
	type scored struct {
		chunk chunk
		score int
	}
	ranked := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		score := 0
		for _, term := range terms {
			score += c.terms[term]
		}
		if score > 0 {
			ranked = append(ranked, scored{chunk: c, score: score})
		}
	}

	if len(ranked) == 0 {
		return chunks[:min(k, len(chunks))]
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]chunk, 0, min(k, len(ranked)))
	for _, r := range ranked[:min(k, len(ranked))] {
		out = append(out, r.chunk)
	}
	return out
}

// retrieve picks the excerpts for query. With an embedder configured chunks
// are ranked by cosine similarity to the embedded query; otherwise by term
// overlap.
func (b *Backend) retrieve(ctx context.Context, pool []chunk, query string) ([]chunk, error) {
	if b.opts.Embedder == nil || strings.TrimSpace(query) == "" || !hasVectors(pool) {
		return selectChunks(pool, query, b.opts.TopK), nil
	}

	vector, err := b.opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return rankByVector(pool, vector, b.opts.TopK), nil
}

func hasVectors(chunks []chunk) bool {
	for _, c := range chunks {
		if len(c.vector) > 0 {
			return true
		}
	}
	return false
}

// rankByVector returns the k chunks closest to query. Chunks without a
// vector of the same dimension are skipped.
func rankByVector(chunks []chunk, query []float32, k int) []chunk {
	if len(chunks) == 0 || k <= 0 {
		return nil
	}

	type scored struct {
		chunk chunk
		score float64
	}
	ranked := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		if len(c.vector) != len(query) {
			continue
		}
		ranked = append(ranked, scored{chunk: c, score: cosine(c.vector, query)})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]chunk, 0, min(k, len(ranked)))
	for _, r := range ranked[:min(k, len(ranked))] {
		out = append(out, r.chunk)
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
