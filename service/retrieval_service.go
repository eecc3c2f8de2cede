package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"lawsim-backend/models"
)

// ErrRetrievalUnavailable indicates the embedding provider, vector index
// or chunk store failed. Dialogue callers must treat it as "no evidence",
// never as a fatal error for the turn.
var ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")

// VectorIndex is the nearest-neighbor search contract.
type VectorIndex interface {
	Search(ctx context.Context, embedding []float64, topK int) ([]models.VectorHit, error)
}

// ChunkStore resolves chunk ids to stored metadata. Ids without metadata
// are absent from the result, not an error.
type ChunkStore interface {
	GetByIDs(ctx context.Context, chunkIDs []string) (map[string]models.RetrievedChunk, error)
}

// RetrievalService turns a free-text query into ranked, citable chunks:
// embed, nearest-neighbor search, metadata fetch, keyword rerank.
type RetrievalService struct {
	embedder EmbeddingProvider
	index    VectorIndex
	chunks   ChunkStore
}

// NewRetrievalService creates a new retrieval service
func NewRetrievalService(embedder EmbeddingProvider, index VectorIndex, chunks ChunkStore) *RetrievalService {
	return &RetrievalService{embedder: embedder, index: index, chunks: chunks}
}

// Search returns up to topK chunks ordered by vector similarity plus
// keyword bonus. The result may be empty; any backend failure is mapped
// to ErrRetrievalUnavailable.
func (s *RetrievalService) Search(ctx context.Context, query string, topK int) ([]models.RetrievedChunk, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", ErrRetrievalUnavailable, err)
	}

	hits, err := s.index.Search(ctx, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", ErrRetrievalUnavailable, err)
	}
	if len(hits) == 0 {
		return []models.RetrievedChunk{}, nil
	}

	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.ChunkID)
	}

	metadata, err := s.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk fetch: %v", ErrRetrievalUnavailable, err)
	}

	// Preserve similarity order; ids the store no longer knows are
	// dropped silently (index/store drift is tolerated).
	ordered := make([]models.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		chunk, ok := metadata[hit.ChunkID]
		if !ok {
			continue
		}
		score := hit.Score
		chunk.SimilarityScore = &score
		ordered = append(ordered, chunk)
	}

	reranked := rerankByKeyword(query, ordered)
	for i := range reranked {
		reranked[i].Rank = i + 1
	}
	return reranked, nil
}

var (
	asciiTermRe = regexp.MustCompile(`[A-Za-z0-9_]{2,}`)
	cjkTermRe   = regexp.MustCompile(`[\x{4e00}-\x{9fff}]{2,}`)
)

// extractQueryTerms returns alphanumeric tokens and contiguous CJK runs
// of length >= 2, order-preserving and de-duplicated.
func extractQueryTerms(query string) []string {
	var terms []string
	terms = append(terms, asciiTermRe.FindAllString(strings.ToLower(query), -1)...)
	terms = append(terms, cjkTermRe.FindAllString(query, -1)...)

	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

// Field weights for the keyword bonus. A term can score against
// multiple fields.
const (
	bonusLawName   = 0.25
	bonusArticleNo = 0.20
	bonusSection   = 0.15
	bonusTags      = 0.12
	bonusText      = 0.08

	textMatchWindow = 500 // leading runes of chunk text considered
)

// rerankByKeyword re-sorts chunks by similarity plus lexical bonus.
// Ties are broken by the original index ascending, which keeps the
// ordering fully deterministic.
func rerankByKeyword(query string, items []models.RetrievedChunk) []models.RetrievedChunk {
	terms := extractQueryTerms(query)
	if len(terms) == 0 || len(items) == 0 {
		return items
	}

	type scored struct {
		score float64
		idx   int
	}
	ranked := make([]scored, len(items))
	for idx, item := range items {
		base := 0.0
		if item.SimilarityScore != nil {
			base = *item.SimilarityScore
		}
		law := strings.ToLower(deref(item.LawName))
		article := strings.ToLower(deref(item.ArticleNo))
		section := strings.ToLower(deref(item.Section))
		tags := strings.ToLower(deref(item.Tags))
		text := strings.ToLower(leadingRunes(item.Text, textMatchWindow))

		bonus := 0.0
		for _, term := range terms {
			tl := strings.ToLower(term)
			if strings.Contains(law, tl) {
				bonus += bonusLawName
			}
			if strings.Contains(article, tl) {
				bonus += bonusArticleNo
			}
			if strings.Contains(section, tl) {
				bonus += bonusSection
			}
			if strings.Contains(tags, tl) {
				bonus += bonusTags
			}
			if strings.Contains(text, tl) {
				bonus += bonusText
			}
		}
		ranked[idx] = scored{score: base + bonus, idx: idx}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].idx < ranked[j].idx
	})

	out := make([]models.RetrievedChunk, len(items))
	for i, r := range ranked {
		out[i] = items[r.idx]
	}
	return out
}

func leadingRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
