package models

// RetrievedChunk is a unit of retrievable statute text together with its
// citation metadata. Score and Rank are populated per search call and are
// not stored.
type RetrievedChunk struct {
	ChunkID         string   `json:"chunk_id"`
	Text            string   `json:"text"`
	LawName         *string  `json:"law_name,omitempty"`
	ArticleNo       *string  `json:"article_no,omitempty"`
	Section         *string  `json:"section,omitempty"`
	Tags            *string  `json:"tags,omitempty"`
	Source          *string  `json:"source,omitempty"`
	SimilarityScore *float64 `json:"score,omitempty"`
	Rank            int      `json:"rank,omitempty"` // 1-based position after reranking
}

// Citation is the user-facing subset of a retrieved chunk. A citation must
// always correspond to a chunk that was actually retrieved in the same turn.
type Citation struct {
	ChunkID   string  `json:"chunk_id"`
	LawName   *string `json:"law_name,omitempty"`
	ArticleNo *string `json:"article_no,omitempty"`
	Section   *string `json:"section,omitempty"`
	Source    *string `json:"source,omitempty"`
}

// CitationOf projects a retrieved chunk down to its citable fields.
func CitationOf(chunk RetrievedChunk) Citation {
	return Citation{
		ChunkID:   chunk.ChunkID,
		LawName:   chunk.LawName,
		ArticleNo: chunk.ArticleNo,
		Section:   chunk.Section,
		Source:    chunk.Source,
	}
}

// VectorHit is a nearest-neighbor match from the vector index.
type VectorHit struct {
	ChunkID string
	Score   float64
}
