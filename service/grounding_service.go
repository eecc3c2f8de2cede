package service

import "lawsim-backend/models"

// GroundingVerdict is the guard's decision for one turn: which citations
// may be shown, the tone to present them with, and whether the consuming
// stage may assert a firm conclusion at all.
type GroundingVerdict struct {
	Citations           []models.Citation
	Emotion             models.Emotion
	MayAssertConclusion bool
}

// defaultCitationCount is how many retrieved chunks are attributed when a
// proposing component's citations did not validate.
const defaultCitationCount = 3

// GroundingGuard is the single gate every stage passes through before
// emitting a firm conclusion. It never lets a citation through whose
// chunk id was not actually retrieved in the same turn.
type GroundingGuard struct{}

// NewGroundingGuard creates a new grounding guard
func NewGroundingGuard() *GroundingGuard {
	return &GroundingGuard{}
}

// Decide filters the proposed chunk ids down to those present in the
// retrieved set (order preserved, duplicates dropped). With nothing
// retrieved the stage must not conclude: no citations, serious tone.
// With retrieval but no valid proposals, the top retrieved chunks are
// attributed instead.
func (g *GroundingGuard) Decide(retrieved []models.RetrievedChunk, proposed []string, emotion models.Emotion) GroundingVerdict {
	if len(retrieved) == 0 {
		return GroundingVerdict{
			Citations:           []models.Citation{},
			Emotion:             models.EmotionSerious,
			MayAssertConclusion: false,
		}
	}

	byID := make(map[string]models.RetrievedChunk, len(retrieved))
	for _, chunk := range retrieved {
		if _, ok := byID[chunk.ChunkID]; !ok {
			byID[chunk.ChunkID] = chunk
		}
	}

	citations := make([]models.Citation, 0, len(proposed))
	used := make(map[string]struct{}, len(proposed))
	for _, chunkID := range proposed {
		chunk, ok := byID[chunkID]
		if !ok {
			continue
		}
		if _, dup := used[chunkID]; dup {
			continue
		}
		used[chunkID] = struct{}{}
		citations = append(citations, models.CitationOf(chunk))
	}

	if len(citations) == 0 {
		// We found something; attribute it even though the proposed
		// citations didn't validate.
		for _, chunk := range retrieved {
			if len(citations) == defaultCitationCount {
				break
			}
			if _, dup := used[chunk.ChunkID]; dup {
				continue
			}
			used[chunk.ChunkID] = struct{}{}
			citations = append(citations, models.CitationOf(chunk))
		}
	}

	if emotion == "" {
		emotion = models.EmotionCalm
	}
	return GroundingVerdict{
		Citations:           citations,
		Emotion:             emotion,
		MayAssertConclusion: true,
	}
}
