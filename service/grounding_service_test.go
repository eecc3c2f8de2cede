package service

import (
	"fmt"
	"math/rand"
	"testing"

	"lawsim-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkWithID(id string) models.RetrievedChunk {
	law := "中华人民共和国民法典"
	article := "第七百零四条"
	return models.RetrievedChunk{
		ChunkID:   id,
		Text:      "租赁合同的内容一般包括租赁物的名称、数量、用途、租赁期限、租金及其支付期限和方式等条款。",
		LawName:   &law,
		ArticleNo: &article,
	}
}

func TestGroundingGuardNoEvidence(t *testing.T) {
	guard := NewGroundingGuard()

	verdict := guard.Decide(nil, []string{"c1"}, models.EmotionCalm)

	assert.False(t, verdict.MayAssertConclusion)
	assert.Equal(t, models.EmotionSerious, verdict.Emotion)
	assert.NotNil(t, verdict.Citations)
	assert.Empty(t, verdict.Citations)
}

func TestGroundingGuardFiltersUnretrievedIDs(t *testing.T) {
	guard := NewGroundingGuard()
	retrieved := []models.RetrievedChunk{chunkWithID("c1"), chunkWithID("c2")}

	verdict := guard.Decide(retrieved, []string{"c2", "made-up", "c1", "c2"}, models.EmotionSupportive)

	require.True(t, verdict.MayAssertConclusion)
	require.Len(t, verdict.Citations, 2)
	// Proposed order preserved, duplicates and unknown ids dropped.
	assert.Equal(t, "c2", verdict.Citations[0].ChunkID)
	assert.Equal(t, "c1", verdict.Citations[1].ChunkID)
	assert.Equal(t, models.EmotionSupportive, verdict.Emotion)
}

func TestGroundingGuardFallsBackToTopRetrieved(t *testing.T) {
	guard := NewGroundingGuard()
	retrieved := []models.RetrievedChunk{
		chunkWithID("c1"), chunkWithID("c2"), chunkWithID("c3"), chunkWithID("c4"),
	}

	verdict := guard.Decide(retrieved, []string{"unknown-a", "unknown-b"}, models.EmotionCalm)

	require.True(t, verdict.MayAssertConclusion)
	require.Len(t, verdict.Citations, 3)
	assert.Equal(t, "c1", verdict.Citations[0].ChunkID)
	assert.Equal(t, "c2", verdict.Citations[1].ChunkID)
	assert.Equal(t, "c3", verdict.Citations[2].ChunkID)
}

func TestGroundingGuardFallbackDeduplicates(t *testing.T) {
	guard := NewGroundingGuard()
	retrieved := []models.RetrievedChunk{
		chunkWithID("c1"), chunkWithID("c1"), chunkWithID("c2"),
	}

	verdict := guard.Decide(retrieved, nil, models.EmotionCalm)

	require.Len(t, verdict.Citations, 2)
	assert.Equal(t, "c1", verdict.Citations[0].ChunkID)
	assert.Equal(t, "c2", verdict.Citations[1].ChunkID)
}

func TestGroundingGuardDefaultsEmotionToCalm(t *testing.T) {
	guard := NewGroundingGuard()
	retrieved := []models.RetrievedChunk{chunkWithID("c1")}

	verdict := guard.Decide(retrieved, []string{"c1"}, "")

	assert.Equal(t, models.EmotionCalm, verdict.Emotion)
}

func TestGroundingGuardNeverCitesOutsideRetrievedSet(t *testing.T) {
	guard := NewGroundingGuard()
	rng := rand.New(rand.NewSource(42))
	emotions := []models.Emotion{models.EmotionCalm, models.EmotionSerious, models.EmotionSupportive, ""}

	for trial := 0; trial < 500; trial++ {
		retrieved := make([]models.RetrievedChunk, rng.Intn(7))
		retrievedIDs := make(map[string]struct{}, len(retrieved))
		for i := range retrieved {
			// Small id space so duplicates and overlaps happen often.
			id := fmt.Sprintf("c%d", rng.Intn(8))
			retrieved[i] = chunkWithID(id)
			retrievedIDs[id] = struct{}{}
		}

		proposed := make([]string, rng.Intn(10))
		for i := range proposed {
			// Twice the id space: roughly half the proposals are fabricated.
			proposed[i] = fmt.Sprintf("c%d", rng.Intn(16))
		}

		verdict := guard.Decide(retrieved, proposed, emotions[rng.Intn(len(emotions))])

		if len(retrieved) == 0 {
			assert.Empty(t, verdict.Citations, "trial %d", trial)
			assert.False(t, verdict.MayAssertConclusion, "trial %d", trial)
			continue
		}
		require.True(t, verdict.MayAssertConclusion, "trial %d", trial)
		seen := make(map[string]struct{}, len(verdict.Citations))
		for _, citation := range verdict.Citations {
			_, ok := retrievedIDs[citation.ChunkID]
			assert.True(t, ok, "trial %d cited %q which was not retrieved", trial, citation.ChunkID)
			_, dup := seen[citation.ChunkID]
			assert.False(t, dup, "trial %d cited %q twice", trial, citation.ChunkID)
			seen[citation.ChunkID] = struct{}{}
		}
	}
}
