package reranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railadvice/railadviced/internal/vectorstore"
)

func candidate(id, content string, score float32, meta map[string]string) vectorstore.Result {
	return vectorstore.Result{ChunkID: id, Content: content, Score: score, Metadata: meta}
}

func TestRerankTitleBonusPromotes(t *testing.T) {
	rr := New(Config{})

	// Slightly lower similarity but a title hit should win.
	results := rr.Rerank("krav til signalanlegg", "", []vectorstore.Result{
		candidate("a", "Generelt om sporveksler og drift.", 0.60, map[string]string{"title": "Driftshåndbok"}),
		candidate("b", "Detaljer om anleggets deler.", 0.55, map[string]string{"title": "Krav til signalanlegg"}),
	})

	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ChunkID)
	assert.Greater(t, results[0].Rerank, results[0].Score, "bonus must raise the blended score")
}

func TestRerankCategoryBonus(t *testing.T) {
	rr := New(Config{})

	results := rr.Rerank("hva koster utbyggingen", "market", []vectorstore.Result{
		candidate("a", "Prosjektet går etter planen.", 0.50, map[string]string{"category": "project"}),
		candidate("b", "Anbudet har en ramme på 40 millioner.", 0.45, map[string]string{"category": "market"}),
	})

	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ChunkID)
}

func TestRerankEmptyCategoryDisablesBoost(t *testing.T) {
	rr := New(Config{})

	results := rr.Rerank("xyzzy", "", []vectorstore.Result{
		candidate("a", "irrelevant innhold", 0.50, map[string]string{"category": "market"}),
		candidate("b", "annet irrelevant innhold", 0.40, map[string]string{"category": "market"}),
	})
	assert.Equal(t, "a", results[0].ChunkID, "without category and overlap, similarity order holds")
}

func TestRerankTermOverlap(t *testing.T) {
	rr := New(Config{})

	results := rr.Rerank("vedlikehold av kontaktledning", "", []vectorstore.Result{
		candidate("a", "Skogrydding langs linjen.", 0.50, nil),
		candidate("b", "Vedlikehold av kontaktledning utføres om natten.", 0.48, nil),
	})
	assert.Equal(t, "b", results[0].ChunkID)
}

func TestRerankStopwordsIgnored(t *testing.T) {
	rr := New(Config{})

	// Overlap only on stopwords must not move the needle.
	results := rr.Rerank("hva er det som skjer", "", []vectorstore.Result{
		candidate("a", "Det er som det er.", 0.40, nil),
		candidate("b", "Togene skjer hver time.", 0.40, map[string]string{}),
	})
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ChunkID, "content-term hit must beat stopword-only overlap")
}

func TestRerankDeterministicTiebreak(t *testing.T) {
	rr := New(Config{})

	equal := []vectorstore.Result{
		candidate("b", "samme innhold uten treff", 0.50, map[string]string{"ingested_at": "100"}),
		candidate("a", "samme innhold uten treff", 0.50, map[string]string{"ingested_at": "100"}),
		candidate("c", "samme innhold uten treff", 0.50, map[string]string{"ingested_at": "200"}),
	}

	first := rr.Rerank("xyzzy", "", equal)
	require.Len(t, first, 3)
	assert.Equal(t, "c", first[0].ChunkID, "newer ingestion wins the tie")
	assert.Equal(t, "a", first[1].ChunkID, "chunk id breaks the final tie")
	assert.Equal(t, "b", first[2].ChunkID)

	for i := 0; i < 5; i++ {
		again := rr.Rerank("xyzzy", "", equal)
		for j := range first {
			assert.Equal(t, first[j].ChunkID, again[j].ChunkID)
		}
	}
}

func TestRerankEmptyInput(t *testing.T) {
	rr := New(Config{})
	assert.Empty(t, rr.Rerank("spørsmål", "", nil))
}
