package assistant

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/railadvice/railadviced/internal/docstore"
	"github.com/railadvice/railadviced/internal/embeddings"
	"github.com/railadvice/railadviced/internal/intent"
	"github.com/railadvice/railadviced/internal/reranker"
	"github.com/railadvice/railadviced/internal/responder"
	"github.com/railadvice/railadviced/internal/retrieval"
	"github.com/railadvice/railadviced/internal/session"
	"github.com/railadvice/railadviced/internal/vectorstore"
)

// newTestAssistant wires a full pipeline on the embedded store and the
// deterministic hash embedder. Thresholds are lowered to match the hash
// embedder's lexical similarity range.
func newTestAssistant(t *testing.T) *Assistant {
	t.Helper()
	logger := zap.NewNop()

	provider, err := embeddings.NewHashProvider(embeddings.HashConfig{Dimension: 256})
	require.NoError(t, err)

	index, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: 256,
	}, provider, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	docs, err := docstore.NewStore(docstore.StoreConfig{
		Path:             t.TempDir(),
		MinDocumentChars: 40,
	}, logger)
	require.NoError(t, err)

	chunker, err := docstore.NewChunker(docstore.ChunkerConfig{
		TargetTokens:    25,
		MaxTokens:       40,
		OverlapFraction: 0.15,
	})
	require.NoError(t, err)

	engine := retrieval.NewEngine(index, reranker.New(reranker.Config{}), retrieval.Config{
		TopK:         5,
		MinRelevance: 0.12,
	}, logger)

	sessions := session.NewManager(session.Config{MaxTurns: 5}, logger)
	t.Cleanup(func() { _ = sessions.Close() })

	a, err := New(Options{
		Docs:         docs,
		Chunker:      chunker,
		Index:        index,
		Classifier:   intent.NewClassifier(engine, 0.08),
		Sessions:     sessions,
		Engine:       engine,
		Responder:    responder.New(responder.Config{}),
		Logger:       logger,
		ModelVersion: provider.ModelVersion(),
	})
	require.NoError(t, err)
	return a
}

const regelverkText = `Teknisk regelverk stiller krav til signalanlegg på alle nye strekninger.
Hvert signalanlegg skal godkjennes av tilsynet før det settes i drift på banen.
Kontaktledningsanlegget forsyner togene med strøm og skal kontrolleres årlig av driftspersonell.
Kostnadsrammen for utbygging av nye signalanlegg er anslått til førti millioner kroner per strekning.`

func ingestRegelverk(t *testing.T, a *Assistant) string {
	t.Helper()
	res, err := a.Ingest(context.Background(), IngestRequest{
		Title: "Teknisk regelverk for signalanlegg",
		Text:  regelverkText,
	})
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Greater(t, res.ChunkCount, 0)
	return res.DocumentID
}

func TestIngestDetectsMetadata(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	id := ingestRegelverk(t, a)
	docs := a.Documents(ctx)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, docstore.CategoryRegulation, docs[0].Category)
	assert.Equal(t, "no", docs[0].Language)
	assert.NotEmpty(t, docs[0].ChunkIDs)
}

func TestIngestRejectsBadInput(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	_, err := a.Ingest(ctx, IngestRequest{Title: "Kort", Text: "for kort"})
	assert.ErrorIs(t, err, docstore.ErrDocumentTooShort)

	_, err = a.Ingest(ctx, IngestRequest{Text: regelverkText})
	assert.Error(t, err, "missing title must be rejected")

	_, err = a.Ingest(ctx, IngestRequest{Title: "Tysk", Text: regelverkText, Language: "de"})
	assert.ErrorIs(t, err, docstore.ErrUnsupportedLanguage)
}

func TestIngestDuplicateIsNoOp(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	first := ingestRegelverk(t, a)
	res, err := a.Ingest(ctx, IngestRequest{
		Title: "Samme innhold, annen tittel",
		Text:  regelverkText,
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, first, res.DocumentID)
	assert.Len(t, a.Documents(ctx), 1)
}

// regelverkTextV2 is a revision of regelverkText: the inspection interval
// and the cost estimate change, the rest stays.
const regelverkTextV2 = `Teknisk regelverk stiller krav til signalanlegg på alle nye strekninger.
Hvert signalanlegg skal godkjennes av tilsynet før det settes i drift på banen.
Kontaktledningsanlegget forsyner togene med strøm og skal kontrolleres hvert halvår av driftspersonell.
Kostnadsrammen for utbygging av nye signalanlegg er justert til femti millioner kroner per strekning.`

func TestIngestReplaceEvictsOldChunks(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()
	id := ingestRegelverk(t, a)

	res, err := a.Ingest(ctx, IngestRequest{
		DocumentID: id,
		Title:      "Teknisk regelverk for signalanlegg",
		Text:       regelverkTextV2,
	})
	require.NoError(t, err)
	assert.True(t, res.Replaced)
	assert.False(t, res.Duplicate)
	assert.Equal(t, id, res.DocumentID, "re-ingestion keeps the document id")

	docs := a.Documents(ctx)
	require.Len(t, docs, 1, "replacement must not create a second document")

	h := a.CheckHealth(ctx)
	assert.Equal(t, h.Chunks, h.IndexEntries, "replaced chunks must leave the index")

	// The superseded revision is gone from both the store and the index.
	chunks, err := a.docs.Chunks(ctx, id)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotContains(t, c.Content, "førti millioner")
	}
	hits, err := a.index.Search(ctx, "Kostnadsrammen for utbygging av nye signalanlegg", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, hit := range hits {
		assert.NotContains(t, hit.Content, "førti millioner",
			"search must not surface the superseded revision")
	}
}

func TestIngestReplaceUnchangedContentIsNoOp(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()
	id := ingestRegelverk(t, a)

	res, err := a.Ingest(ctx, IngestRequest{
		DocumentID: id,
		Title:      "Teknisk regelverk for signalanlegg",
		Text:       regelverkText,
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.False(t, res.Replaced)
	assert.Equal(t, id, res.DocumentID)
}

func TestIngestUnknownDocumentIDCreates(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	res, err := a.Ingest(ctx, IngestRequest{
		DocumentID: "regelverk-signal",
		Title:      "Teknisk regelverk for signalanlegg",
		Text:       regelverkText,
	})
	require.NoError(t, err)
	assert.False(t, res.Replaced, "a fresh id is a create, not a replace")
	assert.Equal(t, "regelverk-signal", res.DocumentID, "caller-chosen ids are kept")
}

func TestQueryTechnicalQuestionCitesSources(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()
	ingestRegelverk(t, a)

	resp, err := a.Query(ctx, QueryRequest{
		Query: "Hvilke krav stiller teknisk regelverk til signalanlegg?",
	})
	require.NoError(t, err)

	assert.Equal(t, intent.TechnicalQuestion, resp.Intent)
	assert.NotEmpty(t, resp.SessionID, "a session id is minted when none is given")
	assert.NotEmpty(t, resp.Answer.CitedChunkIDs, "grounded answers must cite chunks")
	assert.Contains(t, resp.Answer.Text, "signalanlegg")
	assert.Contains(t, resp.Answer.Sources, "Teknisk regelverk for signalanlegg")
	assert.NotEqual(t, responder.ConfidenceNone, resp.Answer.Confidence)
}

func TestQueryGreetingSkipsRetrieval(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	resp, err := a.Query(ctx, QueryRequest{Query: "Hei!"})
	require.NoError(t, err)

	assert.Equal(t, intent.Greeting, resp.Intent)
	assert.Empty(t, resp.Answer.CitedChunkIDs)
	assert.Equal(t, responder.ConfidenceNone, resp.Answer.Confidence)
	assert.Contains(t, resp.Answer.Text, "RailAdvice")
}

func TestQueryOutOfScope(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()
	ingestRegelverk(t, a)

	resp, err := a.Query(ctx, QueryRequest{
		Query: "beste sjokoladekakeoppskrift uten glutenfritt mel",
	})
	require.NoError(t, err)

	assert.Equal(t, intent.OutOfScope, resp.Intent)
	assert.Empty(t, resp.Answer.CitedChunkIDs)
	assert.Contains(t, resp.Answer.Text, "utenfor")
}

func TestQueryEmptyIsRejected(t *testing.T) {
	a := newTestAssistant(t)
	_, err := a.Query(context.Background(), QueryRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestQueryFollowUpResolvesTopic(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()
	ingestRegelverk(t, a)

	first, err := a.Query(ctx, QueryRequest{
		Query: "Hvilke krav stiller teknisk regelverk til signalanlegg?",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.Answer.CitedChunkIDs)

	followUp, err := a.Query(ctx, QueryRequest{
		SessionID: first.SessionID,
		Query:     "hva koster det?",
	})
	require.NoError(t, err)

	assert.Contains(t, followUp.ResolvedQuery, "Teknisk regelverk",
		"follow-up must be rewritten with the previous topic")
	assert.NotEmpty(t, followUp.Answer.CitedChunkIDs)
}

func TestQueryHistoryIsBounded(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	first, err := a.Query(ctx, QueryRequest{Query: "Hei!"})
	require.NoError(t, err)

	// MaxTurns is 5; the sixth turn evicts the first.
	for i := 0; i < 6; i++ {
		_, err := a.Query(ctx, QueryRequest{SessionID: first.SessionID, Query: "Hei igjen!"})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, a.sessions.Get(first.SessionID).Len())
}

func TestQueryConcurrentSameSessionKeepsEveryTurn(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()

	first, err := a.Query(ctx, QueryRequest{Query: "Hei!"})
	require.NoError(t, err)

	// Overlapping turns for one session serialize; none may be lost or
	// race another's history update. MaxTurns is 5, so all five fit.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Query(ctx, QueryRequest{SessionID: first.SessionID, Query: "Hei igjen!"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, a.sessions.Get(first.SessionID).Len())
}

func TestRemoveEvictsFromIndex(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()
	id := ingestRegelverk(t, a)

	require.NoError(t, a.Remove(ctx, id))
	assert.Empty(t, a.Documents(ctx))

	h := a.CheckHealth(ctx)
	assert.True(t, h.Ready)
	assert.Zero(t, h.Documents)
	assert.Zero(t, h.IndexEntries, "removed chunks must leave the index")

	resp, err := a.Query(ctx, QueryRequest{
		Query: "Hvilke krav stiller teknisk regelverk til signalanlegg?",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Answer.CitedChunkIDs, "no citations after the corpus is emptied")

	assert.ErrorIs(t, a.Remove(ctx, id), docstore.ErrDocumentNotFound)
}

func TestCheckHealth(t *testing.T) {
	a := newTestAssistant(t)
	ctx := context.Background()
	ingestRegelverk(t, a)

	h := a.CheckHealth(ctx)
	assert.True(t, h.Ready)
	assert.Equal(t, 1, h.Documents)
	assert.Greater(t, h.Chunks, 0)
	assert.Equal(t, h.Chunks, h.IndexEntries, "index and store must agree")
	assert.Contains(t, h.EmbeddingModel, "hash/")
}
