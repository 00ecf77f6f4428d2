package responder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/railadvice/railadviced/internal/intent"
	"github.com/railadvice/railadviced/internal/reranker"
	"github.com/railadvice/railadviced/internal/retrieval"
	"github.com/railadvice/railadviced/internal/vectorstore"
)

func scored(id, content string, score float32, title string) reranker.Scored {
	meta := map[string]string{}
	if title != "" {
		meta["title"] = title
	}
	return reranker.Scored{
		Result: vectorstore.Result{ChunkID: id, Content: content, Score: score, Metadata: meta},
		Rerank: score,
	}
}

func okResult(chunks ...reranker.Scored) retrieval.Result {
	return retrieval.Result{Chunks: chunks, Status: retrieval.StatusOK}
}

func TestConversationalAnswers(t *testing.T) {
	r := New(Config{})

	for _, it := range []intent.Intent{
		intent.Greeting, intent.Identity, intent.HelpRequest, intent.Farewell,
	} {
		t.Run(string(it), func(t *testing.T) {
			no := r.Conversational(it, "no")
			en := r.Conversational(it, "en")

			assert.NotEmpty(t, no.Text)
			assert.NotEmpty(t, en.Text)
			assert.NotEqual(t, no.Text, en.Text, "languages must differ")
			assert.Equal(t, ConfidenceNone, no.Confidence)
			assert.Empty(t, no.CitedChunkIDs, "conversational answers cite nothing")
		})
	}
}

func TestOutOfScopeAnswer(t *testing.T) {
	r := New(Config{})
	a := r.OutOfScope("no")
	assert.Contains(t, a.Text, "utenfor")
	assert.Equal(t, ConfidenceNone, a.Confidence)
	assert.Empty(t, a.CitedChunkIDs)
}

func TestSynthesizeCitesAndSources(t *testing.T) {
	r := New(Config{})

	passage := "Kravene til signalanlegg er beskrevet i kapittel fire og gjelder alle nye anlegg. " +
		"Hvert anlegg skal godkjennes før det settes i drift."
	res := okResult(
		scored("doc-1:0000", passage, 0.72, "Teknisk regelverk"),
		scored("doc-1:0001", "Godkjenningen utføres av tilsynet etter en dokumentert prosess som følger kravene.", 0.61, "Teknisk regelverk"),
	)

	a := r.Synthesize(res, "no")
	assert.Equal(t, ConfidenceHigh, a.Confidence)
	assert.Equal(t, []string{"doc-1:0000", "doc-1:0001"}, a.CitedChunkIDs)
	assert.Equal(t, []string{"Teknisk regelverk"}, a.Sources, "duplicate titles collapse")
	assert.Contains(t, a.Text, "kapittel fire")
	assert.Contains(t, a.Text, "Kilder: Teknisk regelverk")
}

func TestSynthesizeConfidenceTiers(t *testing.T) {
	r := New(Config{})
	long := "Setningen her er lang nok til å overleve vaskingen av korte fragmenter i svaret."

	tests := []struct {
		score float32
		want  Confidence
	}{
		{0.80, ConfidenceHigh},
		{0.60, ConfidenceHigh},
		{0.50, ConfidenceMedium},
		{0.40, ConfidenceLow},
	}
	for _, tt := range tests {
		a := r.Synthesize(okResult(scored("x:0000", long, tt.score, "")), "no")
		assert.Equal(t, tt.want, a.Confidence, "score %v", tt.score)
	}
}

func TestSynthesizeDegradedStatuses(t *testing.T) {
	r := New(Config{})

	tests := []struct {
		status   retrieval.Status
		fragment string
	}{
		{retrieval.StatusNoMatch, "fant ingenting"},
		{retrieval.StatusTimeout, "for lang tid"},
		{retrieval.StatusUnavailable, "ikke tilgjengelig"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			a := r.Synthesize(retrieval.Result{Status: tt.status}, "no")
			assert.Contains(t, a.Text, tt.fragment)
			assert.Empty(t, a.CitedChunkIDs, "degraded answers cite nothing")
			assert.Equal(t, ConfidenceNone, a.Confidence)
		})
	}
}

func TestSynthesizeRespectsPassageCap(t *testing.T) {
	r := New(Config{MaxPassages: 2})

	long := "Denne setningen er lang nok til å passere rensingen av korte fragmenter i svaret."
	res := okResult(
		scored("a:0000", long, 0.7, "Dok A"),
		scored("b:0000", long, 0.6, "Dok B"),
		scored("c:0000", long, 0.5, "Dok C"),
	)

	a := r.Synthesize(res, "no")
	assert.Len(t, a.CitedChunkIDs, 2)
	assert.NotContains(t, a.Sources, "Dok C")
}

func TestSynthesizeEnglish(t *testing.T) {
	r := New(Config{})
	a := r.Synthesize(okResult(
		scored("a:0000", "The signalling requirements are described in chapter four of the regulations.", 0.7, "Technical regulations"),
	), "en")
	assert.Contains(t, a.Text, "knowledge base")
	assert.Contains(t, a.Text, "Sources: Technical regulations")
	assert.Equal(t, "en", a.Language)
}

func TestCleanPassage(t *testing.T) {
	raw := strings.Join([]string{
		"Hjem > Tjenester > Jernbane",
		"Les mer",
		"Kontakt",
		"Kravene til signalanlegg gjelder alle nye anlegg på strekningen.",
	}, "\n")

	got := CleanPassage(raw)
	assert.Equal(t, "Kravene til signalanlegg gjelder alle nye anlegg på strekningen.", got)
}

func TestCleanPassageAllBoilerplate(t *testing.T) {
	assert.Empty(t, CleanPassage("Les mer\nKlikk her\nMeny"))
}

func TestTruncateAtSentence(t *testing.T) {
	s := "Første setning her. Andre setning her. Tredje setning her."
	got := truncateAtSentence(s, 45)
	assert.Equal(t, "Første setning her. Andre setning her.", got)

	assert.Equal(t, s, truncateAtSentence(s, 1000))
	assert.Empty(t, truncateAtSentence("ingen punktum i det hele tatt", 10))
}

func TestTopic(t *testing.T) {
	assert.Empty(t, Topic(nil))

	withTitle := []reranker.Scored{scored("a:0000", "innhold", 0.7, "ERTMS utbyggingsplan")}
	assert.Equal(t, "ERTMS utbyggingsplan", Topic(withTitle))

	noTitle := []reranker.Scored{scored("a:0000", "kravene til signalanlegg gjelder alle nye anlegg på strekningen", 0.7, "")}
	assert.Equal(t, "kravene til signalanlegg gjelder alle nye", Topic(noTitle))
}
