package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLexicalRules(t *testing.T) {
	tests := []struct {
		query string
		want  Intent
	}{
		// Norwegian
		{"Hei!", Greeting},
		{"god morgen", Greeting},
		{"Hvem er du?", Identity},
		{"hva heter du", Identity},
		{"Hva kan du hjelpe meg med?", HelpRequest},
		{"kan du hjelpe meg", HelpRequest},
		{"Ha det bra!", Farewell},
		{"takk for hjelpen", Farewell},
		// English
		{"Hello there", Greeting},
		{"good evening", Greeting},
		{"who are you?", Identity},
		{"what's your name", Identity},
		{"what can you do", HelpRequest},
		{"can you help me with something", HelpRequest},
		{"bye", Farewell},
		{"that's all, thanks", Farewell},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, matched := Lexical(tt.query)
			assert.True(t, matched, "expected a rule match")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLexicalNoMatch(t *testing.T) {
	for _, q := range []string{
		"Hva er kravene til ERTMS på Østfoldbanen?",
		"How long is the double track through Moss?",
		"kostnadsramme for signalanlegg",
	} {
		got, matched := Lexical(q)
		assert.False(t, matched, "%q should not match a conversational rule", q)
		assert.Equal(t, TechnicalQuestion, got)
	}
}

func TestLexicalEmptyQuery(t *testing.T) {
	got, matched := Lexical("   ")
	assert.True(t, matched)
	assert.Equal(t, OutOfScope, got)
}

func TestLexicalRulesBeatContent(t *testing.T) {
	// A greeting that also mentions domain terms is still a greeting.
	got, matched := Lexical("Hei, jernbane er spennende")
	assert.True(t, matched)
	assert.Equal(t, Greeting, got)
}

// stubProber returns a fixed similarity or error.
type stubProber struct {
	sim float32
	err error
}

func (p stubProber) MaxSimilarity(ctx context.Context, query string) (float32, error) {
	return p.sim, p.err
}

func TestClassifyProbeFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("grounded query stays technical", func(t *testing.T) {
		c := NewClassifier(stubProber{sim: 0.8}, 0.25)
		assert.Equal(t, TechnicalQuestion, c.Classify(ctx, "krav til sporveksler"))
	})

	t.Run("ungrounded query is out of scope", func(t *testing.T) {
		c := NewClassifier(stubProber{sim: 0.1}, 0.25)
		assert.Equal(t, OutOfScope, c.Classify(ctx, "beste oppskrift på pizza"))
	})

	t.Run("probe error fails open", func(t *testing.T) {
		c := NewClassifier(stubProber{err: errors.New("index down")}, 0.25)
		assert.Equal(t, TechnicalQuestion, c.Classify(ctx, "krav til sporveksler"))
	})

	t.Run("nil prober skips the probe", func(t *testing.T) {
		c := NewClassifier(nil, 0.25)
		assert.Equal(t, TechnicalQuestion, c.Classify(ctx, "hva som helst faglig"))
	})

	t.Run("lexical rule wins over probe", func(t *testing.T) {
		c := NewClassifier(stubProber{sim: 0.0}, 0.25)
		assert.Equal(t, Greeting, c.Classify(ctx, "hei på deg"))
	})
}

func TestConversational(t *testing.T) {
	assert.True(t, Greeting.Conversational())
	assert.True(t, Identity.Conversational())
	assert.True(t, HelpRequest.Conversational())
	assert.True(t, Farewell.Conversational())
	assert.False(t, TechnicalQuestion.Conversational())
	assert.False(t, OutOfScope.Conversational())
}

func TestQueryCategory(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"hva koster utbyggingen", "market"},
		{"hvilke krav stiller regelverket", "regulation"},
		{"status for prosjektet gjennom Moss", "project"},
		{"hvilken erfaring har selskapet", "company"},
		{"what is the tender budget", "market"},
		{"noe helt annet", ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, QueryCategory(tt.query))
		})
	}
}
