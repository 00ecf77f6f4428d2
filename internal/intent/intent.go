// Package intent classifies user queries before retrieval.
//
// Classification is two-stage: cheap lexical rules catch conversational
// intents (greetings, identity questions, help requests, farewells) in
// Norwegian and English, and everything else is treated as a technical
// question unless a semantic probe against the index shows the query has
// no footing in the corpus at all, in which case it is out of scope.
// Lexical rules always win over the probe.
package intent

import (
	"context"
	"regexp"
	"strings"
)

// Intent is the classified purpose of a user query.
type Intent string

// Query intents.
const (
	// Greeting is a salutation with no information need.
	Greeting Intent = "greeting"

	// Identity asks who or what the assistant is.
	Identity Intent = "identity"

	// HelpRequest asks what the assistant can do.
	HelpRequest Intent = "help_request"

	// Farewell closes the conversation.
	Farewell Intent = "farewell"

	// TechnicalQuestion is an information need answerable from the corpus.
	TechnicalQuestion Intent = "technical_question"

	// OutOfScope is a query with no footing in the corpus.
	OutOfScope Intent = "out_of_scope"
)

// rule binds an intent to the patterns that trigger it. Rules are checked
// in order; the first match wins.
type rule struct {
	intent   Intent
	patterns []*regexp.Regexp
}

var rules = []rule{
	{Greeting, compileAll(
		`^(hei|heisann|hallo|god\s*(morgen|dag|kveld))\b`,
		`^(hi|hello|hey|good\s*(morning|afternoon|evening))\b`,
	)},
	{Identity, compileAll(
		`\bhvem\s+er\s+du\b`,
		`\bhva\s+er\s+du\b`,
		`\bhva\s+heter\s+du\b`,
		`\bwho\s+are\s+you\b`,
		`\bwhat\s+are\s+you\b`,
		`\bwhat('|’)?s\s+your\s+name\b`,
	)},
	{HelpRequest, compileAll(
		`\bhva\s+kan\s+du\s*(hjelpe|gjøre|svare)?\b`,
		`\bkan\s+du\s+hjelpe\b`,
		`\bhjelp(\s+meg)?\b`,
		`\bwhat\s+can\s+you\s+(do|help)\b`,
		`\bcan\s+you\s+help\b`,
		`^help\b`,
	)},
	{Farewell, compileAll(
		`^(ha\s*det(\s*bra)?|farvel|takk\s+for\s+(hjelpen|nå)|vi\s+snakkes)\b`,
		`^(bye|goodbye|see\s+you|thanks,?\s*bye|that('|’)?s\s+all)\b`,
	)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Prober estimates how well a query is grounded in the indexed corpus.
// The retrieval engine provides the production implementation.
type Prober interface {
	// MaxSimilarity returns the highest cosine similarity between the
	// query and any indexed chunk, or 0 for an empty index.
	MaxSimilarity(ctx context.Context, query string) (float32, error)
}

// Classifier classifies queries with lexical rules and a semantic probe.
type Classifier struct {
	prober    Prober
	threshold float32
}

// NewClassifier creates a classifier. prober may be nil, in which case the
// semantic fallback is skipped and unmatched queries are always technical
// questions. threshold is the minimum probe similarity for a query to stay
// in scope.
func NewClassifier(prober Prober, threshold float32) *Classifier {
	return &Classifier{prober: prober, threshold: threshold}
}

// Classify determines the intent of query.
//
// A probe failure degrades to TechnicalQuestion rather than returning an
// error: retrieval applies its own relevance floor, so the worst case is
// an honest "nothing found" answer instead of a refused query.
func (c *Classifier) Classify(ctx context.Context, query string) Intent {
	if intent, ok := Lexical(query); ok {
		return intent
	}
	if c.prober == nil {
		return TechnicalQuestion
	}
	sim, err := c.prober.MaxSimilarity(ctx, query)
	if err != nil {
		return TechnicalQuestion
	}
	if sim < c.threshold {
		return OutOfScope
	}
	return TechnicalQuestion
}

// Lexical applies only the rule stage. The boolean reports whether any
// rule matched.
func Lexical(query string) (Intent, bool) {
	q := strings.TrimSpace(strings.ToLower(query))
	if q == "" {
		return OutOfScope, true
	}
	for _, r := range rules {
		for _, p := range r.patterns {
			if p.MatchString(q) {
				return r.intent, true
			}
		}
	}
	return TechnicalQuestion, false
}

// Conversational reports whether the intent needs no retrieval.
func (i Intent) Conversational() bool {
	switch i {
	case Greeting, Identity, HelpRequest, Farewell:
		return true
	}
	return false
}

// categoryMarkers maps query vocabulary to document categories for the
// reranker's category boost.
var categoryMarkers = []struct {
	category string
	words    []string
}{
	{"market", []string{
		"kost", "pris", "budsjett", "anbud", "kontrakt", "marked",
		"investering", "tilbud",
		"cost", "price", "budget", "tender", "contract", "market",
	}},
	{"regulation", []string{
		"forskrift", "regelverk", "krav", "standard", "tsi", "godkjenning",
		"sikkerhet",
		"regulation", "requirement", "standard", "compliance", "safety",
	}},
	{"project", []string{
		"prosjekt", "utbygging", "strekning", "dobbeltspor", "ertms",
		"signalanlegg", "tid", "fremdrift", "plan",
		"project", "construction", "schedule", "deployment",
	}},
	{"company", []string{
		"bedrift", "selskap", "ansatte", "personer", "erfaring",
		"kompetanse", "tjenester", "referanser",
		"company", "team", "experience", "services", "staff",
	}},
}

// QueryCategory maps a query's vocabulary to a document category for
// rerank boosting. Returns "" when no category vocabulary appears.
func QueryCategory(query string) string {
	q := strings.ToLower(query)
	best := ""
	bestHits := 0
	for _, cm := range categoryMarkers {
		hits := 0
		for _, w := range cm.words {
			if strings.Contains(q, w) {
				hits++
			}
		}
		if hits > bestHits {
			best = cm.category
			bestHits = hits
		}
	}
	return best
}
