// Package responder turns retrieval results into user-facing answers.
//
// Answers are extractive: the responder selects and cleans passages from
// the retrieved chunks and frames them with confidence-graded phrasing in
// the user's language. It never generates content that is not in the
// corpus, and it always cites the chunks it drew from.
package responder

import (
	"strings"

	"github.com/railadvice/railadviced/internal/intent"
	"github.com/railadvice/railadviced/internal/reranker"
	"github.com/railadvice/railadviced/internal/retrieval"
)

// Confidence grades how well the answer is grounded.
type Confidence string

// Confidence tiers, derived from the top candidate's raw similarity.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Answer is a synthesized response.
type Answer struct {
	// Text is the answer in the user's language.
	Text string

	// CitedChunkIDs lists the chunks the text was extracted from, in
	// the order they contributed. Empty for conversational answers and
	// empty retrievals.
	CitedChunkIDs []string

	// Sources lists the distinct document titles behind the citations.
	Sources []string

	// Confidence grades the grounding. ConfidenceNone means no corpus
	// content backs the text.
	Confidence Confidence

	// Language is "no" or "en".
	Language string
}

// Config holds responder configuration.
type Config struct {
	// MaxAnswerChars caps the extracted answer body.
	MaxAnswerChars int

	// MaxPassages caps how many chunks contribute to one answer.
	MaxPassages int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxAnswerChars == 0 {
		c.MaxAnswerChars = 1200
	}
	if c.MaxPassages == 0 {
		c.MaxPassages = 3
	}
}

// Responder synthesizes answers.
type Responder struct {
	config Config
}

// New creates a responder.
func New(config Config) *Responder {
	config.ApplyDefaults()
	return &Responder{config: config}
}

// template holds one phrase in both corpus languages.
type template struct {
	no, en string
}

func (t template) in(lang string) string {
	if lang == "en" {
		return t.en
	}
	return t.no
}

var conversational = map[intent.Intent]template{
	intent.Greeting: {
		no: "Hei! Jeg er RailAdvice-assistenten. Jeg svarer på spørsmål om jernbaneteknikk, regelverk og prosjektene i kunnskapsbasen. Hva lurer du på?",
		en: "Hello! I am the RailAdvice assistant. I answer questions about railway engineering, regulations and the projects in the knowledge base. What would you like to know?",
	},
	intent.Identity: {
		no: "Jeg er en fagassistent for jernbaneteknikk, bygget på RailAdvice sin kunnskapsbase. Svarene mine er hentet direkte fra dokumentene der, med kildehenvisning.",
		en: "I am a railway engineering assistant built on the RailAdvice knowledge base. My answers are extracted directly from its documents, with citations.",
	},
	intent.HelpRequest: {
		no: "Du kan spørre meg om jernbaneteknikk: regelverk og krav, signalanlegg og ERTMS, utbyggingsprosjekter, kostnader og anbud, eller RailAdvice sin erfaring og tjenester. Still gjerne spørsmålet på norsk eller engelsk.",
		en: "You can ask me about railway engineering: regulations and requirements, signalling and ERTMS, construction projects, costs and tenders, or RailAdvice's experience and services. Feel free to ask in Norwegian or English.",
	},
	intent.Farewell: {
		no: "Takk for praten! Ta gjerne kontakt igjen om du har flere spørsmål om jernbane.",
		en: "Thanks for the conversation! Come back any time you have more railway questions.",
	},
}

var statusPhrases = map[retrieval.Status]template{
	retrieval.StatusNoMatch: {
		no: "Jeg fant ingenting i kunnskapsbasen som svarer godt nok på dette. Prøv gjerne å omformulere spørsmålet, eller spør om noe mer konkret.",
		en: "I could not find anything in the knowledge base that answers this well enough. Try rephrasing the question, or ask about something more specific.",
	},
	retrieval.StatusTimeout: {
		no: "Søket tok for lang tid og ble avbrutt. Prøv igjen om et øyeblikk.",
		en: "The search took too long and was cut off. Please try again in a moment.",
	},
	retrieval.StatusUnavailable: {
		no: "Kunnskapsbasen er ikke tilgjengelig akkurat nå. Prøv igjen senere.",
		en: "The knowledge base is not available right now. Please try again later.",
	},
}

var outOfScope = template{
	no: "Dette ser ut til å ligge utenfor det kunnskapsbasen dekker. Jeg svarer best på spørsmål om jernbaneteknikk, regelverk og RailAdvice sine prosjekter.",
	en: "This appears to be outside what the knowledge base covers. I am best at questions about railway engineering, regulations and RailAdvice's projects.",
}

var confidenceIntros = map[Confidence]template{
	ConfidenceHigh: {
		no: "Dette finner jeg i kunnskapsbasen:",
		en: "Here is what I find in the knowledge base:",
	},
	ConfidenceMedium: {
		no: "Dette ser ut til å være det mest relevante i kunnskapsbasen:",
		en: "This appears to be the most relevant material in the knowledge base:",
	},
	ConfidenceLow: {
		no: "Jeg er usikker, men dette kan være relevant:",
		en: "I am not certain, but this may be relevant:",
	},
}

var sourceLabel = template{no: "Kilder", en: "Sources"}

// Conversational returns the canned answer for a no-retrieval intent.
func (r *Responder) Conversational(it intent.Intent, lang string) Answer {
	t, ok := conversational[it]
	if !ok {
		t = outOfScope
	}
	return Answer{Text: t.in(lang), Confidence: ConfidenceNone, Language: lang}
}

// OutOfScope returns the answer for a query the corpus has no footing for.
func (r *Responder) OutOfScope(lang string) Answer {
	return Answer{Text: outOfScope.in(lang), Confidence: ConfidenceNone, Language: lang}
}

// Synthesize builds the answer for a technical question from a retrieval
// result. Degraded retrievals yield an honest empty-handed answer with no
// citations and ConfidenceNone.
func (r *Responder) Synthesize(res retrieval.Result, lang string) Answer {
	if res.Status != retrieval.StatusOK || len(res.Chunks) == 0 {
		t, ok := statusPhrases[res.Status]
		if !ok {
			t = statusPhrases[retrieval.StatusNoMatch]
		}
		return Answer{Text: t.in(lang), Confidence: ConfidenceNone, Language: lang}
	}

	conf := gradeConfidence(res.Chunks[0].Score)

	var b strings.Builder
	b.WriteString(confidenceIntros[conf].in(lang))

	var cited []string
	var sources []string
	seenSource := map[string]struct{}{}
	budget := r.config.MaxAnswerChars

	for _, c := range res.Chunks {
		if len(cited) >= r.config.MaxPassages || budget <= 0 {
			break
		}
		passage := CleanPassage(c.Content)
		if passage == "" {
			continue
		}
		if len(passage) > budget {
			passage = truncateAtSentence(passage, budget)
			if passage == "" {
				continue
			}
		}
		b.WriteString("\n\n")
		b.WriteString(passage)
		budget -= len(passage)
		cited = append(cited, c.ChunkID)

		if title := c.Metadata["title"]; title != "" {
			if _, seen := seenSource[title]; !seen {
				seenSource[title] = struct{}{}
				sources = append(sources, title)
			}
		}
	}

	if len(cited) == 0 {
		return Answer{
			Text:       statusPhrases[retrieval.StatusNoMatch].in(lang),
			Confidence: ConfidenceNone,
			Language:   lang,
		}
	}

	if len(sources) > 0 {
		b.WriteString("\n\n")
		b.WriteString(sourceLabel.in(lang))
		b.WriteString(": ")
		b.WriteString(strings.Join(sources, "; "))
	}

	return Answer{
		Text:          b.String(),
		CitedChunkIDs: cited,
		Sources:       sources,
		Confidence:    conf,
		Language:      lang,
	}
}

// gradeConfidence maps the top candidate's raw cosine similarity to a tier.
func gradeConfidence(topScore float32) Confidence {
	switch {
	case topScore >= 0.6:
		return ConfidenceHigh
	case topScore >= 0.45:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// CleanPassage strips navigation crumbs, lone headings and other fragments
// that chunking can carry along, keeping only substantive sentences.
func CleanPassage(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isBoilerplate(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, " "))
}

func isBoilerplate(line string) bool {
	// Lone headings, breadcrumb trails and list stubs carry no
	// answerable content.
	if len(line) < 25 && !strings.ContainsAny(line, ".!?") {
		return true
	}
	lower := strings.ToLower(line)
	for _, marker := range []string{
		"les mer", "klikk her", "tilbake til", "hjem >", "cookie",
		"read more", "click here", "back to", "home >", "all rights reserved",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// truncateAtSentence cuts s to at most max bytes, ending at the last
// complete sentence. Returns "" if no sentence fits.
func truncateAtSentence(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	end := strings.LastIndexAny(cut, ".!?")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(cut[:end+1])
}

// Topic extracts a follow-up topic from the top candidate: the document
// title when present, the leading words of the chunk otherwise.
func Topic(chunks []reranker.Scored) string {
	if len(chunks) == 0 {
		return ""
	}
	if title := chunks[0].Metadata["title"]; title != "" {
		return title
	}
	words := strings.Fields(chunks[0].Content)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}
