package docstore

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkerConfig controls how documents are split into chunks.
type ChunkerConfig struct {
	// TargetTokens is the preferred chunk size. A chunk closes once it
	// reaches this size at a sentence boundary.
	TargetTokens int

	// MaxTokens is the hard upper bound. Sentences longer than this are
	// split mid-sentence at word boundaries.
	MaxTokens int

	// OverlapFraction of a chunk's tail is repeated at the start of the
	// next chunk so context spanning a boundary survives retrieval.
	OverlapFraction float64
}

// ApplyDefaults sets default values for unset fields.
func (c *ChunkerConfig) ApplyDefaults() {
	if c.TargetTokens == 0 {
		c.TargetTokens = 350
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 500
	}
}

// Validate validates the configuration.
func (c ChunkerConfig) Validate() error {
	if c.TargetTokens <= 0 {
		return fmt.Errorf("target tokens must be positive, got %d", c.TargetTokens)
	}
	if c.MaxTokens < c.TargetTokens {
		return fmt.Errorf("max tokens %d below target %d", c.MaxTokens, c.TargetTokens)
	}
	if c.OverlapFraction < 0 || c.OverlapFraction >= 1 {
		return fmt.Errorf("overlap fraction must be in [0,1), got %v", c.OverlapFraction)
	}
	return nil
}

// Chunker splits document text into retrieval-sized chunks at sentence
// boundaries, with configurable overlap between consecutive chunks.
//
// Chunking is deterministic: the same text and configuration always yield
// the same chunks, which keeps chunk ids stable across re-ingestion.
type Chunker struct {
	config ChunkerConfig
}

// NewChunker creates a chunker with the given configuration.
func NewChunker(config ChunkerConfig) (*Chunker, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating chunker config: %w", err)
	}
	return &Chunker{config: config}, nil
}

// Split chunks text and returns the chunk contents in document order.
// Whitespace-only input yields no chunks.
func (c *Chunker) Split(text string) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	// Hard-split sentences that alone exceed the max budget.
	var units []string
	for _, s := range sentences {
		if countTokens(s) <= c.config.MaxTokens {
			units = append(units, s)
			continue
		}
		units = append(units, splitLongSentence(s, c.config.MaxTokens)...)
	}

	overlapTokens := int(float64(c.config.TargetTokens) * c.config.OverlapFraction)

	var chunks []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))

		// Seed the next chunk with the tail of this one.
		var tail []string
		tailTokens := 0
		for i := len(current) - 1; i >= 0 && tailTokens < overlapTokens; i-- {
			tail = append([]string{current[i]}, tail...)
			tailTokens += countTokens(current[i])
		}
		current = tail
		currentTokens = tailTokens
	}

	for _, u := range units {
		n := countTokens(u)
		if currentTokens+n > c.config.MaxTokens && len(current) > 0 {
			flush()
		}
		current = append(current, u)
		currentTokens += n
		if currentTokens >= c.config.TargetTokens {
			flush()
		}
	}
	// Don't emit a trailing chunk that is pure overlap.
	if len(current) > 0 && (len(chunks) == 0 || !isSuffixOf(chunks[len(chunks)-1], current)) {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// ChunkDocument splits text and wraps the pieces as Chunks of docID.
func (c *Chunker) ChunkDocument(docID, text string) []Chunk {
	parts := c.Split(text)
	chunks := make([]Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = Chunk{
			ID:         ChunkID(docID, i),
			DocumentID: docID,
			Index:      i,
			Content:    p,
			TokenCount: countTokens(p),
		}
	}
	return chunks
}

func isSuffixOf(chunk string, sentences []string) bool {
	return strings.HasSuffix(chunk, strings.Join(sentences, " "))
}

// abbreviations that end with a period but do not end a sentence.
var abbreviations = map[string]struct{}{
	"bl.a": {}, "ca": {}, "dvs": {}, "e.g": {}, "etc": {}, "f.eks": {},
	"fig": {}, "i.e": {}, "jf": {}, "kap": {}, "mr": {}, "mrs": {},
	"nr": {}, "osv": {}, "pkt": {}, "vs": {},
}

// splitSentences breaks text on sentence-ending punctuation followed by
// whitespace and an upper-case or digit start. Newlines that look like
// paragraph breaks also terminate sentences.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	emit := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}

	runes := []rune(strings.TrimSpace(text))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		b.WriteRune(r)

		switch r {
		case '\n':
			// Blank line = paragraph break.
			if i+1 < len(runes) && runes[i+1] == '\n' {
				emit()
			}
		case '.', '!', '?':
			if r == '.' && isAbbreviation(b.String()) {
				continue
			}
			if i+1 >= len(runes) {
				continue
			}
			next := runes[i+1]
			if !unicode.IsSpace(next) {
				continue
			}
			// Peek past the whitespace for a sentence-start shape.
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			if j >= len(runes) || unicode.IsUpper(runes[j]) || unicode.IsDigit(runes[j]) {
				emit()
			}
		}
	}
	emit()
	return sentences
}

func isAbbreviation(prefix string) bool {
	prefix = strings.TrimSuffix(prefix, ".")
	idx := strings.LastIndexFunc(prefix, unicode.IsSpace)
	word := strings.ToLower(prefix[idx+1:])
	_, ok := abbreviations[word]
	return ok
}

// splitLongSentence hard-splits a sentence into word windows of at most
// maxTokens.
func splitLongSentence(s string, maxTokens int) []string {
	words := strings.Fields(s)
	var parts []string
	for start := 0; start < len(words); start += maxTokens {
		end := start + maxTokens
		if end > len(words) {
			end = len(words)
		}
		parts = append(parts, strings.Join(words[start:end], " "))
	}
	return parts
}

// countTokens approximates token count as whitespace-separated words.
// Close enough for budgeting; the embedder does its own tokenization.
func countTokens(s string) int {
	return len(strings.Fields(s))
}

// NormalizeText collapses whitespace runs and strips control characters so
// hashing and chunking see a canonical form.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(utf8.RuneCountInString(text))
	space := false
	for _, r := range text {
		switch {
		case r == '\n':
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteRune(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
