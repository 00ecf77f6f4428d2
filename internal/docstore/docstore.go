// Package docstore manages the document corpus: validation, categorization,
// chunking and persistence of ingested railway engineering documents.
//
// The store is the source of truth for document and chunk metadata; the
// vector index holds only embeddings and denormalized filter fields. Chunk
// ids are derived from the document id plus position, so re-ingesting a
// document replaces its chunks wholesale.
package docstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for document operations.
var (
	// ErrDocumentTooShort indicates the raw text is below the minimum
	// ingestible length.
	ErrDocumentTooShort = errors.New("document too short to ingest")

	// ErrUnsupportedLanguage indicates a language tag outside the
	// configured accepted set.
	ErrUnsupportedLanguage = errors.New("unsupported document language")

	// ErrDocumentNotFound indicates the document id is unknown.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrChunkNotFound indicates the chunk id is unknown.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrDuplicateDocument indicates content identical to an already
	// ingested document.
	ErrDuplicateDocument = errors.New("duplicate document content")
)

// Category classifies a document by subject area.
type Category string

// Document categories.
const (
	CategoryRegulation Category = "regulation"
	CategoryProject    Category = "project"
	CategoryCompany    Category = "company"
	CategoryMarket     Category = "market"
	CategoryOther      Category = "other"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryRegulation, CategoryProject, CategoryCompany, CategoryMarket, CategoryOther:
		return true
	}
	return false
}

// Document is an ingested document's metadata. Raw text is not retained;
// only chunks are stored.
type Document struct {
	// ID uniquely identifies the document.
	ID string `json:"id"`

	// Title is the human-readable document title.
	Title string `json:"title"`

	// Language is the BCP 47 primary tag ("no" or "en").
	Language string `json:"language"`

	// Category is the detected or supplied subject area.
	Category Category `json:"category"`

	// Source describes where the document came from (file path, URL).
	Source string `json:"source,omitempty"`

	// ContentHash is the SHA-256 of the normalized raw text, used for
	// duplicate detection.
	ContentHash string `json:"content_hash"`

	// ChunkIDs lists the document's chunks in order.
	ChunkIDs []string `json:"chunk_ids"`

	// IngestedAt is when the document entered the store.
	IngestedAt time.Time `json:"ingested_at"`
}

// Chunk is one retrievable unit of a document.
type Chunk struct {
	// ID uniquely identifies the chunk.
	ID string `json:"id"`

	// DocumentID is the owning document.
	DocumentID string `json:"document_id"`

	// Index is the chunk's position within the document, starting at 0.
	Index int `json:"index"`

	// Content is the chunk text, including any overlap prefix.
	Content string `json:"content"`

	// TokenCount is the approximate token count of Content.
	TokenCount int `json:"token_count"`
}

// ChunkID derives the id for chunk index i of document docID.
func ChunkID(docID string, i int) string {
	return fmt.Sprintf("%s:%04d", docID, i)
}

// categoryKeywords maps categories to the Norwegian and English title/body
// markers used by DetectCategory. First match in declaration order wins.
var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategoryRegulation, []string{
		"forskrift", "regelverk", "teknisk regelverk", "krav", "standard",
		"tsi", "era", "godkjenning", "sikkerhetsforskrift",
		"regulation", "requirement", "compliance", "directive", "approval",
	}},
	{CategoryProject, []string{
		"prosjekt", "utbygging", "anlegg", "strekning", "parsell",
		"intercity", "dobbeltspor", "signalanlegg", "ertms",
		"project", "construction", "deployment", "commissioning",
	}},
	{CategoryCompany, []string{
		"selskap", "organisasjon", "ansatte", "ledelse", "tjenester",
		"kompetanse", "erfaring", "referanser",
		"company", "organisation", "organization", "services", "team",
	}},
	{CategoryMarket, []string{
		"marked", "anbud", "kontrakt", "konkurranse", "tilbud", "kostnad",
		"budsjett", "investering",
		"market", "tender", "contract", "procurement", "cost", "budget",
	}},
}

// DetectCategory classifies a document from its title and content. The
// title is weighted by being checked first; an unmatched document falls
// back to CategoryOther.
func DetectCategory(title, content string) Category {
	title = strings.ToLower(title)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(title, w) {
				return ck.category
			}
		}
	}
	body := strings.ToLower(content)
	best := CategoryOther
	bestHits := 0
	for _, ck := range categoryKeywords {
		hits := 0
		for _, w := range ck.words {
			hits += strings.Count(body, w)
		}
		if hits > bestHits {
			best = ck.category
			bestHits = hits
		}
	}
	return best
}

// norwegianMarkers are high-frequency Norwegian function words that are
// rare in English text. Scandinavian-specific letters count double.
var norwegianMarkers = map[string]struct{}{
	"og": {}, "det": {}, "som": {}, "ikke": {}, "på": {}, "er": {},
	"til": {}, "av": {}, "med": {}, "jernbane": {}, "å": {}, "for": {},
	"en": {}, "et": {}, "har": {}, "kan": {}, "skal": {}, "være": {},
}

var englishMarkers = map[string]struct{}{
	"the": {}, "and": {}, "is": {}, "of": {}, "to": {}, "in": {},
	"that": {}, "with": {}, "are": {}, "railway": {}, "be": {}, "this": {},
}

// DetectLanguage guesses "no" or "en" from function-word frequency. Ties
// and texts without markers default to "no", the corpus's primary language.
func DetectLanguage(text string) string {
	var no, en int
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()\"'")
		if _, ok := norwegianMarkers[w]; ok {
			no++
		}
		if _, ok := englishMarkers[w]; ok {
			en++
		}
	}
	for _, r := range text {
		switch r {
		case 'æ', 'ø', 'å', 'Æ', 'Ø', 'Å':
			no += 2
		}
	}
	if en > no {
		return "en"
	}
	return "no"
}
