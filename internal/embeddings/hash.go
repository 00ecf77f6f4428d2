package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashConfig holds configuration for the feature-hashing provider.
type HashConfig struct {
	// Dimension is the output vector dimension. Defaults to 384.
	Dimension int
}

// HashProvider is a deterministic, pure-Go embedding provider using the
// hashing trick: word and bigram features are hashed into a fixed number of
// buckets with a sign hash, then L2-normalized. It captures lexical overlap
// only, not semantics, and exists for tests and CGO-less builds.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a feature-hashing embedding provider.
func NewHashProvider(cfg HashConfig) (*HashProvider, error) {
	dim := cfg.Dimension
	if dim == 0 {
		dim = 384
	}
	if dim < 8 {
		return nil, fmt.Errorf("%w: dimension %d too small", ErrInvalidConfig, dim)
	}
	return &HashProvider{dimension: dim}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vec, err := p.embed(text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query. Queries and
// passages share one feature space here, so the encoding is identical.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return p.embed(text)
}

func (p *HashProvider) embed(text string) ([]float32, error) {
	tokens := hashTokenize(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no encodable tokens in input", ErrEmbeddingFailed)
	}

	vec := make([]float32, p.dimension)
	add := func(feature string) {
		h := fnv.New64a()
		h.Write([]byte(feature))
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dimension))
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	for i, tok := range tokens {
		add(tok)
		if i+1 < len(tokens) {
			add(tok + " " + tokens[i+1])
		}
	}

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return nil, fmt.Errorf("%w: degenerate vector", ErrEmbeddingFailed)
	}
	norm := float32(1 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= norm
	}
	return vec, nil
}

// Dimension returns the configured vector dimension.
func (p *HashProvider) Dimension() int {
	return p.dimension
}

// ModelVersion identifies the hashing scheme.
func (p *HashProvider) ModelVersion() string {
	return fmt.Sprintf("hash/fnv64a-bigram-d%d", p.dimension)
}

// Close is a no-op; the provider holds no resources.
func (p *HashProvider) Close() error {
	return nil
}

// hashTokenize lowercases and splits on non-letter/digit runes.
func hashTokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var _ Provider = (*HashProvider)(nil)
