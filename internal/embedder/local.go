package embedder

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// LocalModel names the feature hashing model
const LocalModel = "hash-v1"

const (
	wordWeight    = 1.0
	trigramWeight = 0.5
)

// LocalProvider is a deterministic feature hashing embedder
type LocalProvider struct {
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local embedder producing vectors of dimension
// (LocalDimension when dimension <= 0)
func NewLocalProvider(dimension int, cache *Cache) (*LocalProvider, error) {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	if dimension < 16 {
		return nil, errors.Wrapf(ErrInvalidInput, "dimension %d too small", dimension)
	}
	return &LocalProvider{dimension: dimension, cache: cache}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(ProviderLocal, LocalModel, req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    l.vectorize(req.Text),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     LocalModel,
		Hash:      hash,
	}
	if l.cache != nil {
		l.cache.Set(hash, emb)
	}
	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, errors.Wrapf(err, "embedding text %d", i)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      LocalModel,
	}, nil
}

// vectorize hashes words and character trigrams into signed buckets
func (l *LocalProvider) vectorize(text string) []float32 {
	vec := make([]float32, l.dimension)
	for _, word := range words(text) {
		l.add(vec, "w:"+word, wordWeight)

		padded := []rune("^" + word + "$")
		for i := 0; i+3 <= len(padded); i++ {
			l.add(vec, "t:"+string(padded[i:i+3]), trigramWeight)
		}
	}
	return NormalizeVector(vec)
}

func (l *LocalProvider) add(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	idx := h % uint64(l.dimension)
	if h>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// words lowercases text and splits it into letter/digit runs. Placeholders
// such as <NUM> or <*> are kept as single words.
func words(text string) []string {
	var out []string
	var b strings.Builder

	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}

	runes := []rune(strings.ToLower(text))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '<' {
			if end := placeholderEnd(runes, i); end > 0 {
				flush()
				out = append(out, string(runes[i:end+1]))
				i = end
				continue
			}
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return out
}

// placeholderEnd returns the index of the '>' closing a placeholder opened
// at start, or -1
func placeholderEnd(runes []rune, start int) int {
	for j := start + 1; j < len(runes) && j-start <= 16; j++ {
		switch {
		case runes[j] == '>':
			if j == start+1 {
				return -1
			}
			return j
		case runes[j] == '*' || runes[j] == '_' || unicode.IsLetter(runes[j]):
		default:
			return -1
		}
	}
	return -1
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return LocalModel
}

func (l *LocalProvider) Close() error {
	return nil
}
