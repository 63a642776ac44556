package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TiktokenCounter counts tokens with the tiktoken encodings. Models outside
// the OpenAI family are approximated with the closest encoding.
type TiktokenCounter struct {
	matcher *ModelMatcher
	// codecCache caches tokenizer codecs by encoding name
	codecCache map[tokenizer.Encoding]tokenizer.Codec
	cacheMu    sync.RWMutex
}

// NewTiktokenCounter creates a counter for OpenAI and Perplexity models.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{
		matcher: NewModelMatcher(
			[]string{"gpt-", "o1", "o3", "o4", "sonar", "llama-", "text-embedding"},
			nil,
		),
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

func (c *TiktokenCounter) getCodec(model string) (tokenizer.Codec, error) {
	if tmodel, ok := mapModelName(model); ok {
		if codec, err := tokenizer.ForModel(tmodel); err == nil {
			return codec, nil
		}
	}

	encoding := modelToEncoding(model)

	c.cacheMu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	c.cacheMu.Lock()
	c.codecCache[encoding] = codec
	c.cacheMu.Unlock()

	return codec, nil
}

func mapModelName(model string) (tokenizer.Model, bool) {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-4.1"):
		return tokenizer.GPT41, true
	case strings.HasPrefix(model, "gpt-4o"):
		return tokenizer.GPT4o, true
	case strings.HasPrefix(model, "gpt-4"):
		return tokenizer.GPT4, true
	case strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.GPT35Turbo, true
	case model == "o1" || strings.HasPrefix(model, "o1-"):
		return tokenizer.O1, true
	case model == "o3" || strings.HasPrefix(model, "o3-"):
		return tokenizer.O3, true
	case strings.HasPrefix(model, "o4-mini"):
		return tokenizer.O4Mini, true
	default:
		return "", false
	}
}

// modelToEncoding maps model names to encodings for the fallback path.
//
// Llama-based Perplexity models have their own vocabulary; cl100k_base is
// within a few percent for English prose.
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-5"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "sonar"), strings.HasPrefix(model, "llama-"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

// CountText counts tokens for a plain text string.
func (c *TiktokenCounter) CountText(model, text string) (int, error) {
	codec, err := c.getCodec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// SupportsModel reports whether the model has a tiktoken encoding.
func (c *TiktokenCounter) SupportsModel(model string) bool {
	return c.matcher.Matches(strings.ToLower(model))
}
