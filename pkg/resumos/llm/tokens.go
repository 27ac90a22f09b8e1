package llm

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts prompt tokens with the model's BPE encoding. When the
// encoding cannot be loaded it estimates one token per four characters.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the encoding for model.
func NewTokenCounter(model string, logger *slog.Logger) *TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		if logger != nil {
			logger.Warn("llm: token encoding unavailable, estimating", "model", model, "error", err)
		}
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// Exact reports whether counts come from the real encoding.
func (t *TokenCounter) Exact() bool { return t.enc != nil }

// CountTokens returns the number of tokens of text.
func (t *TokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

func estimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
