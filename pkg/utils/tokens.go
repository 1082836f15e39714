// Package utils provides token counting and string helpers shared across coda.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/coda/pkg/protocol"
)

// TokenCounter performs accurate per-model token counting. Used by the
// history store to estimate context pressure before the provider has reported
// real usage numbers.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	// Encodings are expensive to build; cache them per model.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for the given model, falling back to the
// cl100k_base encoding for models tiktoken does not know.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count for a text fragment.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens across a conversation, including per-message
// role overhead (3 tokens per message in the OpenAI chat format).
func (tc *TokenCounter) CountMessages(messages []protocol.Message) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	const tokensPerMessage = 3

	total := 0
	for i := range messages {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(string(messages[i].Role), nil, nil))
		total += len(tc.encoding.Encode(messages[i].Text(), nil, nil))
	}
	return total
}

// EstimateTokens is the cheap request-budget heuristic: one token per four
// serialized bytes, rounded up. The request builder uses this rather than the
// exact counter so the max_tokens computation stays encoding-independent.
func EstimateTokens(serializedBytes int) int {
	if serializedBytes <= 0 {
		return 0
	}
	return (serializedBytes + 3) / 4
}
