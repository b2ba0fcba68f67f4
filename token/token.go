// Package token estimates token counts for budget checks before a model
// call. Counts are estimates, not tokenizer output; providers that need
// exact numbers get them back in usage metadata.
package token

import (
	"unicode"

	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/registry"
)

// Counter estimates how many tokens a text costs.
type Counter interface {
	Count(text string) int
}

func init() {
	registry.MustRegister(registry.CategoryTokenCounter, registry.DefaultName, Counter(Simple{}))
}

// Simple approximates ASCII text at four characters per token and CJK at
// one token per rune, which tracks common tokenizers within tens of
// percent.
type Simple struct{}

func (Simple) Count(text string) int {
	ascii, wide := 0, 0
	for _, r := range text {
		if r < 128 {
			ascii++
		} else if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			wide++
		} else {
			ascii += 2
		}
	}
	return (ascii+3)/4 + wide
}

// Resolve returns the counter registered under name, defaulting to Simple.
func Resolve(name string) (Counter, error) {
	if name == "" {
		name = registry.DefaultName
	}
	c, err := registry.ResolveAs[Counter](registry.Global, registry.CategoryTokenCounter, name)
	if err != nil {
		return nil, core.Errorf(core.NOT_FOUND, err, "token counter %q is not registered", name)
	}
	return c, nil
}

// CountMessages sums the estimate over a conversation.
func CountMessages(c Counter, messages []core.Message) int {
	total := 0
	for _, m := range messages {
		total += c.Count(m.Content) + c.Count(string(m.Role))
	}
	return total
}
