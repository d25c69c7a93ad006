package extract

import (
	"context"
	"fmt"

	"gastos/internal/core"
)

// Generator produces raw JSON-shaped text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, numPredict int) (string, error)
}

// Classifier extracts an expense through the LLM, falling back to scanning
// the text for amounts when the response is unusable.
type Classifier struct {
	gen  Generator
	opts PromptOptions
}

func NewClassifier(gen Generator, opts PromptOptions) *Classifier {
	return &Classifier{gen: gen, opts: opts}
}

// Extract returns the expense and whether one was found. A non-nil error
// means the generation service failed; callers degrade with Fallback.
func (c *Classifier) Extract(ctx context.Context, text string, examples []core.SimilarExample) (core.Expense, bool, error) {
	raw, err := c.gen.Generate(ctx, BuildPrompt(text, examples, c.opts), c.opts.NumPredict)
	if err != nil {
		return core.Expense{}, false, fmt.Errorf("generating extraction: %w", err)
	}

	if out, ok := ParseModelOutput(raw).(Parsed); ok {
		return core.Expense{Category: out.Category, Amount: out.Amount}, true, nil
	}
	exp, ok := Fallback(text)
	return exp, ok, nil
}

// Fallback picks the largest explicit amount in text with category unclear.
func Fallback(text string) (core.Expense, bool) {
	amount, ok := core.LargestAmount(text)
	if !ok {
		return core.Expense{}, false
	}
	return core.Expense{Category: core.CategoryUnclear, Amount: amount}, true
}
