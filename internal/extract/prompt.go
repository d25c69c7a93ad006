package extract

import (
	"strings"

	"gastos/internal/core"
)

const rawTextMarker = "raw_text="

// PromptOptions bound the size of the classification prompt and response.
type PromptOptions struct {
	ExamplesLimit   int
	ExampleMaxChars int
	NumPredict      int
}

func DefaultPromptOptions() PromptOptions {
	return PromptOptions{ExamplesLimit: 3, ExampleMaxChars: 80, NumPredict: 64}
}

// BuildPrompt renders the extraction instructions, up to ExamplesLimit
// neighbor hints as "category; excerpt" lines, and the user text.
func BuildPrompt(text string, examples []core.SimilarExample, opts PromptOptions) string {
	var b strings.Builder
	b.WriteString("Extract an expense from the user text (Spanish or English).\n")
	b.WriteString("Return ONLY valid JSON in this exact shape:\n")
	b.WriteString(`{"category":"leisure|obligation|unclear","amount":<number or null>}` + "\n")
	b.WriteString("Rules:\n")
	b.WriteString("- leisure: outings, restaurants, entertainment, optional purchases.\n")
	b.WriteString("- obligation: rent, utilities, taxes, debts, fixed bills.\n")
	b.WriteString("- Use \"unclear\" only when the category is genuinely ambiguous.\n")
	b.WriteString("- Use only explicit numeric amounts found in the user text.\n")
	b.WriteString("- Do not invent numbers.\n")
	b.WriteString("- If there is no clear amount, return amount as null and category as \"unclear\".\n")

	if n := min(len(examples), opts.ExamplesLimit); n > 0 {
		b.WriteString("Similar past expenses from this chat (category hints only, never copy their amounts):\n")
		for _, ex := range examples[:n] {
			b.WriteString("- ")
			b.WriteString(string(core.NormalizeCategory(ex.Category)))
			b.WriteString("; ")
			b.WriteString(Excerpt(ex.Document, opts.ExampleMaxChars))
			b.WriteString("\n")
		}
	}

	b.WriteString("User text: ")
	b.WriteString(core.CollapseSpaces(text))
	return b.String()
}

// Excerpt returns the user text embedded in an indexed document, collapsed
// and cut to maxChars runes.
func Excerpt(document string, maxChars int) string {
	if i := strings.Index(document, rawTextMarker); i >= 0 {
		document = document[i+len(rawTextMarker):]
	}
	s := core.CollapseSpaces(document)
	r := []rune(s)
	if maxChars > 0 && len(r) > maxChars {
		return strings.TrimSpace(string(r[:maxChars-1])) + "…"
	}
	return s
}
