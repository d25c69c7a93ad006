// Package extract turns free-text chat messages into expenses: a strict
// rule grammar first, then an LLM prompt with neighbor hints, a tolerant
// response parser, a direct numeric fallback and a neighbor-vote correction.
package extract

import (
	"regexp"

	"gastos/internal/core"
)

var rulePattern = regexp.MustCompile(
	`(?i)^\s*tipo\s+de\s+gasto\s*:\s*(?P<category>[^,]+?)\s*,\s*gasto\s*:\s*(?P<amount>[0-9]+(?:[.,][0-9]+)?)\s*$`,
)

// MatchesRule reports whether text has the shape of the fixed grammar
// "tipo de gasto: <category>, gasto: <amount>", whether or not the amount is valid.
func MatchesRule(text string) bool {
	return rulePattern.MatchString(core.CollapseSpaces(text))
}

// ParseRule extracts an expense from the fixed grammar. A match whose amount
// does not parse to a positive value yields no expense.
func ParseRule(text string) (core.Expense, bool) {
	m := rulePattern.FindStringSubmatch(core.CollapseSpaces(text))
	if m == nil {
		return core.Expense{}, false
	}

	amount, err := core.ParseAmount(m[rulePattern.SubexpIndex("amount")])
	if err != nil {
		return core.Expense{}, false
	}
	return core.Expense{
		Category: core.NormalizeCategory(m[rulePattern.SubexpIndex("category")]),
		Amount:   amount,
	}, true
}
