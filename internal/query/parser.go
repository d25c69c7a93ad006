// Package query recognizes spending questions in chat text and answers them
// from the ledger.
package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"gastos/internal/core"
	"gastos/internal/extract"
)

const (
	OperationSum = "sum"
	OperationMax = "max"
)

// Intent is a parsed spending question. Month and Year are zero when the
// text does not resolve them; nil Categories means all categories.
type Intent struct {
	Operation  string
	Month      int
	Year       int
	Categories []core.Category
}

var monthNames = []struct {
	name  string
	month int
}{
	{"enero", 1},
	{"febrero", 2},
	{"marzo", 3},
	{"abril", 4},
	{"mayo", 5},
	{"junio", 6},
	{"julio", 7},
	{"agosto", 8},
	{"septiembre", 9},
	{"setiembre", 9},
	{"octubre", 10},
	{"noviembre", 11},
	{"diciembre", 12},
}

var (
	analysisWords = []string{
		"cuanto", "cuanta", "cual", "cuando", "total", "maximo", "max", "suma", "sumar",
		"cada cosa", "por categoria", "desglose",
	}
	expenseWords = []string{
		"gasto", "gaste", "gastado", "salida", "obligacion", "unclear", "otro", "ocio",
	}

	yearPattern = regexp.MustCompile(`\b(20\d{2})\b`)
	maxPattern  = regexp.MustCompile(`\bmax\b`)

	categoryPatterns = []struct {
		category core.Category
		pattern  *regexp.Regexp
	}{
		{core.CategoryLeisure, regexp.MustCompile(`\b(salidas?|ocio|leisure)\b`)},
		{core.CategoryObligation, regexp.MustCompile(`\b(obligacion(es)?|obligations?)\b`)},
		{core.CategoryUnclear, regexp.MustCompile(`\b(unclear|otros?)\b`)},
	}

	monthPatterns = compileMonthPatterns()
)

func compileMonthPatterns() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(monthNames))
	for i, m := range monthNames {
		out[i] = regexp.MustCompile(`\b` + m.name + `\b`)
	}
	return out
}

// MonthName returns the Spanish name of month, or its number when out of range.
func MonthName(month int) string {
	for _, m := range monthNames {
		if m.month == month {
			return m.name
		}
	}
	return strconv.Itoa(month)
}

// Parser detects query intents. Now is the clock used for relative months.
type Parser struct {
	Now func() time.Time
}

func NewParser() *Parser {
	return &Parser{Now: time.Now}
}

// Parse returns the intent expressed by text, or false when text is not a
// spending question. Text shaped like a rule-grammar expense is never a query.
func (p *Parser) Parse(text string, loc *time.Location) (Intent, bool) {
	if extract.MatchesRule(text) {
		return Intent{}, false
	}
	norm := core.NormalizeText(text)
	if norm == "" || strings.Contains(norm, "tipo de gasto") {
		return Intent{}, false
	}

	relative := strings.Contains(norm, "mes pasado") || strings.Contains(norm, "este mes")
	named := namedMonth(norm)

	asks := containsAny(norm, analysisWords) || strings.HasSuffix(norm, "?")
	about := containsAny(norm, expenseWords) || relative || named != 0
	if !asks || !about {
		return Intent{}, false
	}

	intent := Intent{Operation: OperationSum}
	switch {
	case strings.Contains(norm, "mes pasado"):
		now := p.now(loc)
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
		intent.Month, intent.Year = int(first.Month()), first.Year()
	case strings.Contains(norm, "este mes"):
		now := p.now(loc)
		intent.Month, intent.Year = int(now.Month()), now.Year()
	default:
		intent.Month = named
		if m := yearPattern.FindStringSubmatch(norm); m != nil {
			intent.Year, _ = strconv.Atoi(m[1])
		}
	}

	if strings.Contains(norm, "maximo") || maxPattern.MatchString(norm) {
		intent.Operation = OperationMax
	}

	for _, cp := range categoryPatterns {
		if cp.pattern.MatchString(norm) {
			intent.Categories = append(intent.Categories, cp.category)
		}
	}
	return intent, true
}

func (p *Parser) now(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().In(loc)
}

func namedMonth(norm string) int {
	for i, re := range monthPatterns {
		if re.MatchString(norm) {
			return monthNames[i].month
		}
	}
	return 0
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
