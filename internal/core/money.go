// Package core provides money parsing and handling utilities.
//
// This file contains the amount parser used by every extraction stage and the
// money formatting used in replies.
package core

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoAmount is returned when text holds no usable positive amount.
var ErrNoAmount = errors.New("no amount")

var (
	thousand = decimal.NewFromInt(1000)

	currencyWords    = regexp.MustCompile(`\b(pesos?|ars|usd|dolares|dolar|euros?|eur)\b|[$€]`)
	multiplierSuffix = regexp.MustCompile(`^(.*\d)\s*(mil|k)$`)
	amountToken      = regexp.MustCompile(`\d[\d.,]*(?:\s*(?:mil|k)\b)?`)
)

// ParseAmount converts a numeric literal, or free text that contains one, to a
// positive amount rounded to two decimals.
//
// Separator ambiguity is resolved without locale hints:
//   - both "," and "." present: the later one is the decimal point
//   - one kind present once: up to two trailing digits are decimals; exactly
//     three trailing digits after an integer part of at most three digits is a
//     thousands group; anything else is decimal
//   - one kind present several times: thousands grouping
//
// A trailing "mil" or "k" multiplies by 1000.
//
// Examples:
//
//	ParseAmount("1.234,56") -> 1234.56
//	ParseAmount("1,234.56") -> 1234.56
//	ParseAmount("1,234")    -> 1234
//	ParseAmount("1,23")     -> 1.23
//	ParseAmount("2 mil")    -> 2000
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := FoldText(raw)
	s = strings.TrimSpace(currencyWords.ReplaceAllString(s, " "))
	if s == "" {
		return decimal.Zero, ErrNoAmount
	}

	multiplier := decimal.NewFromInt(1)
	if m := multiplierSuffix.FindStringSubmatch(s); m != nil {
		s = m[1]
		multiplier = thousand
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	s = strings.TrimRight(b.String(), ".,")
	if !hasDigit(s) || strings.Contains(s, "-") {
		// A sign anywhere means the amount is negative or malformed.
		return decimal.Zero, ErrNoAmount
	}

	d, err := decimal.NewFromString(normalizeSeparators(s))
	if err != nil {
		return decimal.Zero, ErrNoAmount
	}
	d = d.Mul(multiplier).Round(2)
	if !d.IsPositive() {
		return decimal.Zero, ErrNoAmount
	}
	return d, nil
}

// normalizeSeparators rewrites s so that "." is the only (optional) decimal point.
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			return strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		return resolveSeparator(s, ",")
	case lastDot >= 0:
		return resolveSeparator(s, ".")
	}
	return s
}

func resolveSeparator(s, sep string) string {
	parts := strings.Split(s, sep)
	if len(parts) > 2 {
		return strings.Join(parts, "")
	}
	intPart, frac := parts[0], parts[1]
	if frac == "" {
		return intPart
	}
	// ".500" has no integer part to group, so it stays a fraction.
	if intPart == "" {
		return "0." + frac
	}
	if len(frac) == 3 && len(intPart) <= 3 {
		return intPart + frac
	}
	return intPart + "." + frac
}

// LargestAmount scans free text for every number-like token (including the
// "2 mil" and "5k" forms) and returns the one with the largest value.
func LargestAmount(text string) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		found bool
	)
	for _, tok := range amountToken.FindAllString(FoldText(text), -1) {
		d, err := ParseAmount(tok)
		if err != nil {
			continue
		}
		if !found || d.GreaterThan(best) {
			best, found = d, true
		}
	}
	return best, found
}

// FormatAmount renders d with "." as thousands separator and "," as decimal
// separator, dropping a ",00" tail: 1000 -> "1.000", 1000.5 -> "1.000,50".
func FormatAmount(d decimal.Decimal) string {
	d = d.Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}

	fixed := d.StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}

	out := sign + grouped.String()
	if frac != "00" {
		out += "," + frac
	}
	return out
}

// FormatMoney is FormatAmount followed by the currency code.
func FormatMoney(d decimal.Decimal, currency string) string {
	return FormatAmount(d) + " " + currency
}
