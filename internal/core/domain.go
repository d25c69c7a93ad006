package core

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CategoryLeisure    Category = "leisure"
	CategoryObligation Category = "obligation"
	CategoryUnclear    Category = "unclear"
)

const (
	SourceRule     Source = "rule"
	SourceLLM      Source = "llm"
	SourceLLMError Source = "llm_error"
)

type (
	// Category is one of the three canonical expense categories.
	Category string

	// Source records which stage of the pipeline produced an expense.
	Source string

	// Expense is the result of classification: what gets committed to the ledger.
	Expense struct {
		Category Category
		Amount   decimal.Decimal
	}

	// ExpenseRecord is a ledger row. UpdateID is unique across the ledger.
	ExpenseRecord struct {
		ID         int64
		UpdateID   int64
		ChatID     int64
		Category   Category
		Amount     decimal.Decimal
		Currency   string
		OccurredAt time.Time
		MonthKey   string
		RawText    string
		Source     Source
		CreatedAt  time.Time
	}

	// SimilarExample is a neighbor returned by the vector index for one
	// classification call. Category is the raw stored label.
	SimilarExample struct {
		Document string
		Category string
		Amount   decimal.Decimal
		Distance float64
		MonthKey string
	}
)

// Categories lists the canonical categories in breakdown order.
var Categories = []Category{CategoryLeisure, CategoryObligation, CategoryUnclear}

var (
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidAmount   = errors.New("invalid amount")
)

func (c Category) Valid() bool {
	switch c {
	case CategoryLeisure, CategoryObligation, CategoryUnclear:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

func (s Source) Valid() bool {
	switch s {
	case SourceRule, SourceLLM, SourceLLMError:
		return true
	}
	return false
}

func (e Expense) Validate() error {
	if !e.Category.Valid() {
		return ErrInvalidCategory
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// MonthKey derives the YYYY-MM aggregation bucket of t in its own location.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}
