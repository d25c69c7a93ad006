package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

// Ledger is the read side of the expense ledger used to answer questions.
type Ledger interface {
	LatestYearForMonth(ctx context.Context, chatID int64, month int) (int, bool, error)
	SumByCategory(ctx context.Context, chatID int64, monthKey string) (map[core.Category]decimal.Decimal, error)
	SumAmounts(ctx context.Context, chatID int64, monthKey string, categories []core.Category) (decimal.Decimal, error)
	MaxAmount(ctx context.Context, chatID int64, monthKey string, categories []core.Category) (decimal.Decimal, bool, error)
}

// Answer is the reply to a query. Handled is always true for parsed intents.
type Answer struct {
	Handled bool
	Text    string
}

// Service answers spending questions for one chat at a time.
type Service struct {
	ledger   Ledger
	currency string
}

func NewService(ledger Ledger, currency string) *Service {
	return &Service{ledger: ledger, currency: currency}
}

// Answer resolves intent against chatID's ledger rows. A chatID of zero means
// the chat is unknown. Errors come only from the ledger.
func (s *Service) Answer(ctx context.Context, chatID int64, intent Intent) (Answer, error) {
	if chatID == 0 {
		return reply("I could not identify the chat id for this query."), nil
	}
	if intent.Month < 1 || intent.Month > 12 {
		return reply("I can answer that, but I need the month. Example: 'How much did I spend in febrero 2026?'"), nil
	}

	monthName := MonthName(intent.Month)
	year := intent.Year
	if year == 0 {
		latest, ok, err := s.ledger.LatestYearForMonth(ctx, chatID, intent.Month)
		if err != nil {
			return Answer{}, fmt.Errorf("resolve year: %w", err)
		}
		if !ok {
			return reply(fmt.Sprintf("I could not find expenses for %s.", monthName)), nil
		}
		year = latest
	}

	monthKey := fmt.Sprintf("%04d-%02d", year, intent.Month)
	period := fmt.Sprintf("%s %d", monthName, year)
	scope := describeScope(intent.Categories)

	if intent.Operation == OperationMax {
		top, ok, err := s.ledger.MaxAmount(ctx, chatID, monthKey, intent.Categories)
		if err != nil {
			return Answer{}, err
		}
		if !ok {
			return reply(fmt.Sprintf("No expenses found for %s in %s.", scope, period)), nil
		}
		return reply(fmt.Sprintf("Maximum expense for %s in %s: %s.",
			scope, period, core.FormatMoney(top, s.currency))), nil
	}

	if len(intent.Categories) == 0 {
		sums, err := s.ledger.SumByCategory(ctx, chatID, monthKey)
		if err != nil {
			return Answer{}, err
		}
		return reply(s.breakdown(core.NewMonthOverview(year, intent.Month, sums), period)), nil
	}

	total, err := s.ledger.SumAmounts(ctx, chatID, monthKey, intent.Categories)
	if err != nil {
		return Answer{}, err
	}
	return reply(fmt.Sprintf("Total expense for %s in %s: %s.",
		scope, period, core.FormatMoney(total, s.currency))), nil
}

func (s *Service) breakdown(ov core.MonthOverview, period string) string {
	names := make([]string, 0, len(ov.ByCategory))
	parts := make([]string, 0, len(ov.ByCategory))
	for _, ca := range ov.ByCategory {
		names = append(names, ca.Category.String())
		parts = append(parts, ca.Category.String()+" "+core.FormatMoney(ca.Amount, s.currency))
	}
	return fmt.Sprintf("Total expense in %s (%s): %s = %s.",
		period,
		strings.Join(names, " + "),
		strings.Join(parts, " + "),
		core.FormatMoney(ov.Total, s.currency))
}

func describeScope(categories []core.Category) string {
	if len(categories) == 0 {
		return "all categories"
	}
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.String()
	}
	return strings.Join(names, ", ")
}

func reply(text string) Answer {
	return Answer{Handled: true, Text: text}
}
