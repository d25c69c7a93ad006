package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

// LatestYearForMonth returns the most recent year in which chatID recorded
// any expense during month (1-12).
func (l *Ledger) LatestYearForMonth(ctx context.Context, chatID int64, month int) (int, bool, error) {
	var year sql.NullInt64
	err := l.db.QueryRowContext(ctx, `
		SELECT MAX(CAST(substr(month_key, 1, 4) AS INTEGER))
		FROM expenses
		WHERE chat_id = ? AND substr(month_key, 6, 2) = ?`,
		chatID, fmt.Sprintf("%02d", month)).Scan(&year)
	if err != nil {
		return 0, false, fmt.Errorf("latest year for month: %w", err)
	}
	if !year.Valid {
		return 0, false, nil
	}
	return int(year.Int64), true, nil
}

// SumByCategory totals the chat's month per canonical category. Stored
// labels are normalized, so legacy Spanish labels land in their category.
func (l *Ledger) SumByCategory(ctx context.Context, chatID int64, monthKey string) (map[core.Category]decimal.Decimal, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %[1]s, COALESCE(SUM(%[2]s), 0)
		FROM expenses
		WHERE chat_id = ? AND month_key = ?
		GROUP BY %[1]s`, l.categoryCol, l.amountCol), chatID, monthKey)
	if err != nil {
		return nil, fmt.Errorf("sum by category: %w", err)
	}
	defer rows.Close()

	sums := make(map[core.Category]decimal.Decimal, len(core.Categories))
	for rows.Next() {
		var (
			label string
			total float64
		)
		if err := rows.Scan(&label, &total); err != nil {
			return nil, fmt.Errorf("scan category sum: %w", err)
		}
		c := core.NormalizeCategory(label)
		sums[c] = sums[c].Add(decimal.NewFromFloat(total))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sum by category: %w", err)
	}

	for c, v := range sums {
		sums[c] = v.Round(2)
	}
	return sums, nil
}

// SumAmounts totals the chat's month, restricted to categories when non-empty.
func (l *Ledger) SumAmounts(ctx context.Context, chatID int64, monthKey string, categories []core.Category) (decimal.Decimal, error) {
	where, args := l.scope(chatID, monthKey, categories)

	var total float64
	err := l.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COALESCE(SUM(%s), 0) FROM expenses WHERE %s`, l.amountCol, where), args...).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum amounts: %w", err)
	}
	return decimal.NewFromFloat(total).Round(2), nil
}

// MaxAmount returns the largest single expense in scope, or false when the
// scope is empty.
func (l *Ledger) MaxAmount(ctx context.Context, chatID int64, monthKey string, categories []core.Category) (decimal.Decimal, bool, error) {
	where, args := l.scope(chatID, monthKey, categories)

	var top sql.NullFloat64
	err := l.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT MAX(%s) FROM expenses WHERE %s`, l.amountCol, where), args...).Scan(&top)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("max amount: %w", err)
	}
	if !top.Valid {
		return decimal.Zero, false, nil
	}
	return decimal.NewFromFloat(top.Float64).Round(2), true, nil
}

// scope builds the WHERE clause for a chat month, expanding each category to
// every stored label that means it.
func (l *Ledger) scope(chatID int64, monthKey string, categories []core.Category) (string, []any) {
	where := "chat_id = ? AND month_key = ?"
	args := []any{chatID, monthKey}

	var labels []string
	for _, c := range categories {
		labels = append(labels, core.QueryLabels(c)...)
	}
	if len(labels) == 0 {
		return where, args
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(labels)), ",")
	where += fmt.Sprintf(" AND lower(%s) IN (%s)", l.categoryCol, placeholders)
	for _, label := range labels {
		args = append(args, label)
	}
	return where, args
}
