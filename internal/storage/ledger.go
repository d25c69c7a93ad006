package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"gastos/internal/core"

	_ "modernc.org/sqlite"
)

// ErrUnsupportedSchema means the expenses table has neither the
// categoria/monto nor the category/amount column pair.
var ErrUnsupportedSchema = fmt.Errorf("%w: unsupported expenses schema", core.ErrConfiguration)

var ErrNotFound = errors.New("expense not found")

type StoreStatus string

const (
	StatusStored  StoreStatus = "stored"
	StatusSkipped StoreStatus = "skipped"
)

const (
	VectorQueued  = "queued"
	VectorDropped = "dropped"
	VectorNone    = "none"
)

// IndexQueue receives freshly inserted rows for background vector indexing.
type IndexQueue interface {
	// Enqueue must not block; it reports whether the row was accepted.
	Enqueue(rec core.ExpenseRecord) bool
	// Close waits for queued rows to be processed.
	Close() error
}

type StoreRequest struct {
	UpdateID   int64
	ChatID     int64
	Category   core.Category
	Amount     decimal.Decimal
	OccurredAt time.Time
	RawText    string
	Source     core.Source
}

// StoreResult reports what Store did. Inserted=false with StatusStored means
// the update had already been recorded and ExpenseID is the original row.
type StoreResult struct {
	Status       StoreStatus
	Reason       string
	ExpenseID    int64
	Inserted     bool
	MonthKey     string
	Currency     string
	VectorStatus string
}

// Ledger is the authoritative, idempotent expense store.
type Ledger struct {
	db          *sql.DB
	categoryCol string
	amountCol   string
	currency    string
	queue       IndexQueue
	now         func() time.Time
}

func NewLedger(dbPath, currency string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	l := &Ledger{db: db, currency: currency, now: time.Now}
	if err := l.detectSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Ledger opened",
		"path", dbPath,
		"category_column", l.categoryCol,
		"amount_column", l.amountCol)

	return l, nil
}

func (l *Ledger) detectSchema(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, `PRAGMA table_info(expenses)`)
	if err != nil {
		return fmt.Errorf("read expenses schema: %w", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan expenses schema: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read expenses schema: %w", err)
	}

	switch {
	case slices.Contains(columns, "categoria") && slices.Contains(columns, "monto"):
		l.categoryCol, l.amountCol = "categoria", "monto"
	case slices.Contains(columns, "category") && slices.Contains(columns, "amount"):
		l.categoryCol, l.amountCol = "category", "amount"
		slog.Warn("Legacy expenses schema detected (category/amount); new rows use legacy columns")
	default:
		return fmt.Errorf("%w: columns found %v", ErrUnsupportedSchema, columns)
	}

	_, err = l.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_expenses_chat_month_category ON expenses(chat_id, month_key, %s)`,
		l.categoryCol))
	if err != nil {
		return fmt.Errorf("create expenses index: %w", err)
	}
	return nil
}

// SetIndexQueue attaches the background indexer fed by Store.
func (l *Ledger) SetIndexQueue(q IndexQueue) {
	l.queue = q
}

// Close drains the index queue, then closes the database.
func (l *Ledger) Close() error {
	var errs []error
	if l.queue != nil {
		if err := l.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("index queue: %w", err))
		}
	}
	if l.db != nil {
		if err := l.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Currency is the currency recorded on new rows.
func (l *Ledger) Currency() string {
	return l.currency
}

// Store records an expense keyed by its update id. Repeating an update id
// returns the original row with Inserted=false. Only real inserts are queued
// for vector indexing.
func (l *Ledger) Store(ctx context.Context, req StoreRequest) (StoreResult, error) {
	if req.ChatID == 0 {
		return StoreResult{Status: StatusSkipped, Reason: "missing_chat_id"}, nil
	}
	if err := (core.Expense{Category: req.Category, Amount: req.Amount}).Validate(); err != nil {
		return StoreResult{Status: StatusSkipped, Reason: err.Error()}, nil
	}
	if !req.Source.Valid() {
		return StoreResult{Status: StatusSkipped, Reason: "invalid_source"}, nil
	}

	monthKey := core.MonthKey(req.OccurredAt)
	res, err := l.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO expenses (
			update_id, chat_id, %s, %s, currency, occurred_at,
			month_key, raw_text, source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(update_id) DO NOTHING`, l.categoryCol, l.amountCol),
		req.UpdateID,
		req.ChatID,
		string(req.Category),
		req.Amount.Round(2).InexactFloat64(),
		l.currency,
		req.OccurredAt.Format(time.RFC3339),
		monthKey,
		req.RawText,
		string(req.Source),
		l.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return StoreResult{}, fmt.Errorf("insert expense: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return StoreResult{}, fmt.Errorf("rows affected: %w", err)
	}

	result := StoreResult{
		Status:       StatusStored,
		MonthKey:     monthKey,
		Currency:     l.currency,
		VectorStatus: VectorNone,
	}

	if affected == 0 {
		existing, err := l.GetByUpdateID(ctx, req.UpdateID)
		if err != nil {
			return StoreResult{}, fmt.Errorf("load existing expense: %w", err)
		}
		result.ExpenseID = existing.ID
		result.MonthKey = existing.MonthKey
		result.Currency = existing.Currency
		return result, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return StoreResult{}, fmt.Errorf("last insert id: %w", err)
	}
	result.ExpenseID = id
	result.Inserted = true

	slog.InfoContext(ctx, "Expense saved to ledger",
		"expense_id", id,
		"update_id", req.UpdateID,
		"chat_id", req.ChatID,
		"category", req.Category,
		"month_key", monthKey,
		"source", req.Source)

	if l.queue != nil {
		rec := core.ExpenseRecord{
			ID:         id,
			UpdateID:   req.UpdateID,
			ChatID:     req.ChatID,
			Category:   req.Category,
			Amount:     req.Amount.Round(2),
			Currency:   l.currency,
			OccurredAt: req.OccurredAt,
			MonthKey:   monthKey,
			RawText:    req.RawText,
			Source:     req.Source,
		}
		if l.queue.Enqueue(rec) {
			result.VectorStatus = VectorQueued
		} else {
			result.VectorStatus = VectorDropped
		}
	}

	return result, nil
}

// GetByUpdateID loads the row recorded for an update id.
func (l *Ledger) GetByUpdateID(ctx context.Context, updateID int64) (core.ExpenseRecord, error) {
	row := l.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, update_id, chat_id, %s, %s, currency, occurred_at,
			month_key, raw_text, source, created_at
		FROM expenses WHERE update_id = ?`, l.categoryCol, l.amountCol), updateID)

	var (
		rec                   core.ExpenseRecord
		category, source      string
		amount                float64
		occurredAt, createdAt string
	)
	err := row.Scan(&rec.ID, &rec.UpdateID, &rec.ChatID, &category, &amount, &rec.Currency,
		&occurredAt, &rec.MonthKey, &rec.RawText, &source, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ExpenseRecord{}, ErrNotFound
	}
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("get expense: %w", err)
	}

	rec.Category = core.NormalizeCategory(category)
	rec.Amount = decimal.NewFromFloat(amount).Round(2)
	rec.Source = core.Source(source)
	rec.OccurredAt = parseTime(occurredAt)
	rec.CreatedAt = parseTime(createdAt)
	return rec, nil
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
