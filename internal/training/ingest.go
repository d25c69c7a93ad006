// Package training loads labeled example expenses from CSV into the vector
// index so classification has neighbors before the ledger has history.
package training

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"gastos/internal/core"
	"gastos/internal/vectorindex"
)

const (
	IDPrefix = "train:"

	labelHeader = "categoria"
	textHeader  = "descripcion"
)

var (
	ErrMissingColumns = errors.New("CSV must include headers 'Categoría' and 'Descripción'")
	ErrEmptyCSV       = errors.New("CSV has no data rows")
)

// DocumentIndexer embeds and stores documents in the vector index.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, id, document string, meta vectorindex.Metadata) error
	DeleteByPrefix(ctx context.Context, chatID int64, prefix string) (int, error)
}

type Options struct {
	ChatID   int64
	Currency string
	// Name identifies the CSV in ids and sources, normally its base name.
	Name  string
	Reset bool
}

type Report struct {
	Inserted int
	Skipped  int
	Deleted  int
}

// IngestFile runs Ingest on the file at path, naming entries after its base name.
func IngestFile(ctx context.Context, path string, idx DocumentIndexer, opts Options) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("open training CSV: %w", err)
	}
	defer f.Close()

	if opts.Name == "" {
		opts.Name = filepath.Base(path)
	}
	return Ingest(ctx, f, idx, opts)
}

// Ingest indexes every row with a non-empty description under the chat.
// Entry ids are deterministic, so re-running updates rows in place.
func Ingest(ctx context.Context, r io.Reader, idx DocumentIndexer, opts Options) (Report, error) {
	var report Report

	records, err := gocsv.DefaultCSVReader(r).ReadAll()
	if err != nil {
		return report, fmt.Errorf("read training CSV: %w", err)
	}
	if len(records) == 0 {
		return report, ErrEmptyCSV
	}

	header, rows := records[0], records[1:]
	labelCol, textCol := resolveColumn(header, labelHeader), resolveColumn(header, textHeader)
	if labelCol < 0 || textCol < 0 {
		return report, ErrMissingColumns
	}
	if len(rows) == 0 {
		return report, ErrEmptyCSV
	}

	if opts.Reset {
		n, err := idx.DeleteByPrefix(ctx, opts.ChatID, IDPrefix)
		if err != nil {
			return report, fmt.Errorf("reset training entries: %w", err)
		}
		report.Deleted = n
		slog.InfoContext(ctx, "Training entries cleared", "chat_id", opts.ChatID, "deleted", n)
	}

	source := "training_csv:" + opts.Name
	for i, row := range rows {
		line := i + 2 // line 1 is the header
		text := core.CollapseSpaces(cell(row, textCol))
		if text == "" {
			report.Skipped++
			continue
		}

		category := NormalizeLabel(cell(row, labelCol))
		document := fmt.Sprintf(
			"expense_id=training-%d; categoria=%s; monto=0.00 %s; occurred_at=training; month_key=training; source=%s; raw_text=%s",
			line, category, opts.Currency, source, text)
		meta := vectorindex.Metadata{
			ExpenseID: -int64(line),
			ChatID:    opts.ChatID,
			Category:  string(category),
			Amount:    decimal.Zero,
			Currency:  opts.Currency,
			MonthKey:  "training",
			Source:    source,
		}

		if err := idx.IndexDocument(ctx, EntryID(opts.Name, line, text, category), document, meta); err != nil {
			return report, fmt.Errorf("index line %d: %w", line, err)
		}
		report.Inserted++
	}
	return report, nil
}

// NormalizeLabel maps a free-form training label to a canonical category.
// "no obligatorio" style labels are leisure.
func NormalizeLabel(raw string) core.Category {
	v := core.NormalizeText(raw)
	switch {
	case strings.Contains(v, "no oblig"):
		return core.CategoryLeisure
	case strings.Contains(v, "oblig"):
		return core.CategoryObligation
	case strings.Contains(v, "ocio"), strings.Contains(v, "salida"):
		return core.CategoryLeisure
	}
	return core.CategoryUnclear
}

// EntryID is train:<csv>:<line>:<first 12 hex chars of sha1(csv:line:category:text)>.
func EntryID(csvName string, line int, text string, category core.Category) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%d:%s:%s", csvName, line, category, text)))
	return fmt.Sprintf("%s%s:%d:%s", IDPrefix, csvName, line, hex.EncodeToString(sum[:])[:12])
}

// resolveColumn returns the index of the first header that folds to want,
// or -1.
func resolveColumn(header []string, want string) int {
	for i, name := range header {
		if core.NormalizeText(strings.TrimPrefix(name, "\ufeff")) == want {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
