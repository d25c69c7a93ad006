package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gastos/internal/cache"
	"gastos/internal/core"
)

// Embedder computes dense text embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds text and looks up the nearest past expenses of a chat. It
// also writes ledger rows into the index.
type Retriever struct {
	embedder Embedder
	index    Index
	cache    cache.Cache[[]float32]
}

// NewRetriever builds a Retriever. embeddings may be nil to disable caching of
// query embeddings.
func NewRetriever(embedder Embedder, index Index, embeddings cache.Cache[[]float32]) *Retriever {
	return &Retriever{embedder: embedder, index: index, cache: embeddings}
}

// Retrieve returns up to limit neighbors of text within chatID, nearest first.
// Empty text or a missing chat id yield no neighbors and no error.
func (r *Retriever) Retrieve(ctx context.Context, chatID int64, text string, limit int) ([]core.SimilarExample, error) {
	normalized := core.CollapseSpaces(text)
	if chatID == 0 || normalized == "" {
		return nil, nil
	}

	vec, err := r.queryEmbedding(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := r.index.Query(ctx, vec, max(1, limit), chatID)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	out := make([]core.SimilarExample, 0, len(matches))
	for _, m := range matches {
		out = append(out, core.SimilarExample{
			Document: m.Document,
			Category: m.Metadata.Category,
			Amount:   m.Metadata.Amount,
			Distance: m.Distance,
			MonthKey: m.Metadata.MonthKey,
		})
	}
	return out, nil
}

func (r *Retriever) queryEmbedding(ctx context.Context, text string) ([]float32, error) {
	if r.cache != nil {
		if vec, ok := r.cache.Get(text); ok {
			return vec, nil
		}
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(text, vec)
	}
	return vec, nil
}

// IndexExpense embeds the document of a ledger row and upserts it under the
// row id.
func (r *Retriever) IndexExpense(ctx context.Context, rec core.ExpenseRecord) error {
	return r.IndexDocument(ctx, strconv.FormatInt(rec.ID, 10), Document(rec), MetadataFor(rec))
}

// IndexDocument embeds document and upserts it with meta under id.
func (r *Retriever) IndexDocument(ctx context.Context, id, document string, meta Metadata) error {
	vec, err := r.embedder.Embed(ctx, document)
	if err != nil {
		return fmt.Errorf("embedding document %s: %w", id, err)
	}
	return r.index.Upsert(ctx, Entry{ID: id, Document: document, Metadata: meta, Embedding: vec})
}

// DeleteByPrefix removes the chat's entries whose id starts with prefix.
func (r *Retriever) DeleteByPrefix(ctx context.Context, chatID int64, prefix string) (int, error) {
	return r.index.DeleteByPrefix(ctx, chatID, prefix)
}

// Document renders the indexed text of a ledger row. The user text comes
// last, after the raw_text= marker, so prompt excerpts can find it.
func Document(rec core.ExpenseRecord) string {
	return fmt.Sprintf("expense_id=%d; categoria=%s; monto=%s %s; occurred_at=%s; month_key=%s; raw_text=%s",
		rec.ID, rec.Category, rec.Amount.StringFixed(2), rec.Currency,
		rec.OccurredAt.Format(time.RFC3339), rec.MonthKey, core.CollapseSpaces(rec.RawText))
}

func MetadataFor(rec core.ExpenseRecord) Metadata {
	return Metadata{
		ExpenseID: rec.ID,
		ChatID:    rec.ChatID,
		Category:  string(rec.Category),
		Amount:    rec.Amount,
		Currency:  rec.Currency,
		Month:     int(rec.OccurredAt.Month()),
		Year:      rec.OccurredAt.Year(),
		MonthKey:  rec.MonthKey,
		Source:    string(rec.Source),
	}
}
