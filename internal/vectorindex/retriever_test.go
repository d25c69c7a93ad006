package vectorindex

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/cache"
	"gastos/internal/core"
)

// keywordEmbedder maps texts to fixed axes so distances are predictable.
type keywordEmbedder struct {
	calls int
	err   error
}

func (k *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	k.calls++
	if k.err != nil {
		return nil, k.err
	}
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "cena"), strings.Contains(t, "cine"):
		return []float32{1, 0.1, 0}, nil
	case strings.Contains(t, "luz"), strings.Contains(t, "alquiler"):
		return []float32{0, 1, 0.1}, nil
	}
	return []float32{0.3, 0.3, 1}, nil
}

func record(id, chatID int64, category core.Category, amount int64, text string) core.ExpenseRecord {
	at := time.Date(2026, time.February, 10, 12, 0, 0, 0, time.UTC)
	return core.ExpenseRecord{
		ID: id, UpdateID: id, ChatID: chatID, Category: category,
		Amount: decimal.NewFromInt(amount), Currency: "ARS",
		OccurredAt: at, MonthKey: core.MonthKey(at), RawText: text, Source: core.SourceLLM,
	}
}

func TestRetriever_IndexAndRetrieve(t *testing.T) {
	ctx := context.Background()
	emb := &keywordEmbedder{}
	r := NewRetriever(emb, NewMemoryIndex(), cache.NewLRUCache[[]float32](16, time.Minute))

	require.NoError(t, r.IndexExpense(ctx, record(1, 7, core.CategoryLeisure, 2500, "cena con amigos")))
	require.NoError(t, r.IndexExpense(ctx, record(2, 7, core.CategoryObligation, 18000, "pague la luz")))
	require.NoError(t, r.IndexExpense(ctx, record(3, 8, core.CategoryObligation, 100, "cena otra chat")))

	got, err := r.Retrieve(ctx, 7, "  salimos al cine ", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "leisure", got[0].Category)
	assert.Equal(t, "2026-02", got[0].MonthKey)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(2500)))
	assert.Contains(t, got[0].Document, "raw_text=cena con amigos")

	calls := emb.calls
	_, err = r.Retrieve(ctx, 7, "salimos al cine", 3)
	require.NoError(t, err)
	assert.Equal(t, calls, emb.calls, "query embedding should be cached")
}

func TestRetriever_NoInput(t *testing.T) {
	emb := &keywordEmbedder{}
	r := NewRetriever(emb, NewMemoryIndex(), nil)

	got, err := r.Retrieve(context.Background(), 0, "cena", 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Retrieve(context.Background(), 7, "   ", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, emb.calls)
}

func TestRetriever_PropagatesEmbeddingErrors(t *testing.T) {
	r := NewRetriever(&keywordEmbedder{err: errors.New("connection refused")}, NewMemoryIndex(), nil)

	_, err := r.Retrieve(context.Background(), 7, "cena", 3)
	assert.Error(t, err)
}

func TestDocument(t *testing.T) {
	doc := Document(record(42, 7, core.CategoryLeisure, 2500, "cena   con amigos"))
	assert.Equal(t,
		"expense_id=42; categoria=leisure; monto=2500.00 ARS; occurred_at=2026-02-10T12:00:00Z; month_key=2026-02; raw_text=cena con amigos",
		doc)

	meta := MetadataFor(record(42, 7, core.CategoryLeisure, 2500, "x"))
	assert.Equal(t, 2, meta.Month)
	assert.Equal(t, 2026, meta.Year)
	assert.Equal(t, "llm", meta.Source)
}
