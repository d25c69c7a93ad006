package training

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/core"
	"gastos/internal/vectorindex"
)

type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	for i, r := range text {
		v[i%8] += float32(r % 17)
	}
	return v, nil
}

func newRetriever() (*vectorindex.Retriever, *vectorindex.MemoryIndex) {
	idx := vectorindex.NewMemoryIndex()
	return vectorindex.NewRetriever(hashEmbedder{}, idx, nil), idx
}

const sample = "\ufeffCategoría,Descripción\n" +
	"Obligatorio,Pago de alquiler\n" +
	"No obligatorio,Cena con amigos\n" +
	"Ocio,\n" +
	"Regalos,  Regalo   de cumple \n"

func TestIngest(t *testing.T) {
	r, idx := newRetriever()
	ctx := context.Background()

	report, err := Ingest(ctx, strings.NewReader(sample), r, Options{ChatID: 42, Currency: "ARS", Name: "rule.csv"})
	require.NoError(t, err)
	assert.Equal(t, Report{Inserted: 3, Skipped: 1}, report)
	assert.Equal(t, 3, idx.Len())

	// Same input again upserts the same ids.
	_, err = Ingest(ctx, strings.NewReader(sample), r, Options{ChatID: 42, Currency: "ARS", Name: "rule.csv"})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	matches, err := r.Retrieve(ctx, 42, "Regalo de cumple", 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		assert.Contains(t, m.Document, "source=training_csv:rule.csv")
	}

	report, err = Ingest(ctx, strings.NewReader("Categoría,Descripción\nOcio,Cine\n"), r,
		Options{ChatID: 42, Currency: "ARS", Name: "extra.csv", Reset: true})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Deleted)
	assert.Equal(t, 1, idx.Len())
}

func TestIngest_Errors(t *testing.T) {
	r, _ := newRetriever()
	ctx := context.Background()

	_, err := Ingest(ctx, strings.NewReader("Label,Text\nOcio,Cine\n"), r, Options{ChatID: 1})
	assert.ErrorIs(t, err, ErrMissingColumns)

	_, err = Ingest(ctx, strings.NewReader("Categoria,Descripcion\n"), r, Options{ChatID: 1})
	assert.ErrorIs(t, err, ErrEmptyCSV)

	_, err = IngestFile(ctx, "/does/not/exist.csv", r, Options{ChatID: 1})
	assert.Error(t, err)
}

type failingIndexer struct{}

func (failingIndexer) IndexDocument(context.Context, string, string, vectorindex.Metadata) error {
	return errors.New("embedding service unavailable")
}

func (failingIndexer) DeleteByPrefix(context.Context, int64, string) (int, error) { return 0, nil }

func TestIngest_StopsOnIndexFailure(t *testing.T) {
	report, err := Ingest(context.Background(), strings.NewReader(sample), failingIndexer{}, Options{ChatID: 1, Name: "rule.csv"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Zero(t, report.Inserted)
}

type recordingIndexer struct {
	documents []string
}

func (r *recordingIndexer) IndexDocument(_ context.Context, _ string, document string, _ vectorindex.Metadata) error {
	r.documents = append(r.documents, document)
	return nil
}

func (r *recordingIndexer) DeleteByPrefix(context.Context, int64, string) (int, error) { return 0, nil }

func TestIngest_RepeatedHeaderUsesFirstColumn(t *testing.T) {
	csv := "Descripción,Categoría,descripcion,CATEGORIA\n" +
		"Pago de alquiler,Obligatorio,otra cosa,Ocio\n"

	idx := &recordingIndexer{}
	report, err := Ingest(context.Background(), strings.NewReader(csv), idx, Options{ChatID: 1, Currency: "ARS", Name: "rule.csv"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)

	require.Len(t, idx.documents, 1)
	assert.Contains(t, idx.documents[0], "categoria=obligation")
	assert.Contains(t, idx.documents[0], "raw_text=Pago de alquiler")
}

func TestNormalizeLabel(t *testing.T) {
	tests := map[string]core.Category{
		"Obligatorio":     core.CategoryObligation,
		"OBLIGACIÓN":      core.CategoryObligation,
		"No obligatorio":  core.CategoryLeisure,
		"ocio":            core.CategoryLeisure,
		"Salidas":         core.CategoryLeisure,
		"regalos":         core.CategoryUnclear,
		"":                core.CategoryUnclear,
	}
	for raw, want := range tests {
		assert.Equal(t, want, NormalizeLabel(raw), raw)
	}
}

func TestEntryID(t *testing.T) {
	id := EntryID("rule.csv", 2, "Pago de alquiler", core.CategoryObligation)
	assert.True(t, strings.HasPrefix(id, "train:rule.csv:2:"))
	assert.Len(t, strings.TrimPrefix(id, "train:rule.csv:2:"), 12)
	assert.Equal(t, id, EntryID("rule.csv", 2, "Pago de alquiler", core.CategoryObligation))
	assert.NotEqual(t, id, EntryID("rule.csv", 2, "Pago de alquiler", core.CategoryLeisure))
}
