package services

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/extract"
	"gastos/internal/log"
	"gastos/internal/query"
	"gastos/internal/storage"
)

type stubClassifier struct {
	calls    int
	expense  core.Expense
	found    bool
	err      error
	examples []core.SimilarExample
}

func (c *stubClassifier) Extract(_ context.Context, _ string, examples []core.SimilarExample) (core.Expense, bool, error) {
	c.calls++
	c.examples = examples
	return c.expense, c.found, c.err
}

type stubRetriever struct {
	examples []core.SimilarExample
	err      error
}

func (r *stubRetriever) Retrieve(context.Context, int64, string, int) ([]core.SimilarExample, error) {
	return r.examples, r.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.ExpenseRecordedEvent
	err    error
}

func (p *recordingPublisher) PublishExpenseRecorded(_ context.Context, evt *amqp.ExpenseRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

type failingRecorder struct{}

func (failingRecorder) Store(context.Context, storage.StoreRequest) (storage.StoreResult, error) {
	return storage.StoreResult{}, errors.New("disk I/O error")
}

type harness struct {
	svc        *MessageService
	ledger     *storage.Ledger
	classifier *stubClassifier
	retriever  *stubRetriever
	publisher  *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ledger, err := storage.NewLedger(filepath.Join(t.TempDir(), "expenses.db"), "ARS")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	require.NoError(t, err)
	now := func() time.Time { return time.Date(2026, time.February, 14, 21, 30, 0, 0, loc) }

	h := &harness{
		ledger:     ledger,
		classifier: &stubClassifier{},
		retriever:  &stubRetriever{},
		publisher:  &recordingPublisher{},
	}
	h.svc = NewMessageService(MessageDeps{
		Parser:        &query.Parser{Now: now},
		Answerer:      query.NewService(ledger, "ARS"),
		Retriever:     h.retriever,
		Classifier:    h.classifier,
		Prior:         extract.DefaultNeighborPrior(),
		Ledger:        ledger,
		Publisher:     h.publisher,
		Location:      loc,
		ExamplesLimit: 3,
		Now:           now,
		Logger:        log.New(log.Config{Output: &bytes.Buffer{}}),
	})
	return h
}

func textUpdate(id int64, text string) Update {
	return Update{UpdateID: id, ChatID: 42, Text: text, HasText: true}
}

func neighbors(category string, n int) []core.SimilarExample {
	out := make([]core.SimilarExample, n)
	for i := range out {
		out[i] = core.SimilarExample{Category: category, Distance: 0.1 * float64(i+1)}
	}
	return out
}

func TestMessageService_RuleExpenseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply, err := h.svc.Handle(ctx, textUpdate(7, "Tipo de gasto: salida, gasto: 2500"))
	require.NoError(t, err)
	assert.True(t, reply.Send)
	assert.Equal(t, "Expense saved: leisure 2.500 ARS (2026-02).", reply.Text)

	reply, err = h.svc.Handle(ctx, textUpdate(7, "Tipo de gasto: salida, gasto: 2500"))
	require.NoError(t, err)
	assert.Equal(t, "This message was already processed before.", reply.Text)

	assert.Zero(t, h.classifier.calls, "rule grammar must not reach the model")
	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, int64(7), h.publisher.events[0].UpdateID)
	assert.Equal(t, "rule", h.publisher.events[0].Source)

	rec, err := h.ledger.GetByUpdateID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, core.SourceRule, rec.Source)
	assert.Equal(t, "2026-02", rec.MonthKey)
}

func TestMessageService_QueryAfterExpenses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Handle(ctx, textUpdate(1, "tipo de gasto: ocio, gasto: 2500"))
	require.NoError(t, err)
	_, err = h.svc.Handle(ctx, textUpdate(2, "tipo de gasto: obligacion, gasto: 1500"))
	require.NoError(t, err)

	reply, err := h.svc.Handle(ctx, textUpdate(3, "cuanto gaste en total en febrero 2026"))
	require.NoError(t, err)
	assert.True(t, reply.Send)
	assert.Equal(t,
		"Total expense in febrero 2026 (leisure + obligation + unclear): "+
			"leisure 2.500 ARS + obligation 1.500 ARS + unclear 0 ARS = 4.000 ARS.",
		reply.Text)

	reply, err = h.svc.Handle(ctx, textUpdate(4, "cuanto gaste este mes en salidas?"))
	require.NoError(t, err)
	assert.Equal(t, "Total expense for leisure in febrero 2026: 2.500 ARS.", reply.Text)

	_, err = h.ledger.GetByUpdateID(ctx, 3)
	assert.ErrorIs(t, err, storage.ErrNotFound, "queries are never recorded")
}

func TestMessageService_ModelPathWithNeighborCorrection(t *testing.T) {
	h := newHarness(t)
	h.classifier.expense = core.Expense{Category: core.CategoryUnclear, Amount: decimal.NewFromInt(1200)}
	h.classifier.found = true
	h.retriever.examples = neighbors("obligation", 3)

	reply, err := h.svc.Handle(context.Background(), textUpdate(10, "pague la luz 1200"))
	require.NoError(t, err)
	assert.Equal(t, "Expense saved: obligation 1.200 ARS (2026-02).", reply.Text)
	assert.Len(t, h.classifier.examples, 3)

	rec, err := h.ledger.GetByUpdateID(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, core.CategoryObligation, rec.Category)
	assert.Equal(t, core.SourceLLM, rec.Source)
}

func TestMessageService_RetrievalFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.classifier.expense = core.Expense{Category: core.CategoryLeisure, Amount: decimal.NewFromInt(800)}
	h.classifier.found = true
	h.retriever.err = errors.New("embedding service unavailable")

	reply, err := h.svc.Handle(context.Background(), textUpdate(11, "cine 800"))
	require.NoError(t, err)
	assert.Equal(t, "Expense saved: leisure 800 ARS (2026-02).", reply.Text)
	assert.Empty(t, h.classifier.examples)
}

func TestMessageService_GenerationFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.classifier.err = &core.ServiceError{Service: "ollama", Op: "generate", Err: errors.New("timeout")}

	reply, err := h.svc.Handle(context.Background(), textUpdate(12, "super 300 y despues 4.500"))
	require.NoError(t, err)
	assert.Equal(t, "Expense saved: unclear 4.500 ARS (2026-02).", reply.Text)

	rec, err := h.ledger.GetByUpdateID(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, core.SourceLLMError, rec.Source)

	reply, err = h.svc.Handle(context.Background(), textUpdate(13, "gaste 0 hoy"))
	require.NoError(t, err)
	assert.Equal(t, replyTemporary, reply.Text)
}

func TestMessageService_NoExpense(t *testing.T) {
	h := newHarness(t)

	reply, err := h.svc.Handle(context.Background(), textUpdate(20, "hola, como va?"))
	require.NoError(t, err)
	assert.Equal(t, replyNoExpense, reply.Text)
	assert.Zero(t, h.classifier.calls, "text without digits never reaches the model")

	h.classifier.found = false
	reply, err = h.svc.Handle(context.Background(), textUpdate(21, "llegue a las 5"))
	require.NoError(t, err)
	assert.Equal(t, replyNoExpense, reply.Text)
	assert.Equal(t, 1, h.classifier.calls)
}

func TestMessageService_NonTextAndMissingChat(t *testing.T) {
	h := newHarness(t)

	reply, err := h.svc.Handle(context.Background(), Update{UpdateID: 30, ChatID: 42})
	require.NoError(t, err)
	assert.False(t, reply.Send)

	reply, err = h.svc.Handle(context.Background(), Update{UpdateID: 31, Text: "tipo de gasto: ocio, gasto: 10", HasText: true})
	require.NoError(t, err)
	assert.Equal(t, replyNotSaved, reply.Text)
	assert.Empty(t, h.publisher.events)
}

func TestMessageService_PublishFailureKeepsExpense(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("circuit breaker is open")

	reply, err := h.svc.Handle(context.Background(), textUpdate(40, "tipo de gasto: fijo, gasto: 99,90"))
	require.NoError(t, err)
	assert.Equal(t, "Expense saved: obligation 99,90 ARS (2026-02).", reply.Text)
}

func TestMessageService_LedgerFailure(t *testing.T) {
	svc := NewMessageService(MessageDeps{
		Parser:     query.NewParser(),
		Answerer:   query.NewService(nil, "ARS"),
		Classifier: &stubClassifier{},
		Ledger:     failingRecorder{},
		Logger:     log.New(log.Config{Output: &bytes.Buffer{}}),
	})

	reply, err := svc.Handle(context.Background(), textUpdate(50, "tipo de gasto: ocio, gasto: 10"))
	require.Error(t, err)
	assert.Equal(t, replyTemporary, reply.Text)
	assert.True(t, reply.Send)
}

func TestMessageService_InvalidModelExpenseIsNotStored(t *testing.T) {
	h := newHarness(t)
	h.classifier.found = true
	h.classifier.expense = core.Expense{Category: core.CategoryLeisure, Amount: decimal.Zero}

	reply, err := h.svc.Handle(context.Background(), textUpdate(60, "cena 0 pesos"))
	require.NoError(t, err)
	assert.Equal(t, replyNotSaved, reply.Text)

	_, err = h.ledger.GetByUpdateID(context.Background(), 60)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, h.publisher.events)
}
