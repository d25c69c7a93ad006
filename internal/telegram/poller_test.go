package telegram

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/log"
	"gastos/internal/services"
)

type scriptedAPI struct {
	batches [][]tgbotapi.Update
	errs    []error
	offsets []int64
	sent    []string
	cancel  context.CancelFunc
	webhook tgbotapi.WebhookInfo
}

func (a *scriptedAPI) GetUpdates(ctx context.Context, offset int64, _ time.Duration) ([]tgbotapi.Update, error) {
	a.offsets = append(a.offsets, offset)
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return nil, err
	}
	if len(a.batches) == 0 {
		a.cancel()
		return nil, ctx.Err()
	}
	batch := a.batches[0]
	a.batches = a.batches[1:]
	return batch, nil
}

func (a *scriptedAPI) SendMessage(_ context.Context, chatID int64, text string) error {
	a.sent = append(a.sent, text)
	return nil
}

func (a *scriptedAPI) GetWebhookInfo(context.Context) (tgbotapi.WebhookInfo, error) {
	return a.webhook, nil
}

// echoHandler fails "boom" every time and "flaky" on its first try.
type echoHandler struct {
	seen  []services.Update
	flaky int
}

func (h *echoHandler) Handle(_ context.Context, u services.Update) (services.Reply, error) {
	h.seen = append(h.seen, u)
	if !u.HasText {
		return services.Reply{}, nil
	}
	if u.Text == "boom" {
		return services.Reply{Text: "temporary", Send: true}, errors.New("ledger down")
	}
	if u.Text == "flaky" && h.flaky == 0 {
		h.flaky++
		return services.Reply{Text: "temporary", Send: true}, errors.New("database is locked")
	}
	return services.Reply{Text: "echo: " + u.Text, Send: true}, nil
}

type memoryOffsets struct {
	value int64
	ok    bool
	saved []int64
}

func (m *memoryOffsets) Load() (int64, bool, error) { return m.value, m.ok, nil }

func (m *memoryOffsets) Save(offset int64) error {
	m.saved = append(m.saved, offset)
	m.value, m.ok = offset, true
	return nil
}

func message(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}
}

func newTestPoller(api API, handler Handler, offsets OffsetStore, waits *[]time.Duration) *Poller {
	p := NewPoller(api, handler, offsets, 30*time.Second, log.New(log.Config{Output: &bytes.Buffer{}}))
	p.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return p
}

func TestPoller_ProcessesInOrderAndSavesOffsets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &scriptedAPI{
		cancel: cancel,
		errs:   []error{errors.New("connection reset"), errors.New("connection reset")},
		batches: [][]tgbotapi.Update{
			{
				{UpdateID: 100, Message: message(42, "hola")},
				{UpdateID: 101, Message: message(42, "")},
			},
			{
				{UpdateID: 102},
				{UpdateID: 103, Message: message(42, "boom")},
			},
		},
	}
	handler := &echoHandler{}
	offsets := &memoryOffsets{value: 100, ok: true}

	var waits []time.Duration
	p := newTestPoller(api, handler, offsets, &waits)

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// Two polling retries, then two handling retries for update 103.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second}, waits)
	assert.Equal(t, []int64{100, 100, 100, 102, 104}, api.offsets)
	assert.Equal(t, []int64{101, 102, 103, 104}, offsets.saved)
	assert.Equal(t, []string{"echo: hola", "temporary"}, api.sent)

	require.Len(t, handler.seen, 2+maxHandleAttempts)
	assert.False(t, handler.seen[1].HasText)
}

func TestPoller_RetriesFailedUpdateBeforeAdvancing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &scriptedAPI{
		cancel: cancel,
		batches: [][]tgbotapi.Update{
			{{UpdateID: 7, Message: message(42, "flaky")}},
		},
	}
	handler := &echoHandler{}
	offsets := &memoryOffsets{}

	var waits []time.Duration
	p := newTestPoller(api, handler, offsets, &waits)

	require.ErrorIs(t, p.Run(ctx), context.Canceled)

	assert.Len(t, handler.seen, 2)
	assert.Equal(t, []string{"echo: flaky"}, api.sent)
	assert.Equal(t, []int64{8}, offsets.saved)
	assert.Equal(t, []time.Duration{time.Second}, waits)
}

func TestPoller_KeepsOffsetWhenCancelledDuringRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &scriptedAPI{
		cancel: cancel,
		batches: [][]tgbotapi.Update{
			{{UpdateID: 7, Message: message(42, "boom")}},
		},
	}
	offsets := &memoryOffsets{}

	p := NewPoller(api, &echoHandler{}, offsets, 30*time.Second, log.New(log.Config{Output: &bytes.Buffer{}}))
	p.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	require.ErrorIs(t, p.Run(ctx), context.Canceled)
	assert.Empty(t, offsets.saved)
	assert.Empty(t, api.sent)
}

func TestBackoff(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for attempt, w := range want {
		assert.Equal(t, w, backoff(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 30*time.Second, backoff(64))
}
