package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

const EventExpenseRecorded = "expense.recorded"

var ErrMalformedUpdate = errors.New("malformed update message")

// UpdateMessage is one inbound chat update delivered over the updates queue.
// A nil Text marks a non-text message.
type UpdateMessage struct {
	UpdateID int64   `json:"update_id"`
	ChatID   int64   `json:"chat_id"`
	Text     *string `json:"text,omitempty"`
	Sender   string  `json:"sender,omitempty"`
}

// UpdateMessageFromJSON decodes an update and rejects bodies without an update id.
func UpdateMessageFromJSON(data []byte) (*UpdateMessage, error) {
	var msg UpdateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Join(ErrMalformedUpdate, err)
	}
	if msg.UpdateID <= 0 {
		return nil, ErrMalformedUpdate
	}
	return &msg, nil
}

// ExpenseRecordedEvent announces a newly inserted ledger row. EventID doubles
// as the AMQP message id.
type ExpenseRecordedEvent struct {
	EventID    string          `json:"event_id"`
	ExpenseID  int64           `json:"expense_id"`
	UpdateID   int64           `json:"update_id"`
	ChatID     int64           `json:"chat_id"`
	Category   string          `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	MonthKey   string          `json:"month_key"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurred_at"`
	Timestamp  time.Time       `json:"timestamp"`
}

func NewExpenseRecordedEvent(rec core.ExpenseRecord) *ExpenseRecordedEvent {
	return &ExpenseRecordedEvent{
		EventID:    uuid.NewString(),
		ExpenseID:  rec.ID,
		UpdateID:   rec.UpdateID,
		ChatID:     rec.ChatID,
		Category:   rec.Category.String(),
		Amount:     rec.Amount,
		Currency:   rec.Currency,
		MonthKey:   rec.MonthKey,
		Source:     string(rec.Source),
		OccurredAt: rec.OccurredAt,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *ExpenseRecordedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func ExpenseRecordedEventFromJSON(data []byte) (*ExpenseRecordedEvent, error) {
	var evt ExpenseRecordedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
