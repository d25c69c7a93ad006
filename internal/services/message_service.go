package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gastos/internal/amqp"
	"gastos/internal/core"
	"gastos/internal/extract"
	"gastos/internal/log"
	"gastos/internal/query"
	"gastos/internal/storage"
)

const (
	replyDuplicate    = "This message was already processed before."
	replyNotSaved     = "I could not save this expense."
	replyTemporary    = "Temporary error while processing your message, please retry in a moment."
	replyNoExpense    = "I could not detect an expense from that message. You can register one like: 'Gaste 2700 en salidas' or ask: 'cuanto gaste en salidas en febrero'."
	sourceNoCandidate = "not_expense_candidate"
)

// Update is one inbound chat message. HasText is false for stickers, photos
// and other non-text messages.
type Update struct {
	UpdateID int64
	ChatID   int64
	Sender   string
	Text     string
	HasText  bool
}

// Reply is what to send back to the chat. Send is false when nothing should
// be sent.
type Reply struct {
	Text string
	Send bool
}

type (
	IntentParser interface {
		Parse(text string, loc *time.Location) (query.Intent, bool)
	}

	QueryAnswerer interface {
		Answer(ctx context.Context, chatID int64, intent query.Intent) (query.Answer, error)
	}

	ExampleRetriever interface {
		Retrieve(ctx context.Context, chatID int64, text string, limit int) ([]core.SimilarExample, error)
	}

	ExpenseClassifier interface {
		Extract(ctx context.Context, text string, examples []core.SimilarExample) (core.Expense, bool, error)
	}

	ExpenseRecorder interface {
		Store(ctx context.Context, req storage.StoreRequest) (storage.StoreResult, error)
	}

	EventPublisher interface {
		PublishExpenseRecorded(ctx context.Context, evt *amqp.ExpenseRecordedEvent) error
	}
)

// MessageDeps wires a MessageService. Retriever and Publisher are optional.
type MessageDeps struct {
	Parser        IntentParser
	Answerer      QueryAnswerer
	Retriever     ExampleRetriever
	Classifier    ExpenseClassifier
	Prior         extract.NeighborPrior
	Ledger        ExpenseRecorder
	Publisher     EventPublisher
	Location      *time.Location
	ExamplesLimit int
	Now           func() time.Time
	Logger        *log.Logger
}

// MessageService turns each chat update into a query answer or a ledger entry.
// Updates must be handled one at a time.
type MessageService struct {
	deps   MessageDeps
	logger *log.Logger
}

func NewMessageService(deps MessageDeps) *MessageService {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &MessageService{
		deps:   deps,
		logger: logger.WithComponent(log.ComponentMessage),
	}
}

// Handle processes one update. The returned Reply is always usable; a non-nil
// error reports a transient failure (ledger or query storage) that the
// transport may retry.
func (s *MessageService) Handle(ctx context.Context, u Update) (Reply, error) {
	logger := s.logger.With(
		log.FieldTraceID, uuid.NewString(),
		log.FieldUpdateID, u.UpdateID,
		log.FieldChatID, u.ChatID)
	ctx = log.WithContext(ctx, logger)

	if !u.HasText {
		logger.InfoContext(ctx, "Non-text message skipped", "sender", u.Sender)
		return Reply{}, nil
	}

	if intent, ok := s.deps.Parser.Parse(u.Text, s.deps.Location); ok {
		return s.answer(ctx, logger, u, intent)
	}

	exp, source, ok, err := s.classify(ctx, logger, u)
	if err != nil {
		logger.InfoContext(ctx, "Expense event",
			log.FieldSource, source,
			log.FieldStatus, "skipped",
			"reason", "extraction_failed",
			"raw_text", u.Text)
		return Reply{Text: replyTemporary, Send: true}, nil
	}
	if !ok {
		logger.InfoContext(ctx, "Expense event",
			log.FieldSource, source,
			log.FieldStatus, "skipped",
			"reason", "no_expense_detected",
			"raw_text", u.Text)
		return Reply{Text: replyNoExpense, Send: true}, nil
	}

	return s.record(ctx, logger, u, exp, source)
}

func (s *MessageService) answer(ctx context.Context, logger *log.Logger, u Update, intent query.Intent) (Reply, error) {
	ans, err := s.deps.Answerer.Answer(ctx, u.ChatID, intent)
	if err != nil {
		logger.ErrorContext(ctx, "Query failed", log.FieldError, err)
		return Reply{Text: replyTemporary, Send: true}, fmt.Errorf("answer query: %w", err)
	}

	logger.InfoContext(ctx, "Query event",
		log.FieldOperation, intent.Operation,
		"month", intent.Month,
		"year", intent.Year,
		"categories", intent.Categories,
		"raw_text", u.Text,
		"answer", ans.Text)
	return Reply{Text: ans.Text, Send: ans.Handled}, nil
}

// classify runs the rule grammar and then, for text holding a digit, the
// LLM path. A non-nil error means no expense could be produced because the
// generation service failed and the text holds no amount.
func (s *MessageService) classify(ctx context.Context, logger *log.Logger, u Update) (core.Expense, string, bool, error) {
	if exp, ok := extract.ParseRule(u.Text); ok {
		return exp, string(core.SourceRule), true, nil
	}
	if extract.MatchesRule(u.Text) || !core.HasDigit(u.Text) {
		return core.Expense{}, sourceNoCandidate, false, nil
	}

	var examples []core.SimilarExample
	if s.deps.Retriever != nil {
		found, err := s.deps.Retriever.Retrieve(ctx, u.ChatID, u.Text, s.deps.ExamplesLimit)
		if err != nil {
			logger.WarnContext(ctx, "Similar expense lookup failed, classifying without context",
				log.FieldError, err)
		}
		examples = found
	}

	exp, ok, err := s.deps.Classifier.Extract(ctx, u.Text, examples)
	if err != nil {
		logger.WarnContext(ctx, "Extraction failed, using direct amount", log.FieldError, err)
		exp, ok = extract.Fallback(u.Text)
		if !ok {
			return core.Expense{}, string(core.SourceLLMError), false, err
		}
		return exp, string(core.SourceLLMError), true, nil
	}
	if !ok {
		return core.Expense{}, string(core.SourceLLM), false, nil
	}

	if adjusted, changed := s.deps.Prior.Adjust(exp, examples); changed {
		logger.InfoContext(ctx, "Category corrected by neighbors",
			"from", exp.Category,
			"to", adjusted.Category,
			log.FieldNeighbors, len(examples))
		exp = adjusted
	}
	return exp, string(core.SourceLLM), true, nil
}

func (s *MessageService) record(ctx context.Context, logger *log.Logger, u Update, exp core.Expense, source string) (Reply, error) {
	if err := exp.Validate(); err != nil {
		logger.WarnContext(ctx, "Rejected invalid expense",
			log.FieldCategory, exp.Category,
			log.FieldAmount, exp.Amount.String(),
			log.FieldError, err)
		return Reply{Text: replyNotSaved, Send: true}, nil
	}

	occurredAt := s.deps.Now().In(s.deps.Location)
	res, err := s.deps.Ledger.Store(ctx, storage.StoreRequest{
		UpdateID:   u.UpdateID,
		ChatID:     u.ChatID,
		Category:   exp.Category,
		Amount:     exp.Amount,
		OccurredAt: occurredAt,
		RawText:    u.Text,
		Source:     core.Source(source),
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to store expense", log.FieldError, err)
		return Reply{Text: replyTemporary, Send: true}, fmt.Errorf("store expense: %w", err)
	}

	fields := log.NewFields().
		WithExpense(exp.Category.String(), exp.Amount.StringFixed(2), source)
	fields[log.FieldStatus] = string(res.Status)
	fields[log.FieldInserted] = res.Inserted
	fields[log.FieldExpenseID] = res.ExpenseID
	fields[log.FieldMonthKey] = res.MonthKey
	fields["vector"] = res.VectorStatus
	fields["raw_text"] = u.Text
	logger.InfoContext(ctx, "Expense event", fields.ToSlice()...)

	if res.Status != storage.StatusStored {
		return Reply{Text: replyNotSaved, Send: true}, nil
	}
	if !res.Inserted {
		return Reply{Text: replyDuplicate, Send: true}, nil
	}

	s.publish(ctx, logger, core.ExpenseRecord{
		ID:         res.ExpenseID,
		UpdateID:   u.UpdateID,
		ChatID:     u.ChatID,
		Category:   exp.Category,
		Amount:     exp.Amount.Round(2),
		Currency:   res.Currency,
		OccurredAt: occurredAt,
		MonthKey:   res.MonthKey,
		RawText:    u.Text,
		Source:     core.Source(source),
	})

	return Reply{Text: SavedReply(exp, res.Currency, res.MonthKey), Send: true}, nil
}

func (s *MessageService) publish(ctx context.Context, logger *log.Logger, rec core.ExpenseRecord) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.PublishExpenseRecorded(ctx, amqp.NewExpenseRecordedEvent(rec)); err != nil {
		// The ledger row is authoritative; the event is best effort.
		logger.ErrorContext(ctx, "Failed to publish expense recorded event",
			log.FieldExpenseID, rec.ID,
			log.FieldError, err)
	}
}

// SavedReply renders the confirmation for a newly stored expense.
func SavedReply(exp core.Expense, currency, monthKey string) string {
	return fmt.Sprintf("Expense saved: %s %s (%s).",
		exp.Category, core.FormatMoney(exp.Amount, currency), monthKey)
}
