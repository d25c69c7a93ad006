package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldTraceID   = "trace_id"
	FieldUpdateID  = "update_id"
	FieldChatID    = "chat_id"
	FieldExpenseID = "expense_id"
	FieldMonthKey  = "month_key"
	FieldCategory  = "category"
	FieldAmount    = "amount"
	FieldCurrency  = "currency"
	FieldSource    = "source"
	FieldInserted  = "inserted"
	FieldStatus    = "status"
	FieldOperation = "operation"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldOffset    = "offset"
	FieldNeighbors = "neighbors"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentMessage  = "message"
	ComponentQuery    = "query"
	ComponentExtract  = "extract"
	ComponentStorage  = "storage"
	ComponentVector   = "vector"
	ComponentOllama   = "ollama"
	ComponentTelegram = "telegram"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentTraining = "training"
)

// Operations defines standard operation names
const (
	OpStore    = "store"
	OpIndex    = "index"
	OpRetrieve = "retrieve"
	OpClassify = "classify"
	OpAnswer   = "answer"
	OpPoll     = "poll"
	OpConsume  = "consume"
	OpPublish  = "publish"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithUpdate(updateID, chatID int64) LogFields {
	f[FieldUpdateID] = updateID
	f[FieldChatID] = chatID
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithExpense adds the fields describing a classified expense.
func (f LogFields) WithExpense(category, amount, source string) LogFields {
	f[FieldCategory] = category
	f[FieldAmount] = amount
	f[FieldSource] = source
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
