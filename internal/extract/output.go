package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

// Alias keys accepted in model output, checked in order. Keys are compared
// after accent folding.
var (
	categoryKeys = []string{"category", "categoria", "tipo", "tipo_de_gasto", "tipo de gasto", "type", "label"}
	amountKeys   = []string{"amount", "monto", "gasto", "importe", "value", "valor", "total", "precio", "price"}
)

// ModelOutput is the validated interpretation of a generation response:
// either Parsed or Unparsed.
type ModelOutput interface {
	isModelOutput()
}

// Parsed is a response that yielded a positive amount.
type Parsed struct {
	Category core.Category
	Amount   decimal.Decimal
}

// Unparsed is a response with no usable JSON object or no valid amount.
type Unparsed struct {
	Reason string
}

func (Parsed) isModelOutput()   {}
func (Unparsed) isModelOutput() {}

// ParseModelOutput reads raw model text tolerantly: the whole text as JSON,
// else the span between the first '{' and the last '}'. Either an object or
// the first object of an array is accepted.
func ParseModelOutput(raw string) ModelOutput {
	obj, ok := decodeObject(raw)
	if !ok {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return Unparsed{Reason: "no json object"}
		}
		if obj, ok = decodeObject(raw[start : end+1]); !ok {
			return Unparsed{Reason: "invalid json"}
		}
	}

	// Keys that fold to the same text resolve to the first in document order.
	fields := make(map[string]any, len(obj))
	for _, f := range obj {
		key := core.NormalizeText(f.key)
		if _, dup := fields[key]; !dup {
			fields[key] = f.value
		}
	}

	amountValue, ok := lookup(fields, amountKeys)
	if !ok {
		return Unparsed{Reason: "missing amount"}
	}
	amount, ok := toAmount(amountValue)
	if !ok {
		return Unparsed{Reason: "invalid amount"}
	}

	category := core.CategoryUnclear
	if v, ok := lookup(fields, categoryKeys); ok {
		if s, isString := v.(string); isString {
			category = core.NormalizeCategory(s)
		}
	}
	return Parsed{Category: category, Amount: amount}
}

type field struct {
	key   string
	value any
}

// decodeObject decodes s as exactly one JSON value and returns the members
// of the object it holds (or of an array's first element) in document
// order. A repeated key keeps its first position and its last value.
func decodeObject(s string) ([]field, bool) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(s)))

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
			return nil, false
		}
		raw = bytes.TrimSpace(items[0])
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	return objectFields(raw)
}

func objectFields(raw json.RawMessage) ([]field, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return nil, false
	}

	var (
		fields []field
		index  = map[string]int{}
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := tok.(string)
		if !ok {
			return nil, false
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}
		if i, seen := index[key]; seen {
			fields[i].value = value
			continue
		}
		index[key] = len(fields)
		fields = append(fields, field{key: key, value: value})
	}
	return fields, true
}

// lookup returns the first alias present with a non-null value.
func lookup(fields map[string]any, aliases []string) (any, bool) {
	for _, alias := range aliases {
		if v, ok := fields[core.NormalizeText(alias)]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toAmount(v any) (decimal.Decimal, bool) {
	var (
		d   decimal.Decimal
		err error
	)
	switch t := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(t.String())
		d = d.Round(2)
	case string:
		d, err = core.ParseAmount(t)
	default:
		return decimal.Zero, false
	}
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
