// Package vectorindex stores expense embeddings and answers chat-scoped
// nearest-neighbor queries.
package vectorindex

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

var ErrEmptyEmbedding = errors.New("empty embedding")

// Metadata is the denormalized copy of a ledger row kept next to its vector.
type Metadata struct {
	ExpenseID int64           `json:"expense_id,omitempty"`
	ChatID    int64           `json:"chat_id"`
	Category  string          `json:"categoria"`
	Amount    decimal.Decimal `json:"monto"`
	Currency  string          `json:"currency"`
	Month     int             `json:"mes"`
	Year      int             `json:"year"`
	MonthKey  string          `json:"month_key"`
	Source    string          `json:"source"`
}

type Entry struct {
	ID        string
	Document  string
	Metadata  Metadata
	Embedding []float32
}

// Match is a query hit. Distance is 1 - cosine similarity; lower is nearer.
type Match struct {
	ID       string
	Document string
	Metadata Metadata
	Distance float64
}

// Index persists entries and ranks them against a query vector. Queries only
// ever see entries of the requested chat.
type Index interface {
	Upsert(ctx context.Context, e Entry) error
	Query(ctx context.Context, embedding []float32, limit int, chatID int64) ([]Match, error)
	DeleteByPrefix(ctx context.Context, chatID int64, idPrefix string) (int, error)
}

// cosineDistance returns 1 - cos(a, b), or false when the vectors cannot be compared.
func cosineDistance(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), true
}

// rank sorts by ascending distance, breaking ties by id, and keeps limit.
func rank(matches []Match, limit int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
