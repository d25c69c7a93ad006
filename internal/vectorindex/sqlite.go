package vectorindex

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gastos/internal/storage"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteIndex persists vectors as JSON next to their documents and ranks them
// by brute-force cosine distance within a chat.
type SQLiteIndex struct {
	db *sql.DB
}

func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create vector db directory: %w", err)
	}

	if err := storage.Migrate(dbPath, migrationsFS, "migrations"); err != nil {
		return nil, fmt.Errorf("run vector migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open vector database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping vector database: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteIndex) Upsert(ctx context.Context, e Entry) error {
	if len(e.Embedding) == 0 {
		return ErrEmptyEmbedding
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	vec, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vectors (id, chat_id, document, metadata, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chat_id = excluded.chat_id,
			document = excluded.document,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		e.ID, e.Metadata.ChatID, e.Document, string(meta), string(vec), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert vector %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteIndex) Query(ctx context.Context, embedding []float32, limit int, chatID int64) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document, metadata, embedding FROM vectors WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var (
			m             Match
			meta, vecJSON string
			vec           []float32
		)
		if err := rows.Scan(&m.ID, &m.Document, &meta, &vecJSON); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			slog.WarnContext(ctx, "skipping corrupted embedding", "id", m.ID, "error", err)
			continue
		}
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			slog.WarnContext(ctx, "skipping corrupted metadata", "id", m.ID, "error", err)
			continue
		}
		d, ok := cosineDistance(embedding, vec)
		if !ok {
			continue
		}
		m.Distance = d
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}
	return rank(out, limit), nil
}

func (s *SQLiteIndex) DeleteByPrefix(ctx context.Context, chatID int64, idPrefix string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM vectors WHERE chat_id = ? AND instr(id, ?) = 1`,
		chatID, idPrefix)
	if err != nil {
		return 0, fmt.Errorf("delete vectors with prefix %q: %w", idPrefix, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Count returns the number of vectors stored for chatID.
func (s *SQLiteIndex) Count(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE chat_id = ?`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

var _ Index = (*SQLiteIndex)(nil)
var _ Index = (*MemoryIndex)(nil)
