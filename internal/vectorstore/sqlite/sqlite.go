// Package sqlite is the local persistent vector index. Vectors live in a
// single SQLite file as float32 BLOBs and are ranked by brute-force cosine
// similarity over the requesting user's rows.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"docqa-platform/internal/vectorstore"
)

var _ vectorstore.Index = (*Store)(nil)

const dbFileName = "chunks.db"

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	key         TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	document_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	preview     TEXT NOT NULL,
	embedding   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_user ON chunks(user_id);
CREATE INDEX IF NOT EXISTS idx_chunks_user_document ON chunks(user_id, document_id);
CREATE TABLE IF NOT EXISTS index_meta (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

type Store struct {
	db   *sql.DB
	path string

	mu        sync.RWMutex
	dimension int
}

// Open opens (or creates) the index under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating vector directory: %w", err)
	}
	dbPath := filepath.Join(dir, dbFileName)

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &Store{db: db, path: dbPath}, nil
}

func (s *Store) Name() string { return "sqlite" }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE name = 'dimension'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO index_meta (name, value) VALUES ('dimension', ?)`, strconv.Itoa(dimension)); err != nil {
			return fmt.Errorf("recording dimension: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading dimension: %w", err)
	default:
		existing, convErr := strconv.Atoi(stored)
		if convErr != nil {
			return fmt.Errorf("corrupt dimension %q: %w", stored, convErr)
		}
		if existing != dimension {
			return fmt.Errorf("index was built with dimension %d, embedding model produces %d", existing, dimension)
		}
	}

	s.dimension = dimension
	return nil
}

func (s *Store) currentDimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	dim := s.currentDimension()
	if dim == 0 {
		return vectorstore.ErrNotInitialized
	}
	if err := vectorstore.Validate(records, dim); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (key, user_id, document_id, chunk_index, content, preview, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			user_id = excluded.user_id,
			document_id = excluded.document_id,
			chunk_index = excluded.chunk_index,
			content = excluded.content,
			preview = excluded.preview,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Key, r.Metadata.UserID, r.Metadata.DocumentID, r.Metadata.ChunkIndex,
			r.Content, r.Metadata.Preview, vectorstore.EncodeEmbedding(r.Vector),
		); err != nil {
			return fmt.Errorf("upserting %s: %w", r.Key, err)
		}
	}

	return tx.Commit()
}

func (s *Store) Search(ctx context.Context, userID string, vector []float32, topK int) ([]vectorstore.Result, error) {
	if s.currentDimension() == 0 {
		return nil, vectorstore.ErrNotInitialized
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, document_id, chunk_index, content, preview, embedding
		FROM chunks WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []vectorstore.Result
	for rows.Next() {
		var (
			r    vectorstore.Result
			blob []byte
		)
		if err := rows.Scan(&r.Key, &r.Metadata.DocumentID, &r.Metadata.ChunkIndex, &r.Content, &r.Metadata.Preview, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		vec, err := vectorstore.DecodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", r.Key, err)
		}
		r.Score, err = vectorstore.CosineSimilarity(vector, vec)
		if err != nil {
			return nil, err
		}
		r.Metadata.UserID = userID
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	return vectorstore.SortAndLimit(results, topK), nil
}

func (s *Store) DeleteDocument(ctx context.Context, userID, documentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE user_id = ? AND document_id = ?`, userID, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting document chunks: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting user chunks: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
