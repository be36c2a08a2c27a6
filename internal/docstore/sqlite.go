package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);
`

// SQLiteStore persists documents in a local SQLite database.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) a SQLite document store at path.
func Open(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// FindOne returns the document with the given id.
func (s *SQLiteStore) FindOne(ctx context.Context, collection, id string) (Document, error) {
	var body string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return decodeBody(body)
}

// InsertOne stores a new document and returns its assigned id. The id is
// written into the document body under _id before storing, matching what
// callers read back.
func (s *SQLiteStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	id := uuid.New().String()
	stored := make(Document, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored["_id"] = id

	body, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`,
		collection, id, string(body),
	)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// UpdateOne merges the given fields into an existing document.
func (s *SQLiteStore) UpdateOne(ctx context.Context, collection, id string, fields Document) error {
	_, err := s.FindOneAndUpdate(ctx, collection, id, fields)
	return err
}

// FindOneAndUpdate merges fields into a document and returns the updated
// document. The read-merge-write runs in one transaction.
func (s *SQLiteStore) FindOneAndUpdate(ctx context.Context, collection, id string, fields Document) (Document, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read document for update: %w", err)
	}

	doc, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		doc[k] = v
	}
	doc["_id"] = id

	updated, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode updated document: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET body = ? WHERE collection = ? AND id = ?`,
		string(updated), collection, id,
	); err != nil {
		return nil, fmt.Errorf("write updated document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return doc, nil
}

// DeleteOne removes the document with the given id. Zero matched rows is an
// explicit ErrNotFound, never a silent no-op.
func (s *SQLiteStore) DeleteOne(ctx context.Context, collection, id string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return nil
}

// Find returns all documents in the collection matching the query, ordered
// by id for stable results.
func (s *SQLiteStore) Find(ctx context.Context, collection string, q Query) ([]Document, error) {
	where := []string{"collection = ?"}
	args := []any{collection}
	for _, cond := range q.And {
		where = append(where, "json_extract(body, ?) = ?")
		args = append(args, "$."+cond.Field, cond.Value)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT body FROM documents WHERE `+strings.Join(where, " AND ")+` ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func decodeBody(body string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode document body: %w", err)
	}
	return doc, nil
}
