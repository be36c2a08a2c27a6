package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound reports that no document matched the given identifier.
var ErrNotFound = errors.New("document not found")

// Document is one schemaless store record.
type Document = map[string]any

// Condition is a single field-equality constraint.
type Condition struct {
	Field string
	Value string
}

// Query is a conjunctive filter over document fields, the decoded form of a
// db_query expression such as {"$and":[{"metapath":"Corpus,guardian,RawData"}]}.
type Query struct {
	And []Condition
}

// ParseQuery decodes a db_query expression. An expression with a top-level
// $and holds one single-field object per condition; a bare object is treated
// as one condition per field.
func ParseQuery(raw string) (Query, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return Query{}, fmt.Errorf("parse query expression: %w", err)
	}

	var q Query
	if and, ok := top["$and"]; ok {
		var clauses []map[string]string
		if err := json.Unmarshal(and, &clauses); err != nil {
			return Query{}, fmt.Errorf("parse $and clauses: %w", err)
		}
		for _, clause := range clauses {
			for field, value := range clause {
				q.And = append(q.And, Condition{Field: field, Value: value})
			}
		}
		return q, nil
	}

	fields := make([]string, 0, len(top))
	for field := range top {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		var value string
		if err := json.Unmarshal(top[field], &value); err != nil {
			return Query{}, fmt.Errorf("parse condition %s: %w", field, err)
		}
		q.And = append(q.And, Condition{Field: field, Value: value})
	}
	return q, nil
}

// Store exposes the document operations the lifecycle layer depends on.
type Store interface {
	// FindOne returns the document with the given id.
	FindOne(ctx context.Context, collection, id string) (Document, error)

	// InsertOne stores a new document and returns its assigned id.
	InsertOne(ctx context.Context, collection string, doc Document) (string, error)

	// UpdateOne merges the given fields into an existing document.
	UpdateOne(ctx context.Context, collection, id string, fields Document) error

	// FindOneAndUpdate merges fields into a document and returns the
	// updated document.
	FindOneAndUpdate(ctx context.Context, collection, id string, fields Document) (Document, error)

	// DeleteOne removes the document with the given id.
	DeleteOne(ctx context.Context, collection, id string) error

	// Find returns all documents in the collection matching the query.
	Find(ctx context.Context, collection string, q Query) ([]Document, error)

	// Close releases the store's resources.
	Close() error
}
