// Package docstore is a container-oriented document store: named collections
// of schemaless JSON documents with equality queries, whole-document replace,
// delete by (id, partition key) and an ordered change feed per collection.
//
// Implementations return pkg/platform/sentinel errors, possibly wrapped:
//   - ErrNotFound for a missing document or collection
//   - ErrConflict for a duplicate id or unique key value; a duplicate unique
//     key value additionally matches ErrUniqueKey
//   - ErrPreconditionFailed when a conditional replace carries a stale etag
package docstore

import (
	"context"
	"fmt"
	"time"

	"sangue/pkg/platform/sentinel"
)

// ErrUniqueKey marks a conflict on the collection's unique key, as opposed to
// a duplicate id. It matches sentinel.ErrConflict too.
var ErrUniqueKey = fmt.Errorf("unique key taken: %w", sentinel.ErrConflict)

// CollectionSpec describes a collection.
//
// PartitionKey names the field that, together with id, addresses a document
// for deletion. UniqueKey optionally names a field whose non-empty values must
// be unique within the collection.
type CollectionSpec struct {
	Name         string
	PartitionKey string
	UniqueKey    string
}

// Filter is a parameterised equality predicate on a top-level field.
// Equality is exact: case-sensitive and type-strict after JSON normalisation.
type Filter struct {
	Field string
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Operation is the kind of committed write recorded in the change feed.
type Operation string

const (
	OperationCreate  Operation = "create"
	OperationReplace Operation = "replace"
	OperationDelete  Operation = "delete"
)

// Change is one committed write. Seq is strictly increasing across the store.
// Document is the full stored document after the write (before it, for deletes).
type Change struct {
	Seq         int64     `json:"seq"`
	Collection  string    `json:"collection"`
	DocumentID  string    `json:"document_id"`
	Operation   Operation `json:"operation"`
	Document    Document  `json:"document,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// Store is the operation set every implementation provides.
type Store interface {
	// EnsureCollection creates the collection when absent. Repeated calls are no-ops.
	EnsureCollection(ctx context.Context, spec CollectionSpec) error
	// ReadAll returns every document in insertion order.
	ReadAll(ctx context.Context, collection string) ([]Document, error)
	// Query returns the documents matching every filter, in insertion order.
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	// Create stores doc, assigning an id when it has none, and returns the stored document.
	Create(ctx context.Context, collection string, doc Document) (Document, error)
	// Replace overwrites the document with the given id. When doc carries an
	// etag the replace only succeeds if it matches the stored one.
	Replace(ctx context.Context, collection, id string, doc Document) (Document, error)
	// Delete removes the document addressed by id and partition key value.
	Delete(ctx context.Context, collection, id, partitionValue string) error
	// Changes returns up to limit changes of collection with Seq > after.
	Changes(ctx context.Context, collection string, after int64, limit int) ([]Change, error)
	// Head returns the Seq of the latest committed change in any collection, or 0.
	Head(ctx context.Context) (int64, error)
}
