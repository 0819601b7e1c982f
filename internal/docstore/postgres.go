package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sangue/pkg/platform/sentinel"
	txcontext "sangue/pkg/platform/tx"
	"sangue/pkg/requestcontext"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// changeLogLock is the pg_advisory_xact_lock key writers hold from taking a
// change seq until commit, so seq order is commit order and a reader never
// sees seq N+1 before seq N.
const changeLogLock int64 = 0x73616e677565

// uniqueValueIndex enforces CollectionSpec.UniqueKey.
const uniqueValueIndex = "documents_unique_value"

// schema is applied by Bootstrap. Documents keep their JSON body (including id)
// in a JSONB column; bookkeeping fields live in columns. document_changes is
// the transactional outbox backing the change feed.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		name          TEXT PRIMARY KEY,
		partition_key TEXT NOT NULL DEFAULT '',
		unique_key    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		collection      TEXT NOT NULL REFERENCES collections(name),
		id              TEXT NOT NULL,
		seq             BIGSERIAL,
		rid             TEXT NOT NULL,
		partition_value TEXT NOT NULL DEFAULT '',
		unique_value    TEXT,
		body            JSONB NOT NULL,
		etag            TEXT NOT NULL,
		ts              BIGINT NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + uniqueValueIndex + `
		ON documents (collection, unique_value) WHERE unique_value IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS document_changes (
		seq          BIGSERIAL PRIMARY KEY,
		collection   TEXT NOT NULL,
		document_id  TEXT NOT NULL,
		operation    TEXT NOT NULL,
		body         JSONB NOT NULL,
		committed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS document_changes_collection_seq
		ON document_changes (collection, seq)`,
}

// PostgresStore implements Store on PostgreSQL JSONB.
type PostgresStore struct {
	db *sql.DB

	mu    sync.RWMutex
	specs map[string]CollectionSpec
}

// NewPostgres constructs a PostgreSQL-backed store. Call Bootstrap before use.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, specs: make(map[string]CollectionSpec)}
}

// Bootstrap creates the store tables when absent.
func (s *PostgresStore) Bootstrap(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap document store: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) execer(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorOr(ctx, s.db)
}

// inTx runs fn in a transaction carried by the context, so the document write
// and its change row commit together.
func (s *PostgresStore) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := txcontext.Run(ctx, s.db, fn); err != nil {
		return fmt.Errorf("document transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureCollection(ctx context.Context, spec CollectionSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (name, partition_key, unique_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`, spec.Name, spec.PartitionKey, spec.UniqueKey)
	if err != nil {
		return fmt.Errorf("ensure collection %s: %w", spec.Name, err)
	}
	// The stored spec wins over the requested one when the collection already existed.
	_, err = s.spec(ctx, spec.Name)
	return err
}

// spec loads a collection spec, caching it; specs never change once created.
func (s *PostgresStore) spec(ctx context.Context, name string) (CollectionSpec, error) {
	s.mu.RLock()
	spec, ok := s.specs[name]
	s.mu.RUnlock()
	if ok {
		return spec, nil
	}

	spec = CollectionSpec{Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT partition_key, unique_key FROM collections WHERE name = $1`, name,
	).Scan(&spec.PartitionKey, &spec.UniqueKey)
	if errors.Is(err, sql.ErrNoRows) {
		return CollectionSpec{}, fmt.Errorf("collection %s: %w", name, sentinel.ErrNotFound)
	}
	if err != nil {
		return CollectionSpec{}, fmt.Errorf("load collection %s: %w", name, err)
	}

	s.mu.Lock()
	s.specs[name] = spec
	s.mu.Unlock()
	return spec, nil
}

func (s *PostgresStore) ReadAll(ctx context.Context, collection string) ([]Document, error) {
	return s.Query(ctx, collection)
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if _, err := s.spec(ctx, collection); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT rid, body, etag, ts FROM documents WHERE collection = $1`)
	args := []any{collection}
	for _, f := range filters {
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode query value: %w", err)
		}
		args = append(args, f.Field, string(value))
		fmt.Fprintf(&sb, ` AND body -> $%d = $%d::jsonb`, len(args)-1, len(args))
	}
	sb.WriteString(` ORDER BY seq`)

	rows, err := s.execer(ctx).QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	result := make([]Document, 0)
	for rows.Next() {
		var (
			rid, etag string
			body      []byte
			ts        int64
		)
		if err := rows.Scan(&rid, &body, &etag, &ts); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := decodeStored(collection, body, rid, etag, ts)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) Create(ctx context.Context, collection string, doc Document) (Document, error) {
	spec, err := s.spec(ctx, collection)
	if err != nil {
		return nil, err
	}
	body, err := normalize(doc.WithoutSystemFields())
	if err != nil {
		return nil, err
	}
	if raw, ok := body[FieldID]; ok && raw != nil {
		if _, isString := raw.(string); !isString {
			return nil, fmt.Errorf("document id must be a string")
		}
	}
	if body.ID() == "" {
		body[FieldID] = uuid.NewString()
	}
	id := body.ID()
	rid, etag, ts := newRID(), newETag(), requestcontext.Now(ctx).Unix()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	var stored Document
	err = s.inTx(ctx, func(ctx context.Context) error {
		_, err := s.execer(ctx).ExecContext(ctx, `
			INSERT INTO documents (collection, id, rid, partition_value, unique_value, body, etag, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, collection, id, rid,
			keyValue(body, spec.PartitionKey),
			nullable(keyValue(body, spec.UniqueKey)),
			string(payload), etag, ts,
		)
		if err != nil {
			if isUniqueViolation(err) {
				if violatedConstraint(err) == uniqueValueIndex {
					return fmt.Errorf("%s: %w", spec.UniqueKey, ErrUniqueKey)
				}
				return fmt.Errorf("document %s: %w", id, sentinel.ErrConflict)
			}
			return fmt.Errorf("insert document: %w", err)
		}
		stored = withSystemFields(collection, body, rid, etag, ts)
		return s.appendChange(ctx, collection, id, OperationCreate, stored)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *PostgresStore) Replace(ctx context.Context, collection, id string, doc Document) (Document, error) {
	spec, err := s.spec(ctx, collection)
	if err != nil {
		return nil, err
	}
	ifMatch := doc.ETag()
	body, err := normalize(doc.WithoutSystemFields())
	if err != nil {
		return nil, err
	}
	body[FieldID] = id
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	etag, ts := newETag(), requestcontext.Now(ctx).Unix()

	var stored Document
	err = s.inTx(ctx, func(ctx context.Context) error {
		query := `
			UPDATE documents
			SET body = $3, etag = $4, ts = $5, partition_value = $6, unique_value = $7
			WHERE collection = $1 AND id = $2`
		args := []any{collection, id, string(payload), etag, ts,
			keyValue(body, spec.PartitionKey),
			nullable(keyValue(body, spec.UniqueKey)),
		}
		if ifMatch != "" {
			query += ` AND etag = $8`
			args = append(args, ifMatch)
		}
		query += ` RETURNING rid`

		var rid string
		err := s.execer(ctx).QueryRowContext(ctx, query, args...).Scan(&rid)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return s.missOrStale(ctx, collection, id)
		case err != nil && isUniqueViolation(err):
			return fmt.Errorf("%s: %w", spec.UniqueKey, ErrUniqueKey)
		case err != nil:
			return fmt.Errorf("replace document: %w", err)
		}
		stored = withSystemFields(collection, body, rid, etag, ts)
		return s.appendChange(ctx, collection, id, OperationReplace, stored)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// missOrStale tells a missing document apart from an etag mismatch after an
// UPDATE matched no rows.
func (s *PostgresStore) missOrStale(ctx context.Context, collection, id string) error {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`,
		collection, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check document: %w", err)
	}
	if exists {
		return fmt.Errorf("document %s: %w", id, sentinel.ErrPreconditionFailed)
	}
	return fmt.Errorf("document %s: %w", id, sentinel.ErrNotFound)
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id, partitionValue string) error {
	if _, err := s.spec(ctx, collection); err != nil {
		return err
	}
	return s.inTx(ctx, func(ctx context.Context) error {
		var (
			rid, etag string
			body      []byte
			ts        int64
		)
		err := s.execer(ctx).QueryRowContext(ctx, `
			DELETE FROM documents
			WHERE collection = $1 AND id = $2 AND partition_value = $3
			RETURNING rid, body, etag, ts
		`, collection, id, partitionValue).Scan(&rid, &body, &etag, &ts)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("document %s: %w", id, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		doc, err := decodeStored(collection, body, rid, etag, ts)
		if err != nil {
			return err
		}
		return s.appendChange(ctx, collection, id, OperationDelete, doc)
	})
}

func (s *PostgresStore) Changes(ctx context.Context, collection string, after int64, limit int) ([]Change, error) {
	if _, err := s.spec(ctx, collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, document_id, operation, body, committed_at
		FROM document_changes
		WHERE collection = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3
	`, collection, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	result := make([]Change, 0)
	for rows.Next() {
		var (
			ch   Change
			op   string
			body []byte
		)
		if err := rows.Scan(&ch.Seq, &ch.DocumentID, &op, &body, &ch.CommittedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		if err := json.Unmarshal(body, &ch.Document); err != nil {
			return nil, fmt.Errorf("decode change: %w", err)
		}
		ch.Collection = collection
		ch.Operation = Operation(op)
		result = append(result, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) Head(ctx context.Context) (int64, error) {
	var head int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM document_changes`).Scan(&head); err != nil {
		return 0, fmt.Errorf("read change log head: %w", err)
	}
	return head, nil
}

// appendChange must run inside the write's transaction.
func (s *PostgresStore) appendChange(ctx context.Context, collection, id string, op Operation, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	exec := s.execer(ctx)
	if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, changeLogLock); err != nil {
		return fmt.Errorf("lock change log: %w", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO document_changes (collection, document_id, operation, body, committed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, collection, id, string(op), string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	return nil
}

func decodeStored(collection string, body []byte, rid, etag string, ts int64) (Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return withSystemFields(collection, doc, rid, etag, ts), nil
}

func withSystemFields(collection string, body Document, rid, etag string, ts int64) Document {
	doc := body.Clone()
	doc[FieldRID] = rid
	doc[FieldSelf] = selfLink(collection, body.ID())
	doc[FieldETag] = etag
	doc[FieldAttachments] = "attachments/"
	doc[FieldTimestamp] = float64(ts)
	return doc
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func violatedConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
