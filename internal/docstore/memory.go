package docstore

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/google/uuid"

	"sangue/pkg/platform/sentinel"
	"sangue/pkg/requestcontext"
)

// InMemory is a process-local Store. It favours clarity over performance:
// queries scan the collection and every read returns a deep copy.
type InMemory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	changes     []Change
	changeLimit int
	seq         int64
}

// DefaultChangeLogLimit is how many changes an InMemory store retains.
const DefaultChangeLogLimit = 10000

// MemoryOption configures an InMemory store.
type MemoryOption func(*InMemory)

// WithChangeLogLimit caps the retained change log at n entries, dropping the
// oldest first. A reader whose position falls behind the retained window
// resumes at the oldest retained change.
func WithChangeLogLimit(n int) MemoryOption {
	return func(s *InMemory) {
		if n > 0 {
			s.changeLimit = n
		}
	}
}

type memCollection struct {
	spec   CollectionSpec
	docs   map[string]Document
	order  []string
	unique map[string]string // unique key value -> document id
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory(opts ...MemoryOption) *InMemory {
	s := &InMemory{
		collections: make(map[string]*memCollection),
		changeLimit: DefaultChangeLogLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) EnsureCollection(_ context.Context, spec CollectionSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[spec.Name]; ok {
		return nil
	}
	s.collections[spec.Name] = &memCollection{
		spec:   spec,
		docs:   make(map[string]Document),
		unique: make(map[string]string),
	}
	return nil
}

func (s *InMemory) ReadAll(ctx context.Context, collection string) ([]Document, error) {
	return s.Query(ctx, collection)
}

func (s *InMemory) Query(_ context.Context, collection string, filters ...Filter) ([]Document, error) {
	wants := make([]any, len(filters))
	for i, f := range filters {
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nil, err
		}
		wants[i] = v
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	result := make([]Document, 0)
	for _, id := range c.order {
		doc := c.docs[id]
		if matches(doc, filters, wants) {
			result = append(result, doc.Clone())
		}
	}
	return result, nil
}

func (s *InMemory) Create(ctx context.Context, collection string, doc Document) (Document, error) {
	stored, err := normalize(doc.WithoutSystemFields())
	if err != nil {
		return nil, err
	}
	if raw, ok := stored[FieldID]; ok && raw != nil {
		if _, isString := raw.(string); !isString {
			return nil, fmt.Errorf("document id must be a string")
		}
	}
	if stored.ID() == "" {
		stored[FieldID] = uuid.NewString()
	}
	id := stored.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if _, exists := c.docs[id]; exists {
		return nil, fmt.Errorf("document %s: %w", id, sentinel.ErrConflict)
	}
	uv := keyValue(stored, c.spec.UniqueKey)
	if uv != "" {
		if _, taken := c.unique[uv]; taken {
			return nil, fmt.Errorf("%s %q: %w", c.spec.UniqueKey, uv, ErrUniqueKey)
		}
		c.unique[uv] = id
	}

	now := requestcontext.Now(ctx)
	stored[FieldRID] = newRID()
	stored[FieldSelf] = selfLink(collection, id)
	stored[FieldETag] = newETag()
	stored[FieldAttachments] = "attachments/"
	stored[FieldTimestamp] = float64(now.Unix())

	c.docs[id] = stored
	c.order = append(c.order, id)
	s.record(ctx, collection, id, OperationCreate, stored)
	return stored.Clone(), nil
}

func (s *InMemory) Replace(ctx context.Context, collection, id string, doc Document) (Document, error) {
	ifMatch := doc.ETag()
	next, err := normalize(doc.WithoutSystemFields())
	if err != nil {
		return nil, err
	}
	next[FieldID] = id

	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	current, ok := c.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, sentinel.ErrNotFound)
	}
	if ifMatch != "" && ifMatch != current.ETag() {
		return nil, fmt.Errorf("document %s: %w", id, sentinel.ErrPreconditionFailed)
	}

	oldUV := keyValue(current, c.spec.UniqueKey)
	newUV := keyValue(next, c.spec.UniqueKey)
	if newUV != oldUV && newUV != "" {
		if _, taken := c.unique[newUV]; taken {
			return nil, fmt.Errorf("%s %q: %w", c.spec.UniqueKey, newUV, ErrUniqueKey)
		}
	}
	if oldUV != "" {
		delete(c.unique, oldUV)
	}
	if newUV != "" {
		c.unique[newUV] = id
	}

	next[FieldRID] = current[FieldRID]
	next[FieldSelf] = current[FieldSelf]
	next[FieldETag] = newETag()
	next[FieldAttachments] = current[FieldAttachments]
	next[FieldTimestamp] = float64(requestcontext.Now(ctx).Unix())

	c.docs[id] = next
	s.record(ctx, collection, id, OperationReplace, next)
	return next.Clone(), nil
}

func (s *InMemory) Delete(ctx context.Context, collection, id, partitionValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	current, ok := c.docs[id]
	if !ok || keyValue(current, c.spec.PartitionKey) != partitionValue {
		return fmt.Errorf("document %s: %w", id, sentinel.ErrNotFound)
	}

	if uv := keyValue(current, c.spec.UniqueKey); uv != "" {
		delete(c.unique, uv)
	}
	delete(c.docs, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	s.record(ctx, collection, id, OperationDelete, current)
	return nil
}

func (s *InMemory) Changes(_ context.Context, collection string, after int64, limit int) ([]Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.collection(collection); err != nil {
		return nil, err
	}

	result := make([]Change, 0)
	for _, ch := range s.changes {
		if ch.Seq <= after || ch.Collection != collection {
			continue
		}
		ch.Document = ch.Document.Clone()
		result = append(result, ch)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *InMemory) Head(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, nil
}

// collection must be called with s.mu held.
func (s *InMemory) collection(name string) (*memCollection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", name, sentinel.ErrNotFound)
	}
	return c, nil
}

// record must be called with s.mu held for writing.
func (s *InMemory) record(ctx context.Context, collection, id string, op Operation, doc Document) {
	s.seq++
	s.changes = append(s.changes, Change{
		Seq:         s.seq,
		Collection:  collection,
		DocumentID:  id,
		Operation:   op,
		Document:    doc.Clone(),
		CommittedAt: requestcontext.Now(ctx),
	})
	if over := len(s.changes) - s.changeLimit; over > 0 {
		s.changes = slices.Delete(s.changes, 0, over)
	}
}

func matches(doc Document, filters []Filter, wants []any) bool {
	for i, f := range filters {
		got, ok := doc[f.Field]
		if !ok || !reflect.DeepEqual(got, wants[i]) {
			return false
		}
	}
	return true
}

func newETag() string {
	return `"` + uuid.NewString() + `"`
}

func newRID() string {
	return uuid.NewString()[:8]
}

func selfLink(collection, id string) string {
	return "colls/" + collection + "/docs/" + id + "/"
}
