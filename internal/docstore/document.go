package docstore

import (
	"encoding/json"
	"fmt"
)

// Document is a schemaless JSON object stored in a collection.
type Document map[string]any

// Field names owned by the store. Callers never write them; every stored
// document carries them.
const (
	FieldID          = "id"
	FieldRID         = "_rid"
	FieldSelf        = "_self"
	FieldETag        = "_etag"
	FieldAttachments = "_attachments"
	FieldTimestamp   = "_ts"
)

// SystemFields lists the bookkeeping fields added by the store.
var SystemFields = []string{FieldRID, FieldSelf, FieldETag, FieldAttachments, FieldTimestamp}

// ID returns the document id, or "" when absent or not a string.
func (d Document) ID() string {
	return d.String(FieldID)
}

// ETag returns the store-assigned concurrency token.
func (d Document) ETag() string {
	return d.String(FieldETag)
}

// Has reports whether field is present, even when its value is null.
func (d Document) Has(field string) bool {
	_, ok := d[field]
	return ok
}

// String returns field as a string, or "" when absent or of another type.
func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Strings returns field as a string slice. ok is false when the field is
// absent or null; non-string elements are skipped.
func (d Document) Strings(field string) (values []string, ok bool) {
	switch v := d[field].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		values = make([]string, 0, len(v))
		for _, e := range v {
			if s, isString := e.(string); isString {
				values = append(values, s)
			}
		}
		return values, true
	default:
		return nil, false
	}
}

// Keep returns a copy holding only the listed fields. Fields absent from d
// are absent from the result.
func (d Document) Keep(fields ...string) Document {
	out := make(Document, len(fields))
	for _, f := range fields {
		if v, ok := d[f]; ok {
			out[f] = deepCopy(v)
		}
	}
	return out
}

// Without returns a copy of d minus the listed fields.
func (d Document) Without(fields ...string) Document {
	out := d.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// WithoutSystemFields returns a copy of d minus the store bookkeeping fields.
func (d Document) WithoutSystemFields() Document {
	return d.Without(SystemFields...)
}

// Merge returns a copy of d with every key of incoming written over it.
// The merge is shallow: nested objects and arrays in incoming replace the
// stored value wholesale. Keys absent from incoming are preserved.
func (d Document) Merge(incoming Document) Document {
	out := d.Clone()
	for k, v := range incoming {
		out[k] = deepCopy(v)
	}
	return out
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// normalize round-trips d through JSON so stored values have the same shapes
// regardless of the implementation (objects are map[string]any, numbers are
// float64, arrays are []any).
func normalize(d Document) (Document, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if out == nil {
		out = Document{}
	}
	return out, nil
}

// normalizeValue applies the same JSON round trip to a single query value.
func normalizeValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode query value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode query value: %w", err)
	}
	return out, nil
}

// keyValue renders a partition or unique key field as the string the store
// indexes on. Absent and null values render as "".
func keyValue(d Document, field string) string {
	if field == "" {
		return ""
	}
	switch v := d[field].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
