package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into outcomes.
//
// These represent factual states about documents, not validation failures:
// - ErrNotFound: document or collection does not exist in the store
// - ErrConflict: a document with the same id or unique key already exists
// - ErrPreconditionFailed: a conditional replace carried a stale etag
// - ErrUnavailable: store or broker temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUnavailable        = errors.New("unavailable")
)
