// Package changefeed relays the committed writes of a collection to
// subscribers. A Processor polls the store's change feed, hands every change
// to a Publisher in order and checkpoints the last delivered sequence number
// under a lease name, so delivery is at-least-once across restarts. A lease
// with no checkpoint starts at the feed head: writes committed before the
// processor first ran are not delivered.
package changefeed

import (
	"context"

	"sangue/internal/docstore"
)

// ChangeReader is the slice of the document store the processor reads.
type ChangeReader interface {
	Changes(ctx context.Context, collection string, after int64, limit int) ([]docstore.Change, error)
	Head(ctx context.Context) (int64, error)
}

// Checkpointer persists the last delivered sequence number per lease.
// Load reports found=false for a lease that was never saved.
type Checkpointer interface {
	Load(ctx context.Context, lease string) (seq int64, found bool, err error)
	Save(ctx context.Context, lease string, seq int64) error
}

// Publisher delivers one change to its subscribers.
type Publisher interface {
	Publish(ctx context.Context, change docstore.Change) error
}

// Handler consumes a change on the subscriber side.
type Handler interface {
	HandleChange(ctx context.Context, change docstore.Change) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, change docstore.Change) error

func (f HandlerFunc) HandleChange(ctx context.Context, change docstore.Change) error {
	return f(ctx, change)
}

// HandlerPublisher delivers changes in process, straight to a Handler.
type HandlerPublisher struct {
	handler Handler
}

func NewHandlerPublisher(handler Handler) *HandlerPublisher {
	return &HandlerPublisher{handler: handler}
}

func (p *HandlerPublisher) Publish(ctx context.Context, change docstore.Change) error {
	return p.handler.HandleChange(ctx, change)
}

// Topic names the Kafka topic carrying the changes of collection.
func Topic(prefix, collection string) string {
	if prefix == "" {
		return collection
	}
	return prefix + "." + collection
}
