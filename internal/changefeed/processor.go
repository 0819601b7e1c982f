package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultInterval = time.Second
	DefaultBatch    = 100
)

// Processor polls the change feed of one collection.
type Processor struct {
	reader     ChangeReader
	collection string
	lease      string
	checkpoint Checkpointer
	publisher  Publisher
	interval   time.Duration
	batch      int
	logger     *slog.Logger
	metrics    *Metrics
	fromStart  bool
}

type Option func(p *Processor)

// WithLease overrides the lease name, which defaults to the collection name.
func WithLease(name string) Option {
	return func(p *Processor) {
		p.lease = name
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithBatch(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batch = n
		}
	}
}

// WithStartFromBeginning makes a lease with no checkpoint start at the first
// retained change instead of the feed head.
func WithStartFromBeginning() Option {
	return func(p *Processor) {
		p.fromStart = true
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// NewProcessor builds a processor for collection.
func NewProcessor(reader ChangeReader, collection string, checkpoint Checkpointer, publisher Publisher, opts ...Option) *Processor {
	p := &Processor{
		reader:     reader,
		collection: collection,
		lease:      collection,
		checkpoint: checkpoint,
		publisher:  publisher,
		interval:   DefaultInterval,
		batch:      DefaultBatch,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled. Poll failures are logged and retried on
// the next tick from the last checkpoint.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "change feed processor started",
		"collection", p.collection,
		"lease", p.lease,
	)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.WarnContext(ctx, "change feed poll failed",
				"collection", p.collection,
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll delivers the pending changes, at most one batch, and returns how many
// were delivered. The checkpoint advances after each delivered change, so a
// failed delivery is retried by the next poll.
func (p *Processor) Poll(ctx context.Context) (int, error) {
	after, found, err := p.checkpoint.Load(ctx, p.lease)
	if err != nil {
		return 0, err
	}
	if !found {
		if after, err = p.startLease(ctx); err != nil {
			return 0, err
		}
	}
	changes, err := p.reader.Changes(ctx, p.collection, after, p.batch)
	if err != nil {
		return 0, fmt.Errorf("read changes of %s: %w", p.collection, err)
	}

	for i, change := range changes {
		if p.metrics != nil {
			p.metrics.SetLag(p.collection, len(changes)-i)
		}
		if err := p.publisher.Publish(ctx, change); err != nil {
			if p.metrics != nil {
				p.metrics.IncrementPublishErrors(p.collection)
			}
			return i, fmt.Errorf("publish change %d of %s: %w", change.Seq, p.collection, err)
		}
		if err := p.checkpoint.Save(ctx, p.lease, change.Seq); err != nil {
			return i + 1, err
		}
		if p.metrics != nil {
			p.metrics.IncrementPublished(p.collection)
		}
	}
	if p.metrics != nil {
		p.metrics.SetLag(p.collection, 0)
	}
	return len(changes), nil
}

// startLease checkpoints a new lease at the feed head, or at 0 with
// WithStartFromBeginning.
func (p *Processor) startLease(ctx context.Context) (int64, error) {
	var start int64
	if !p.fromStart {
		head, err := p.reader.Head(ctx)
		if err != nil {
			return 0, fmt.Errorf("read change feed head: %w", err)
		}
		start = head
	}
	if err := p.checkpoint.Save(ctx, p.lease, start); err != nil {
		return 0, err
	}
	p.logger.InfoContext(ctx, "change feed lease started",
		"collection", p.collection,
		"lease", p.lease,
		"seq", start,
	)
	return start, nil
}
