package notify

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is refusing sends.
var ErrCircuitOpen = errors.New("email provider circuit open")

// BreakerSender stops calling a failing email provider. After threshold
// consecutive failures it refuses sends for cooldown, then lets one send
// through to probe the provider again.
type BreakerSender struct {
	next      Sender
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// NewBreakerSender wraps next. Non-positive arguments fall back to 5 failures
// and one minute.
func NewBreakerSender(next Sender, threshold int, cooldown time.Duration) *BreakerSender {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &BreakerSender{next: next, threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (b *BreakerSender) Send(ctx context.Context, msg Message) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	err := b.next.Send(ctx, msg)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.failures >= b.threshold {
			b.openUntil = b.now().Add(b.cooldown)
		}
		return err
	}
	b.failures = 0
	b.openUntil = time.Time{}
	return nil
}

// Open reports whether sends are currently refused.
func (b *BreakerSender) Open() bool {
	return !b.allow()
}

func (b *BreakerSender) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openUntil.IsZero() || !b.now().Before(b.openUntil)
}
