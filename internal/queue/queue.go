// Package queue implements push (blocking with retry), pop_batch, and
// dead_letter over a single named FIFO list plus a dead-letter list in
// an external key/value store.
//
// The retry/backoff loop selects on a stop channel vs. time.After
// rather than pulling in a third-party backoff library — see DESIGN.md.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshtap/meshtap/internal/capture"
)

// DeadLetter is the wire shape of a dead-lettered descriptor.
type DeadLetter struct {
	Descriptor capture.Descriptor `json:"descriptor"`
	Reason     string             `json:"reason"`
	LastError  string             `json:"last_error"`
	Attempts   int                `json:"attempts"`
	FirstSeen  time.Time          `json:"first_seen"`
	LastSeen   time.Time          `json:"last_seen"`
}

// Backend is the minimal list-store contract a Queue needs; implemented
// by *redisBackend (internal/queue/redis.go) and by an in-memory fake in
// tests.
type Backend interface {
	RPush(ctx context.Context, list string, value []byte) error
	BLPop(ctx context.Context, list string, timeout time.Duration) ([]byte, error)
	// LPop is a non-blocking pop; it returns (nil, nil) when list is
	// empty. Used to drain a batch past its first (blocking-popped)
	// element without risking an indefinite block.
	LPop(ctx context.Context, list string) ([]byte, error)
	// Ping verifies connectivity to the backing store. Callers use this
	// at startup so an unreachable Queue is a fatal configuration error
	// rather than a failure discovered on the first Push/PopBatch.
	Ping(ctx context.Context) error
	Close() error
}

// Config configures retry/backoff and list naming.
type Config struct {
	ListName    string
	DLQName     string
	PushRetries int
	PushBackoffMin time.Duration
	PushBackoffMax time.Duration
}

func (c *Config) setDefaults() {
	if c.ListName == "" {
		c.ListName = "wiremock_mappings"
	}
	if c.DLQName == "" {
		c.DLQName = "wiremock_mappings_dlq"
	}
	if c.PushRetries <= 0 {
		c.PushRetries = 5
	}
	if c.PushBackoffMin <= 0 {
		c.PushBackoffMin = 50 * time.Millisecond
	}
	if c.PushBackoffMax <= 0 {
		c.PushBackoffMax = 5 * time.Second
	}
}

// Queue is the FIFO hand-off between Collector and Rule Loader.
type Queue struct {
	backend Backend
	cfg     Config
}

// New wraps backend with the push/pop_batch/dead_letter contract.
func New(backend Backend, cfg Config) *Queue {
	cfg.setDefaults()
	return &Queue{backend: backend, cfg: cfg}
}

// Push enqueues descriptor, retrying with exponential backoff (50ms
// up to a 5s cap, 5 attempts). Returns an error only after the retry
// budget is exhausted.
func (q *Queue) Push(ctx context.Context, d capture.Descriptor) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("queue: encode descriptor: %w", err)
	}

	backoff := q.cfg.PushBackoffMin
	var lastErr error
	for attempt := 0; attempt < q.cfg.PushRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > q.cfg.PushBackoffMax {
				backoff = q.cfg.PushBackoffMax
			}
		}
		if err := q.backend.RPush(ctx, q.cfg.ListName, payload); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("queue: push exhausted %d attempts: %w", q.cfg.PushRetries, lastErr)
}

// PopBatch blocks until at least one descriptor is available or timeout
// elapses, then drains up to maxN without blocking further.
func (q *Queue) PopBatch(ctx context.Context, maxN int, timeout time.Duration) ([]capture.Descriptor, error) {
	first, err := q.backend.BLPop(ctx, q.cfg.ListName, timeout)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nil, nil // timed out, nothing available
	}
	out := make([]capture.Descriptor, 0, maxN)
	d, err := decode(first)
	if err != nil {
		return nil, err
	}
	out = append(out, d)

	for len(out) < maxN {
		next, err := q.backend.LPop(ctx, q.cfg.ListName)
		if err != nil || next == nil {
			break
		}
		d, err := decode(next)
		if err != nil {
			break
		}
		out = append(out, d)
	}
	return out, nil
}

// DeadLetter appends descriptor to the dead-letter list with the given
// reason.
func (q *Queue) DeadLetter(ctx context.Context, d capture.Descriptor, reason, lastError string, attempts int) error {
	dl := DeadLetter{
		Descriptor: d,
		Reason:     reason,
		LastError:  lastError,
		Attempts:   attempts,
		FirstSeen:  d.Metadata.ObservedAt,
		LastSeen:   d.Metadata.ObservedAt,
	}
	payload, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("queue: encode dead letter: %w", err)
	}
	return q.backend.RPush(ctx, q.cfg.DLQName, payload)
}

func decode(payload []byte) (capture.Descriptor, error) {
	var d capture.Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return capture.Descriptor{}, fmt.Errorf("queue: decode descriptor: %w", err)
	}
	return d, nil
}

// Close releases the backing store's connections.
func (q *Queue) Close() error { return q.backend.Close() }
