package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshtap/meshtap/internal/capture"
	"github.com/meshtap/meshtap/internal/clock"
	"github.com/meshtap/meshtap/internal/dedup"
	"github.com/meshtap/meshtap/internal/metrics"
	"github.com/meshtap/meshtap/internal/queue"
	"github.com/meshtap/meshtap/internal/sanitize"
)

// ingestDeadline bounds a single captured record's trip through the
// pipeline, per the 10s ingest-RPC-per-message deadline.
const ingestDeadline = 10 * time.Second

// Ack is the {accepted, duplicate, dropped_reason} result returned to
// the stream for each record.
type Ack struct {
	Accepted      bool
	Duplicate     bool
	DroppedReason string
}

// stagingItem is what rides the staging channel between ingest handlers
// and the enqueue-worker fleet.
type stagingItem struct {
	descriptor capture.Descriptor
}

// Pipeline runs the per-record validate -> sanitize -> dedup -> enqueue
// algorithm. One instance is constructed per Collector process and owns
// the Deduplicator directly, since deduplication state must be shared
// across every concurrent stream.
type Pipeline struct {
	opts    Options
	san     *sanitize.Sanitizer
	dedup   *dedup.Deduplicator
	q       *queue.Queue
	metrics *metrics.Collector
	onError func(error)

	staging chan stagingItem
	closing chan struct{}
	done    chan struct{}
}

// NewPipeline wires a Pipeline's collaborators. onError is called when
// the Sanitizer reports a leak (the record is also acked as dropped) and
// when a staged descriptor's Queue push fails.
func NewPipeline(opts Options, san *sanitize.Sanitizer, ddup *dedup.Deduplicator, q *queue.Queue, m *metrics.Collector, onError func(error)) *Pipeline {
	if onError == nil {
		onError = func(error) {}
	}
	p := &Pipeline{
		opts:    opts,
		san:     san,
		dedup:   ddup,
		q:       q,
		metrics: m,
		onError: onError,
		staging: make(chan stagingItem, opts.StagingChannelDepth),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := 0; i < opts.EnqueueWorkers; i++ {
		go p.enqueueWorker()
	}
	go p.sampleQueueDepth()
	return p
}

// Process runs one CaptureRecord through validate -> sanitize -> dedup
// -> enqueue, bounded by ingestDeadline regardless of the caller's ctx.
func (p *Pipeline) Process(ctx context.Context, rec capture.Record) Ack {
	ctx, cancel := context.WithTimeout(ctx, ingestDeadline)
	defer cancel()

	start := clock.Now()
	defer func() {
		p.metrics.RequestDuration.Observe(time.Since(start).Seconds())
	}()

	if err := validate(rec, p.opts.MaxBodyBytes); err != nil {
		p.metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		return Ack{Accepted: false, DroppedReason: "validation"}
	}
	rec = truncateBodies(rec, p.opts.MaxBodyBytes)
	if rec.Request.Truncated {
		p.metrics.BodyTruncationsTotal.WithLabelValues("request").Inc()
	}
	if rec.Response.Truncated {
		p.metrics.BodyTruncationsTotal.WithLabelValues("response").Inc()
	}

	sanitized, err := p.san.Sanitize(rec)
	if err != nil {
		p.metrics.RequestsTotal.WithLabelValues("leak").Inc()
		p.onError(fmt.Errorf("collector: sanitize: %w", err))
		return Ack{Accepted: false, DroppedReason: "leak"}
	}
	for pattern, n := range sanitized.SanitizationReport {
		p.metrics.SanitizationOps.WithLabelValues(pattern).Add(float64(n))
	}

	fp := dedup.Fingerprint(sanitized, p.opts.DedupBodyLimit)
	if p.dedup.Observe(fp) == dedup.Duplicate {
		p.metrics.DeduplicationOps.WithLabelValues("duplicate").Inc()
		p.metrics.RequestsTotal.WithLabelValues("duplicate").Inc()
		return Ack{Accepted: false, Duplicate: true}
	}
	p.metrics.DeduplicationOps.WithLabelValues("fresh").Inc()

	descriptor := toDescriptor(fp, sanitized)

	select {
	case p.staging <- stagingItem{descriptor: descriptor}:
		p.metrics.RequestsTotal.WithLabelValues("accepted").Inc()
		return Ack{Accepted: true}
	case <-time.After(p.opts.EnqueueTimeout):
		p.metrics.RequestsTotal.WithLabelValues("backpressure").Inc()
		return Ack{Accepted: false, DroppedReason: "backpressure"}
	case <-ctx.Done():
		return Ack{Accepted: false, DroppedReason: "backpressure"}
	}
}

// Close stops the enqueue-worker fleet after draining staging, with a
// bounded deadline.
func (p *Pipeline) Close(deadline time.Duration) {
	close(p.closing)
	select {
	case <-p.done:
	case <-time.After(deadline):
	}
}

func (p *Pipeline) enqueueWorker() {
	for {
		select {
		case item := <-p.staging:
			p.push(item)
		case <-p.closing:
			// Drain whatever remains without blocking past the caller's deadline.
			for {
				select {
				case item := <-p.staging:
					p.push(item)
				default:
					select {
					case p.done <- struct{}{}:
					default:
					}
					return
				}
			}
		}
	}
}

func (p *Pipeline) push(item stagingItem) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.q.Push(ctx, item.descriptor); err != nil {
		p.metrics.SetQueueDegraded(true)
		p.onError(fmt.Errorf("collector: queue push: %w", err))
		return
	}
	p.metrics.SetQueueDegraded(false)
}

// sampleQueueDepth periodically publishes the staging channel's current
// depth on a select-on-ticker loop.
func (p *Pipeline) sampleQueueDepth() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.metrics.QueueDepth.Set(float64(len(p.staging)))
		case <-p.closing:
			return
		}
	}
}

// truncateBodies enforces the body-size cap at ingress, cutting either
// side down to exactly maxBody bytes and flagging it as truncated. A
// body exactly at maxBody is left untouched.
func truncateBodies(rec capture.Record, maxBody int) capture.Record {
	if len(rec.Request.Body) > maxBody {
		rec.Request.Body = rec.Request.Body[:maxBody]
		rec.Request.Truncated = true
	}
	if len(rec.Response.Body) > maxBody {
		rec.Response.Body = rec.Response.Body[:maxBody]
		rec.Response.Truncated = true
	}
	return rec
}

func validate(rec capture.Record, maxBody int) error {
	if rec.Request.Method == "" || rec.Request.Path == "" {
		return fmt.Errorf("collector: malformed record: method and path are required")
	}
	if rec.Response.Status < 100 || rec.Response.Status > 599 {
		return fmt.Errorf("collector: malformed record: response status %d out of range", rec.Response.Status)
	}
	return nil
}

func toDescriptor(fp capture.Fingerprint, s capture.SanitizedRecord) capture.Descriptor {
	predicate := bodyPredicate(s.Request.Body, s.Request.Truncated)
	return capture.Descriptor{
		Fingerprint: fp.String(),
		Match: capture.Match{
			Method:        s.Request.Method,
			Path:          s.Request.Path,
			Query:         s.Request.Query,
			BodyPredicate: predicate,
		},
		Response: capture.DescriptorResponse{
			Status:  s.Response.Status,
			Headers: s.Response.Headers,
			Body:    s.Response.Body,
		},
		Metadata: capture.Metadata{
			ObservedAt:         s.ObservedAt,
			SourceLabels:       s.SourceLabels,
			SanitizationReport: s.SanitizationReport,
		},
	}
}

func bodyPredicate(body []byte, truncated bool) capture.BodyPredicate {
	if truncated || len(body) == 0 {
		return capture.BodyPredicate{Kind: capture.BodyPredicateAny}
	}
	if json.Valid(body) {
		return capture.BodyPredicate{Kind: capture.BodyPredicateEqualToJSON, Value: string(body)}
	}
	return capture.BodyPredicate{Kind: capture.BodyPredicateEqualTo, Value: string(body)}
}
