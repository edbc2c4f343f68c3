package ruleloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meshtap/meshtap/internal/capture"
	"github.com/meshtap/meshtap/internal/clock"
	"github.com/meshtap/meshtap/internal/metrics"
	"github.com/meshtap/meshtap/internal/queue"
	"github.com/meshtap/meshtap/internal/ruleloader/mockserver"
)

// Loader runs a fixed worker pool: symmetric, uncoordinated consumer
// workers each looping pop_batch -> for each: install.
type Loader struct {
	opts    Options
	q       *queue.Queue
	client  *mockserver.Client
	backup  *BackupSink
	metrics *metrics.RuleLoader
	onError func(error)

	stop chan struct{}
	done chan struct{}
}

// NewLoader wires a Loader's collaborators. backup may be nil when no
// backup sink is configured.
func NewLoader(opts Options, q *queue.Queue, client *mockserver.Client, backup *BackupSink, m *metrics.RuleLoader, onError func(error)) *Loader {
	if onError == nil {
		onError = func(error) {}
	}
	return &Loader{
		opts:    opts,
		q:       q,
		client:  client,
		backup:  backup,
		metrics: m,
		onError: onError,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run starts opts.Workers consumer workers and blocks until Stop is called.
func (l *Loader) Run() {
	workerDone := make(chan struct{}, l.opts.Workers)
	for i := 0; i < l.opts.Workers; i++ {
		go func() {
			l.workerLoop()
			workerDone <- struct{}{}
		}()
	}
	for i := 0; i < l.opts.Workers; i++ {
		<-workerDone
	}
	close(l.done)
}

// Stop signals all workers to finish their current batch and exit.
func (l *Loader) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Loader) workerLoop() {
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.opts.PopTimeout+time.Second)
		batch, err := l.q.PopBatch(ctx, l.opts.BatchSize, l.opts.PopTimeout)
		cancel()
		if err != nil {
			l.metrics.SetQueueDegraded(true)
			l.onError(fmt.Errorf("ruleloader: pop_batch: %w", err))
			continue
		}
		l.metrics.SetQueueDegraded(false)
		for _, d := range batch {
			l.install(d)
		}
	}
}

// install runs the per-descriptor state machine:
// Pending -> Installing -> {Installed | Retrying -> Installing | DeadLettered}.
func (l *Loader) install(d capture.Descriptor) {
	rule := Translate(d)
	backoff := l.opts.InstallBackoffMin
	timeout := l.opts.MockServerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var lastErr error

	for attempt := 0; attempt <= l.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > l.opts.InstallBackoffMax {
				backoff = l.opts.InstallBackoffMax
			}
		}

		start := clock.Now()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := l.client.Upsert(ctx, rule)
		cancel()
		l.metrics.InstallDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			l.metrics.MappingsProcessed.WithLabelValues("success").Inc()
			if l.backup != nil {
				if bErr := l.backup.Append(d); bErr != nil {
					l.onError(fmt.Errorf("ruleloader: backup append: %w", bErr))
				}
			}
			return
		}

		var permanent *mockserver.ErrPermanent
		if errors.As(err, &permanent) {
			l.metrics.Errors.WithLabelValues("permanent").Inc()
			l.metrics.MappingsProcessed.WithLabelValues("dead_lettered").Inc()
			l.deadLetter(d, "permanent", err, attempt+1)
			return
		}

		lastErr = err
		l.metrics.Errors.WithLabelValues("transient").Inc()
	}

	l.metrics.MappingsProcessed.WithLabelValues("dead_lettered").Inc()
	l.deadLetter(d, "retries_exhausted", lastErr, l.opts.RetryAttempts+1)
}

func (l *Loader) deadLetter(d capture.Descriptor, reason string, cause error, attempts int) {
	errStr := ""
	if cause != nil {
		errStr = cause.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.q.DeadLetter(ctx, d, reason, errStr, attempts); err != nil {
		l.onError(fmt.Errorf("ruleloader: dead_letter: %w", err))
	}
}
