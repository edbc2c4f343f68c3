package main

import (
	"github.com/meshtap/meshtap/internal/collector"
	flag "github.com/spf13/pflag"
)

// parseOptions layers CLI flags over collector.Options' own env-var
// defaulting: unset flags leave zero values in place, so Options.Parse
// still applies its env-var and default fallbacks afterward.
func parseOptions(opts *collector.Options) error {
	flag.StringVar(&opts.GRPCListenAddr, "grpc-listen-addr", "", "gRPC ingest listen address")
	flag.StringVar(&opts.HTTPListenAddr, "http-listen-addr", "", "health/ready/metrics listen address")
	flag.IntVar(&opts.MaxBodyBytes, "max-body-bytes", 0, "max captured body size before truncation")
	flag.IntVar(&opts.StagingChannelDepth, "staging-channel-depth", 0, "in-process staging channel depth")
	flag.IntVar(&opts.EnqueueWorkers, "enqueue-workers", 0, "enqueue worker fleet size")
	flag.DurationVar(&opts.EnqueueTimeout, "enqueue-timeout", 0, "backpressure deadline before dropping a record")
	flag.IntVar(&opts.DedupCacheSize, "dedup-cache-size", 0, "deduplicator cache size")
	flag.IntVar(&opts.DedupBodyLimit, "dedup-body-limit", 0, "fingerprint body truncation limit")
	flag.StringVar(&opts.QueueEndpoint, "queue-endpoint", "", "Redis host:port backing the Queue")
	flag.StringVar(&opts.QueuePassword, "queue-password", "", "Redis auth password")
	flag.StringVar(&opts.QueueListName, "queue-list-name", "", "Queue FIFO list name")
	flag.StringVar(&opts.QueueDLQName, "queue-dlq-name", "", "Queue dead-letter list name")
	flag.Parse()

	return opts.Parse()
}
