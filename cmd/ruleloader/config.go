package main

import (
	"github.com/meshtap/meshtap/internal/ruleloader"
	flag "github.com/spf13/pflag"
)

func parseOptions(opts *ruleloader.Options) error {
	flag.StringVar(&opts.HTTPListenAddr, "http-listen-addr", "", "health/ready/metrics listen address")
	flag.StringVar(&opts.QueueEndpoint, "queue-endpoint", "", "Redis host:port backing the Queue")
	flag.StringVar(&opts.QueuePassword, "queue-password", "", "Redis auth password")
	flag.StringVar(&opts.QueueListName, "queue-list-name", "", "Queue FIFO list name")
	flag.StringVar(&opts.QueueDLQName, "queue-dlq-name", "", "Queue dead-letter list name")
	flag.StringVar(&opts.MockServerURL, "mock-server-url", "", "mock server admin API base URL")
	flag.DurationVar(&opts.MockServerTimeout, "mock-server-timeout", 0, "mock server install call timeout")
	flag.IntVar(&opts.Workers, "workers", 0, "consumer worker pool size")
	flag.IntVar(&opts.BatchSize, "batch-size", 0, "pop_batch size")
	flag.DurationVar(&opts.PopTimeout, "pop-timeout", 0, "pop_batch timeout")
	flag.IntVar(&opts.RetryAttempts, "retry-attempts", 0, "install retry attempts before dead-lettering")
	flag.StringVar(&opts.BackupSinkPath, "backup-sink-path", "", "optional append-only backup sink path")
	flag.Parse()

	return opts.Parse()
}
