// Package collector implements the Collector: the gRPC
// ingest edge that runs every CaptureRecord through Sanitizer ->
// Deduplicator -> Queue.
package collector

import (
	"fmt"
	"os"
	"time"
)

// Options is the Collector's configuration surface, flat — not nested
// under a security.serviceAccount block (see DESIGN.md Open Questions)
// — resolved via env-var fallback, then defaulting, then validation
// with a package-prefixed error message.
type Options struct {
	GRPCListenAddr    string
	HTTPListenAddr    string
	MaxBodyBytes      int
	StagingChannelDepth int
	EnqueueWorkers    int
	EnqueueTimeout    time.Duration
	DedupCacheSize    int
	DedupBodyLimit    int
	QueueEndpoint     string
	QueuePassword     string
	QueueListName     string
	QueueDLQName      string
}

// Parse fills defaults from environment variables where the struct
// field is unset, then validates.
func (o *Options) Parse() error {
	if o.GRPCListenAddr == "" {
		o.GRPCListenAddr = envOr("MESHTAP_GRPC_LISTEN_ADDR", ":9090")
	}
	if o.HTTPListenAddr == "" {
		o.HTTPListenAddr = envOr("MESHTAP_HTTP_LISTEN_ADDR", ":9091")
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 8 * 1024
	}
	if o.StagingChannelDepth <= 0 {
		o.StagingChannelDepth = 1024
	}
	if o.EnqueueWorkers <= 0 {
		o.EnqueueWorkers = 5
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = 2 * time.Second
	}
	if o.DedupCacheSize <= 0 {
		o.DedupCacheSize = 10_000
	}
	if o.DedupBodyLimit <= 0 {
		o.DedupBodyLimit = 1024
	}
	if o.QueueEndpoint == "" {
		o.QueueEndpoint = envOr("MESHTAP_QUEUE_ENDPOINT", "")
	}
	if o.QueuePassword == "" {
		o.QueuePassword = os.Getenv("MESHTAP_QUEUE_PASSWORD")
	}
	if o.QueueListName == "" {
		o.QueueListName = "wiremock_mappings"
	}
	if o.QueueDLQName == "" {
		o.QueueDLQName = "wiremock_mappings_dlq"
	}

	if o.QueueEndpoint == "" {
		return fmt.Errorf("meshtap: collector: QueueEndpoint is required (unreachable Queue at startup is a fatal configuration error)")
	}
	if o.EnqueueTimeout < time.Millisecond {
		return fmt.Errorf("meshtap: collector: EnqueueTimeout must be at least 1ms")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
