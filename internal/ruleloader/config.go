package ruleloader

import (
	"fmt"
	"os"
	"time"
)

// Options is the Rule Loader's configuration surface, flat
// per the same Open Question resolution as internal/collector.Options.
type Options struct {
	HTTPListenAddr   string
	QueueEndpoint    string
	QueuePassword    string
	QueueListName    string
	QueueDLQName     string
	MockServerURL    string
	MockServerTimeout time.Duration
	Workers          int
	BatchSize        int
	PopTimeout       time.Duration
	RetryAttempts    int
	InstallBackoffMin time.Duration
	InstallBackoffMax time.Duration
	BackupSinkPath   string
}

// Parse fills defaults from environment variables where the struct
// field is unset, then validates.
func (o *Options) Parse() error {
	if o.HTTPListenAddr == "" {
		o.HTTPListenAddr = envOr("MESHTAP_RULELOADER_HTTP_LISTEN_ADDR", ":9092")
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
	if o.MockServerURL == "" {
		o.MockServerURL = envOr("MESHTAP_MOCK_SERVER_URL", "")
	}
	if o.MockServerTimeout <= 0 {
		o.MockServerTimeout = 30 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 3
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = 2 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.InstallBackoffMin <= 0 {
		o.InstallBackoffMin = 100 * time.Millisecond
	}
	if o.InstallBackoffMax <= 0 {
		o.InstallBackoffMax = 10 * time.Second
	}

	if o.QueueEndpoint == "" {
		return fmt.Errorf("meshtap: ruleloader: QueueEndpoint is required")
	}
	if o.MockServerURL == "" {
		return fmt.Errorf("meshtap: ruleloader: MockServerURL is required")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
