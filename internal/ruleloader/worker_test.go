package ruleloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meshtap/meshtap/internal/capture"
	"github.com/meshtap/meshtap/internal/metrics"
	"github.com/meshtap/meshtap/internal/queue"
	"github.com/meshtap/meshtap/internal/ruleloader/mockserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// memBackend is an in-process stand-in for Redis: a real local
// collaborator rather than a mock object.
type memBackend struct {
	mu    sync.Mutex
	lists map[string][][]byte
}

func newMemBackend() *memBackend { return &memBackend{lists: make(map[string][][]byte)} }

func (m *memBackend) RPush(ctx context.Context, list string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[list] = append(m.lists[list], value)
	return nil
}
func (m *memBackend) BLPop(ctx context.Context, list string, timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.lists[list]) == 0 {
		return nil, nil
	}
	v := m.lists[list][0]
	m.lists[list] = m.lists[list][1:]
	return v, nil
}
func (m *memBackend) LPop(ctx context.Context, list string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.lists[list]) == 0 {
		return nil, nil
	}
	v := m.lists[list][0]
	m.lists[list] = m.lists[list][1:]
	return v, nil
}

func (m *memBackend) Ping(ctx context.Context) error { return nil }

func (m *memBackend) Close() error { return nil }

func descriptor(fp string) capture.Descriptor {
	return capture.Descriptor{
		Fingerprint: fp,
		Match:       capture.Match{Method: "GET", Path: "/x", BodyPredicate: capture.BodyPredicate{Kind: capture.BodyPredicateAny}},
		Response:    capture.DescriptorResponse{Status: 200},
	}
}

// Scenario (e): install retry then success.
func TestInstall_RetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	backend := newMemBackend()
	q := queue.New(backend, queue.Config{})
	client := mockserver.New(srv.URL, 2*time.Second)
	m := metrics.NewRuleLoader(prometheus.NewRegistry(), nil)
	l := NewLoader(Options{RetryAttempts: 3, InstallBackoffMin: time.Millisecond, InstallBackoffMax: 2 * time.Millisecond}, q, client, nil, m, nil)

	l.install(descriptor("fp1"))

	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Empty(t, backend.lists["wiremock_mappings_dlq"])
}

// Scenario (f): install permanent failure -> dead-lettered, no retry.
func TestInstall_PermanentFailureDeadLettersImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	backend := newMemBackend()
	q := queue.New(backend, queue.Config{})
	client := mockserver.New(srv.URL, 2*time.Second)
	m := metrics.NewRuleLoader(prometheus.NewRegistry(), nil)
	l := NewLoader(Options{RetryAttempts: 3, InstallBackoffMin: time.Millisecond, InstallBackoffMax: 2 * time.Millisecond}, q, client, nil, m, nil)

	l.install(descriptor("fp2"))

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Len(t, backend.lists["wiremock_mappings_dlq"], 1)
}

func TestInstall_ConflictOnFallbackCreateIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
		}
	}))
	defer srv.Close()

	backend := newMemBackend()
	q := queue.New(backend, queue.Config{})
	client := mockserver.New(srv.URL, 2*time.Second)
	m := metrics.NewRuleLoader(prometheus.NewRegistry(), nil)
	l := NewLoader(Options{RetryAttempts: 3, InstallBackoffMin: time.Millisecond, InstallBackoffMax: 2 * time.Millisecond}, q, client, nil, m, nil)

	l.install(descriptor("fp3"))
	require.Empty(t, backend.lists["wiremock_mappings_dlq"])
}
