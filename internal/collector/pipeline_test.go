package collector

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/meshtap/meshtap/internal/capture"
	"github.com/meshtap/meshtap/internal/dedup"
	"github.com/meshtap/meshtap/internal/metrics"
	"github.com/meshtap/meshtap/internal/queue"
	"github.com/meshtap/meshtap/internal/sanitize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	lists map[string][][]byte
}

func newMemBackend() *memBackend { return &memBackend{lists: make(map[string][][]byte)} }

func (m *memBackend) RPush(ctx context.Context, list string, value []byte) error {
	m.lists[list] = append(m.lists[list], value)
	return nil
}
func (m *memBackend) BLPop(ctx context.Context, list string, timeout time.Duration) ([]byte, error) {
	if len(m.lists[list]) == 0 {
		return nil, nil
	}
	v := m.lists[list][0]
	m.lists[list] = m.lists[list][1:]
	return v, nil
}
func (m *memBackend) LPop(ctx context.Context, list string) ([]byte, error) {
	if len(m.lists[list]) == 0 {
		return nil, nil
	}
	v := m.lists[list][0]
	m.lists[list] = m.lists[list][1:]
	return v, nil
}

func (m *memBackend) Ping(ctx context.Context) error { return nil }

func (m *memBackend) Close() error { return nil }

func newTestPipeline(t *testing.T) (*Pipeline, *memBackend) {
	san, err := sanitize.New(sanitize.Config{
		Patterns:       sanitize.DefaultPatterns(),
		HeaderDenylist: sanitize.DefaultHeaderDenylist(),
		FieldDenylist:  sanitize.DefaultFieldDenylist(),
	})
	require.NoError(t, err)
	d, err := dedup.New(dedup.Config{CacheSize: 100})
	require.NoError(t, err)
	backend := newMemBackend()
	q := queue.New(backend, queue.Config{PushBackoffMin: time.Millisecond, PushBackoffMax: 2 * time.Millisecond})
	m := metrics.NewCollector(prometheus.NewRegistry(), nil)

	opts := Options{MaxBodyBytes: 8 * 1024, StagingChannelDepth: 16, EnqueueWorkers: 2, EnqueueTimeout: time.Second, DedupBodyLimit: 1024}
	return NewPipeline(opts, san, d, q, m, nil), backend
}

func validRecord() capture.Record {
	return capture.Record{
		Request:  capture.Request{Method: "GET", Path: "/v1/x"},
		Response: capture.Response{Status: 200},
	}
}

func TestPipeline_AcceptsFreshRecord(t *testing.T) {
	p, backend := newTestPipeline(t)
	ack := p.Process(context.Background(), validRecord())
	require.True(t, ack.Accepted)
	require.False(t, ack.Duplicate)

	require.Eventually(t, func() bool {
		return len(backend.lists["wiremock_mappings"]) == 1
	}, time.Second, time.Millisecond)
}

func TestPipeline_SecondIdenticalRecordIsDuplicate(t *testing.T) {
	p, backend := newTestPipeline(t)
	first := p.Process(context.Background(), validRecord())
	require.True(t, first.Accepted)

	second := p.Process(context.Background(), validRecord())
	require.False(t, second.Accepted)
	require.True(t, second.Duplicate)

	require.Eventually(t, func() bool {
		return len(backend.lists["wiremock_mappings"]) == 1
	}, time.Second, time.Millisecond)
}

func TestPipeline_RejectsMalformedRecord(t *testing.T) {
	p, _ := newTestPipeline(t)
	ack := p.Process(context.Background(), capture.Record{})
	require.False(t, ack.Accepted)
	require.Equal(t, "validation", ack.DroppedReason)
}

func TestBodyPredicate_ValidJSONObjectIsEqualToJSON(t *testing.T) {
	p := bodyPredicate([]byte(`{"amount":10}`), false)
	require.Equal(t, capture.BodyPredicateEqualToJSON, p.Kind)
}

func TestBodyPredicate_BracePrefixedButInvalidJSONIsEqualTo(t *testing.T) {
	p := bodyPredicate([]byte(`{not valid json`), false)
	require.Equal(t, capture.BodyPredicateEqualTo, p.Kind)
	require.Equal(t, `{not valid json`, p.Value)
}

func TestBodyPredicate_TruncatedBodyIsAny(t *testing.T) {
	p := bodyPredicate([]byte(`{"amount":10}`), true)
	require.Equal(t, capture.BodyPredicateAny, p.Kind)
}

func TestTruncateBodies_BodyExactlyAtLimitIsNotTruncated(t *testing.T) {
	const maxBody = 16
	rec := capture.Record{
		Request:  capture.Request{Body: bytes.Repeat([]byte("a"), maxBody)},
		Response: capture.Response{Body: bytes.Repeat([]byte("b"), maxBody)},
	}

	out := truncateBodies(rec, maxBody)

	require.False(t, out.Request.Truncated)
	require.Len(t, out.Request.Body, maxBody)
	require.False(t, out.Response.Truncated)
	require.Len(t, out.Response.Body, maxBody)
}

func TestTruncateBodies_BodyOneByteOverLimitIsTruncatedAndFlagged(t *testing.T) {
	const maxBody = 16
	rec := capture.Record{
		Request:  capture.Request{Body: bytes.Repeat([]byte("a"), maxBody+1)},
		Response: capture.Response{Body: bytes.Repeat([]byte("b"), maxBody+1)},
	}

	out := truncateBodies(rec, maxBody)

	require.True(t, out.Request.Truncated)
	require.Len(t, out.Request.Body, maxBody)
	require.True(t, out.Response.Truncated)
	require.Len(t, out.Response.Body, maxBody)
}

func TestPipeline_OversizedRequestBodyIsTruncatedAndStillAccepted(t *testing.T) {
	p, _ := newTestPipeline(t)
	rec := validRecord()
	rec.Request.Body = bytes.Repeat([]byte("x"), 8*1024+1)

	ack := p.Process(context.Background(), rec)

	require.True(t, ack.Accepted)
}
