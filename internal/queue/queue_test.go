package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meshtap/meshtap/internal/capture"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory stand-in for Redis: a real local
// collaborator, not a mock object, so the Queue's actual retry/backoff
// code path is exercised end to end.
type fakeBackend struct {
	mu    sync.Mutex
	lists map[string][][]byte
	fail  int // number of subsequent RPush calls to fail
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{lists: make(map[string][][]byte)}
}

func (f *fakeBackend) RPush(ctx context.Context, list string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return context.DeadlineExceeded
	}
	f.lists[list] = append(f.lists[list], value)
	return nil
}

func (f *fakeBackend) BLPop(ctx context.Context, list string, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lists[list]) == 0 {
		return nil, nil
	}
	v := f.lists[list][0]
	f.lists[list] = f.lists[list][1:]
	return v, nil
}

func (f *fakeBackend) LPop(ctx context.Context, list string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lists[list]) == 0 {
		return nil, nil
	}
	v := f.lists[list][0]
	f.lists[list] = f.lists[list][1:]
	return v, nil
}

func (f *fakeBackend) Ping(ctx context.Context) error { return nil }

func (f *fakeBackend) Close() error { return nil }

func testDescriptor() capture.Descriptor {
	return capture.Descriptor{
		Fingerprint: "abc123",
		Match:       capture.Match{Method: "GET", Path: "/x"},
	}
}

func TestPush_SucceedsOnFirstTry(t *testing.T) {
	b := newFakeBackend()
	q := New(b, Config{PushBackoffMin: time.Millisecond, PushBackoffMax: 2 * time.Millisecond})
	require.NoError(t, q.Push(context.Background(), testDescriptor()))
	require.Len(t, b.lists["wiremock_mappings"], 1)
}

func TestPush_RetriesThenSucceeds(t *testing.T) {
	b := newFakeBackend()
	b.fail = 2
	q := New(b, Config{PushRetries: 5, PushBackoffMin: time.Millisecond, PushBackoffMax: 2 * time.Millisecond})
	require.NoError(t, q.Push(context.Background(), testDescriptor()))
}

func TestPush_ExhaustsRetriesAndReturnsError(t *testing.T) {
	b := newFakeBackend()
	b.fail = 99
	q := New(b, Config{PushRetries: 3, PushBackoffMin: time.Millisecond, PushBackoffMax: 2 * time.Millisecond})
	err := q.Push(context.Background(), testDescriptor())
	require.Error(t, err)
}

func TestPopBatch_DrainsUpToMaxN(t *testing.T) {
	b := newFakeBackend()
	q := New(b, Config{})
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(context.Background(), testDescriptor()))
	}
	batch, err := q.PopBatch(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 5)
}

func TestDeadLetter_AppendsToDLQList(t *testing.T) {
	b := newFakeBackend()
	q := New(b, Config{})
	require.NoError(t, q.DeadLetter(context.Background(), testDescriptor(), "permanent", "400 bad request", 1))
	require.Len(t, b.lists["wiremock_mappings_dlq"], 1)
}
