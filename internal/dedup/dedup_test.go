package dedup

import (
	"testing"

	"github.com/meshtap/meshtap/internal/capture"
	"github.com/stretchr/testify/require"
)

func rec(method, path string, query map[string][]string, body string) capture.SanitizedRecord {
	return capture.SanitizedRecord{
		Record: capture.Record{
			Request: capture.Request{Method: method, Path: path, Query: query, Body: []byte(body)},
		},
	}
}

// Property 4: dedup admits exactly once per fingerprint within residency.
func TestObserve_ExactlyOnceFreshPerFingerprint(t *testing.T) {
	d, err := New(Config{CacheSize: 10})
	require.NoError(t, err)

	fp := Fingerprint(rec("POST", "/pay", nil, `{"amount":10}`), 1024)

	require.Equal(t, Fresh, d.Observe(fp))
	for i := 0; i < 4; i++ {
		require.Equal(t, Duplicate, d.Observe(fp))
	}
}

// Property 5: cache never exceeds cache_size.
func TestObserve_CacheBound(t *testing.T) {
	d, err := New(Config{CacheSize: 3})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		fp := Fingerprint(rec("GET", "/x", map[string][]string{"n": {string(rune('a' + i))}}, ""), 1024)
		d.Observe(fp)
		require.LessOrEqual(t, d.Len(), 3)
	}
	require.Equal(t, 3, d.Len())
}

// Property 2: fingerprint is invariant to query-param reordering (scenario d).
func TestFingerprint_QueryOrderIndependent(t *testing.T) {
	a := rec("GET", "/search", map[string][]string{"b": {"2"}, "a": {"1"}}, "")
	b := rec("GET", "/search", map[string][]string{"a": {"1"}, "b": {"2"}}, "")
	require.Equal(t, Fingerprint(a, 1024), Fingerprint(b, 1024))
}

// Property 2: fingerprint is invariant to JSON object key reordering.
func TestFingerprint_JSONKeyOrderIndependent(t *testing.T) {
	a := rec("POST", "/pay", nil, `{"amount":10,"card":"SANITIZED_CARD"}`)
	b := rec("POST", "/pay", nil, `{"card":"SANITIZED_CARD","amount":10}`)
	require.Equal(t, Fingerprint(a, 1024), Fingerprint(b, 1024))
}

// Property 3: response side never participates in the fingerprint.
func TestFingerprint_ResponseIndependent(t *testing.T) {
	a := rec("GET", "/x", nil, "")
	a.Response = capture.Response{Status: 200, Body: []byte("one")}
	b := rec("GET", "/x", nil, "")
	b.Response = capture.Response{Status: 500, Body: []byte("two")}
	require.Equal(t, Fingerprint(a, 1024), Fingerprint(b, 1024))
}

func TestNew_RejectsNonPositiveCacheSize(t *testing.T) {
	_, err := New(Config{CacheSize: -1})
	require.Error(t, err)
}
