// Package dedup implements a bounded, thread-safe, content-addressed
// cache that answers "have we already admitted a capture with this
// fingerprint?" Eviction is strict least-recently-OBSERVED, not
// least-recently-accessed — a duplicate observation updates the entry's
// timestamp but does NOT move it to the front of an access-order list
// the way a conventional LRU would, so that replayed duplicates do not
// prolong a fingerprint's residency. We therefore use insertion order
// for eviction, and only a map lookup (not a list move) on a repeat
// observation.
package dedup

import (
	"container/list"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meshtap/meshtap/internal/capture"
	"github.com/meshtap/meshtap/internal/clock"
)

// Result is the outcome of an Observe call.
type Result int

const (
	Fresh Result = iota
	Duplicate
)

const defaultCacheSize = 10_000
const defaultBodyLimit = 1024

// Config configures the Deduplicator's cache size and body-hash limit.
type Config struct {
	CacheSize int
	BodyLimit int
}

type entry struct {
	fingerprint capture.Fingerprint
	lastSeen    time.Time
}

// Deduplicator is safe for concurrent use by many observers, guarded
// by a single mutex.
type Deduplicator struct {
	mu        sync.Mutex
	cacheSize int
	bodyLimit int
	order     *list.List // ordered by insertion; front = oldest
	index     map[capture.Fingerprint]*list.Element
}

// New constructs an owned Deduplicator instance — not a process-wide
// singleton.
func New(cfg Config) (*Deduplicator, error) {
	size := cfg.CacheSize
	if size == 0 {
		size = defaultCacheSize
	}
	if size <= 0 {
		return nil, fmt.Errorf("dedup: cache_size must be > 0")
	}
	limit := cfg.BodyLimit
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	return &Deduplicator{
		cacheSize: size,
		bodyLimit: limit,
		order:     list.New(),
		index:     make(map[capture.Fingerprint]*list.Element),
	}, nil
}

// Observe records the fingerprint and returns Fresh the first time it is
// seen, Duplicate on every subsequent observation, until it is evicted.
func (d *Deduplicator) Observe(fp capture.Fingerprint) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[fp]; ok {
		el.Value.(*entry).lastSeen = clock.Now()
		return Duplicate
	}

	el := d.order.PushBack(&entry{fingerprint: fp, lastSeen: clock.Now()})
	d.index[fp] = el

	if d.order.Len() > d.cacheSize {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(*entry).fingerprint)
	}
	return Fresh
}

// Len reports the current number of resident fingerprints (for tests
// and the collector_queue_depth-adjacent introspection).
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// Fingerprint computes the canonical SHA-256 fingerprint of a
// SanitizedRecord's request side. The response side never
// participates.
func Fingerprint(rec capture.SanitizedRecord, bodyLimit int) capture.Fingerprint {
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyLimit
	}
	method := strings.ToUpper(rec.Request.Method)
	path := rec.Request.Path
	query := canonicalQuery(rec.Request.Query)
	body := canonicalBody(rec.Request.Body, bodyLimit)

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte("\n"))
	h.Write([]byte(path))
	h.Write([]byte("\n"))
	h.Write([]byte(query))
	h.Write([]byte("\n"))
	h.Write(body)

	var out capture.Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// canonicalQuery sorts entries by key then value and serializes as
// "k=v&k=v" with percent-encoding of reserved bytes,
// grounded on original_source/collector/deduplicator.py's
// generate_request_hash (parse_qs -> sort -> urlencode).
func canonicalQuery(q map[string][]string) string {
	type kv struct{ k, v string }
	var pairs []kv
	for k, values := range q {
		for _, v := range values {
			pairs = append(pairs, kv{k, v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.v))
	}
	return b.String()
}

// canonicalBody re-serializes JSON with sorted keys and no insignificant
// whitespace when the body parses as JSON; otherwise truncates the raw
// bytes to bodyLimit.
func canonicalBody(body []byte, bodyLimit int) []byte {
	if len(body) == 0 {
		return nil
	}
	var tree any
	if err := json.Unmarshal(body, &tree); err == nil {
		canon, err := marshalSorted(tree)
		if err == nil {
			return canon
		}
	}
	if len(body) > bodyLimit {
		return body[:bodyLimit]
	}
	return body
}

// marshalSorted re-serializes a decoded JSON tree with object keys sorted;
// encoding/json already sorts map[string]any keys on Marshal, so this is
// a thin, explicit wrapper documenting that invariant rather than
// reimplementing it.
func marshalSorted(tree any) ([]byte, error) {
	return json.Marshal(tree)
}
