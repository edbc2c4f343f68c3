// Package sanitize implements the Sanitizer: a pure,
// deterministic, total function from a capture.Record to a
// capture.SanitizedRecord, fail-closed on a post-substitution re-scan.
//
// The JSON body walk dispatches per node kind and recurses into
// containers, over the `any` values encoding/json produces rather than
// reflect.Value over typed Go structs, since here the body is untyped
// JSON, not a Go struct.
package sanitize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meshtap/meshtap/internal/capture"
)

// ErrLeakDetected is returned when the post-substitution re-scan still
// finds a pattern match; the caller must drop the record.
var ErrLeakDetected = fmt.Errorf("sanitize: leak detected on re-scan")

// Sanitizer holds an immutable, validated Config.
type Sanitizer struct {
	cfg Config
}

// New validates cfg and returns a Sanitizer, or a fatal configuration error
// if a marker literal overlaps one of the patterns or denylists it is meant to stand in for.
func New(cfg Config) (*Sanitizer, error) {
	if len(cfg.Patterns) == 0 {
		return nil, fmt.Errorf("sanitize: pattern catalog must not be empty")
	}
	for _, p := range cfg.Patterns {
		for _, q := range cfg.Patterns {
			if q.Regex.MatchString(p.Marker) {
				return nil, fmt.Errorf("sanitize: marker %q for pattern %q matches pattern %q; markers must not match any pattern", p.Marker, p.Name, q.Name)
			}
		}
	}
	for _, marker := range cfg.HeaderDenylist {
		for _, p := range cfg.Patterns {
			if p.Regex.MatchString(marker) {
				return nil, fmt.Errorf("sanitize: header marker %q matches pattern %q; markers must not match any pattern", marker, p.Name)
			}
		}
	}
	for _, marker := range cfg.FieldDenylist {
		for _, p := range cfg.Patterns {
			if p.Regex.MatchString(marker) {
				return nil, fmt.Errorf("sanitize: field marker %q matches pattern %q; markers must not match any pattern", marker, p.Name)
			}
		}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 * 1024
	}
	return &Sanitizer{cfg: cfg}, nil
}

// Sanitize runs the full sanitization algorithm. It never returns a
// transport-level error; ErrLeakDetected is the only failure mode and
// signals the caller to drop the record, per the fail-closed design.
func (s *Sanitizer) Sanitize(rec capture.Record) (capture.SanitizedRecord, error) {
	report := make(capture.Report)

	reqHeaders := s.walkHeaders(rec.Request.Headers, report)
	respHeaders := s.walkHeaders(rec.Response.Headers, report)
	reqQuery := s.walkQuery(rec.Request.Query, report)

	reqBody := s.walkBody(rec.Request.Body, report)
	respBody := s.walkBody(rec.Response.Body, report)

	out := capture.SanitizedRecord{
		Record: capture.Record{
			Direction: rec.Direction,
			Request: capture.Request{
				Method:    rec.Request.Method,
				Path:      rec.Request.Path,
				Query:     reqQuery,
				Headers:   reqHeaders,
				Body:      reqBody,
				Truncated: rec.Request.Truncated,
			},
			Response: capture.Response{
				Status:    rec.Response.Status,
				Headers:   respHeaders,
				Body:      respBody,
				Truncated: rec.Response.Truncated,
			},
			ObservedAt:   rec.ObservedAt,
			SourceLabels: rec.SourceLabels,
		},
		SanitizationReport: report,
	}

	if s.leaks(out) {
		return capture.SanitizedRecord{}, ErrLeakDetected
	}
	return out, nil
}

func (s *Sanitizer) walkHeaders(h capture.Header, report capture.Report) capture.Header {
	if h == nil {
		return nil
	}
	out := make(capture.Header, len(h))
	for name, values := range h {
		lname := strings.ToLower(name)
		if marker, deny := s.cfg.HeaderDenylist[lname]; deny {
			scrubbed := make([]string, len(values))
			for i := range values {
				scrubbed[i] = marker
				report[headerDenylistReportKey(lname)]++
			}
			out[name] = scrubbed
			continue
		}
		scrubbed := make([]string, len(values))
		for i, v := range values {
			scrubbed[i] = s.applyPatterns(v, report)
		}
		out[name] = scrubbed
	}
	return out
}

func headerDenylistReportKey(name string) string {
	return name + "_header"
}

func (s *Sanitizer) walkQuery(q map[string][]string, report capture.Report) map[string][]string {
	if q == nil {
		return nil
	}
	out := make(map[string][]string, len(q))
	for k, values := range q {
		scrubbed := make([]string, len(values))
		for i, v := range values {
			scrubbed[i] = s.applyPatterns(v, report)
		}
		out[k] = scrubbed
	}
	return out
}

// applyPatterns applies every configured pattern, in order, to value.
// First match wins for a given substring; subsequent patterns are applied
// to the already-substituted string.
func (s *Sanitizer) applyPatterns(value string, report capture.Report) string {
	for _, p := range s.cfg.Patterns {
		if !p.Regex.MatchString(value) {
			continue
		}
		n := 0
		value = p.Regex.ReplaceAllStringFunc(value, func(string) string {
			n++
			return p.Marker
		})
		report[p.Name] += n
	}
	return value
}

func (s *Sanitizer) walkBody(body []byte, report capture.Report) []byte {
	if len(body) == 0 {
		return body
	}
	trial := bytes.TrimSpace(body)
	var tree any
	if json.Unmarshal(trial, &tree) == nil && looksStructured(trial) {
		tree = s.walkJSON(tree, report)
		out, err := json.Marshal(tree)
		if err != nil {
			return []byte(s.applyPatterns(string(body), report))
		}
		return out
	}
	return []byte(s.applyPatterns(string(body), report))
}

// looksStructured guards against treating a bare JSON scalar (e.g. the
// string "4111111111111111", a valid JSON number) as a structured body;
// only objects and arrays get the recursive field-name-aware walk.
func looksStructured(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	switch b[0] {
	case '{', '[':
		return true
	default:
		return false
	}
}

// walkJSON is a tagged-variant walk: parse once into
// {Object, Array, String, Number, Bool, Null}, transform strings,
// reserialize. Mirrors redact_all.go's per-Kind dispatch.
func (s *Sanitizer) walkJSON(node any, report capture.Report) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if marker, deny := s.cfg.FieldDenylist[strings.ToLower(key)]; deny {
				out[key] = marker
				report["field:"+strings.ToLower(key)]++
				continue
			}
			out[key] = s.walkJSON(val, report)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = s.walkJSON(val, report)
		}
		return out
	case string:
		return s.applyPatterns(v, report)
	default:
		// numbers, bools, null pass through unchanged.
		return v
	}
}

// leaks re-scans the sanitized record with the same pattern list
// as a belt-and-braces check against substitutions that themselves look like a leak.
func (s *Sanitizer) leaks(rec capture.SanitizedRecord) bool {
	for _, values := range rec.Request.Headers {
		for _, v := range values {
			if s.matchesAny(v) {
				return true
			}
		}
	}
	for _, values := range rec.Response.Headers {
		for _, v := range values {
			if s.matchesAny(v) {
				return true
			}
		}
	}
	for _, values := range rec.Request.Query {
		for _, v := range values {
			if s.matchesAny(v) {
				return true
			}
		}
	}
	if s.bodyLeaks(rec.Request.Body) || s.bodyLeaks(rec.Response.Body) {
		return true
	}
	return false
}

func (s *Sanitizer) bodyLeaks(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	return s.matchesAny(string(body))
}

func (s *Sanitizer) matchesAny(value string) bool {
	for _, p := range s.cfg.Patterns {
		if p.Regex.MatchString(value) {
			return true
		}
	}
	return false
}
