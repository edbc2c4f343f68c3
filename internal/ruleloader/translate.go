// Package ruleloader implements the Rule Loader: a fixed
// worker pool draining the Queue in batches, translating each
// descriptor into a mock-server rule and installing it with bounded
// retry.
package ruleloader

import (
	"encoding/json"
	"strings"

	"github.com/meshtap/meshtap/internal/capture"
	"github.com/meshtap/meshtap/internal/ruleloader/mockserver"
)

// Translate converts a MockRuleDescriptor into the mock server's rule
// representation: a matcher-object-per-field shape, with an
// equalToJson-vs-equalTo body predicate dispatch and system response
// headers skipped.
func Translate(d capture.Descriptor) mockserver.Rule {
	return mockserver.Rule{
		ID: d.Fingerprint,
		Request: mockserver.RuleRequest{
			Method:          d.Match.Method,
			URLPath:         d.Match.Path,
			QueryParameters: queryMatchers(d.Match.Query),
			BodyPatterns:    bodyPatterns(d.Match.BodyPredicate),
		},
		Response: translateResponse(d.Response),
	}
}

func queryMatchers(q map[string][]string) map[string]map[string]any {
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]map[string]any, len(q))
	for k, values := range q {
		if len(values) == 0 {
			continue
		}
		out[k] = map[string]any{"equalTo": values[0]}
	}
	return out
}

func bodyPatterns(p capture.BodyPredicate) []map[string]any {
	switch p.Kind {
	case capture.BodyPredicateEqualToJSON:
		return []map[string]any{{"equalToJson": p.Value}}
	case capture.BodyPredicateEqualTo:
		return []map[string]any{{"equalTo": p.Value}}
	default:
		return nil
	}
}

// systemResponseHeaderPrefixes name the headers stripped from the canned response, mirroring
// processor.py's filter of date/server/x-envoy-/x-request-id headers
// that make no sense to replay verbatim from a single captured instant.
var systemResponseHeaderPrefixes = []string{"date", "server", "x-envoy-", "x-request-id"}

func translateResponse(r capture.DescriptorResponse) mockserver.RuleResponse {
	headers := make(map[string]string)
	for name, values := range r.Headers {
		if isSystemHeader(name) || len(values) == 0 {
			continue
		}
		headers[name] = values[0]
	}

	out := mockserver.RuleResponse{Status: r.Status, Headers: headers}
	trimmed := trimSpace(r.Body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		out.JSONBody = json.RawMessage(trimmed)
		return out
	}
	out.Body = string(r.Body)
	return out
}

func isSystemHeader(name string) bool {
	lname := strings.ToLower(name)
	for _, prefix := range systemResponseHeaderPrefixes {
		if strings.HasPrefix(lname, prefix) {
			return true
		}
	}
	return false
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t' || b[0] == '\n' || b[0] == '\r') {
		b = b[1:]
	}
	for len(b) > 0 {
		last := b[len(b)-1]
		if last == ' ' || last == '\t' || last == '\n' || last == '\r' {
			b = b[:len(b)-1]
			continue
		}
		break
	}
	return b
}
