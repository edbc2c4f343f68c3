// Package capture defines the wire-independent shapes the rest of
// meshtap operates on: the raw Record a sidecar tap hands the
// Collector, the SanitizedRecord the Sanitizer produces, and the
// Descriptor that rides the Queue into the Rule Loader. Keeping these
// as plain structs separates the domain model from the gRPC wire
// messages in internal/tappb, the way a transport-observed request is
// kept distinct from the net/http types it is built from.
package capture

import "time"

// Direction is the direction of a captured request as seen by the sidecar tap.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Header is a case-normalized (lowercase name) multi-value header map.
type Header map[string][]string

// Request is the request side of a Record.
type Request struct {
	Method  string
	Path    string
	Query   map[string][]string
	Headers Header
	Body    []byte
	// Truncated is true when Body was cut down to MaxBodyBytes at ingress.
	Truncated bool
}

// Response is the response side of a Record.
type Response struct {
	Status  int
	Headers Header
	Body    []byte
	// Truncated is true when Body was cut down to MaxBodyBytes at ingress.
	Truncated bool
}

// Record is one CaptureRecord as received from a sidecar tap.
type Record struct {
	Direction    Direction
	Request      Request
	Response     Response
	ObservedAt   time.Time
	SourceLabels map[string]string
}

// Report maps pattern name to the number of substitutions it made.
type Report map[string]int

// SanitizedRecord is a Record with every pattern match replaced by its marker.
type SanitizedRecord struct {
	Record
	SanitizationReport Report
}

// Fingerprint is the 256-bit content hash of a SanitizedRecord's request side.
type Fingerprint [32]byte

func (f Fingerprint) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(f)*2)
	for i, b := range f {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// BodyPredicateKind is the kind of body matcher a Descriptor carries.
type BodyPredicateKind string

const (
	BodyPredicateEqualToJSON BodyPredicateKind = "equalToJson"
	BodyPredicateEqualTo     BodyPredicateKind = "equalTo"
	BodyPredicateAny         BodyPredicateKind = "any"
)

// BodyPredicate describes how the Rule Loader should match a request body.
type BodyPredicate struct {
	Kind  BodyPredicateKind
	Value string
}

// Match is the request-matching block of a Descriptor.
type Match struct {
	Method        string
	Path          string
	Query         map[string][]string
	BodyPredicate BodyPredicate
}

// DescriptorResponse is the response-replay block of a Descriptor.
type DescriptorResponse struct {
	Status  int
	Headers Header
	Body    []byte
}

// Metadata carries provenance that never participates in the fingerprint.
type Metadata struct {
	ObservedAt         time.Time
	SourceLabels       map[string]string
	SanitizationReport Report
}

// Descriptor is the MockRuleDescriptor: the sole payload that
// crosses the Queue. Fingerprint is its idempotency key.
type Descriptor struct {
	Fingerprint string
	Match       Match
	Response    DescriptorResponse
	Metadata    Metadata
}
