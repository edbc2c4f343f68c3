package sanitize

import "regexp"

// Pattern is one entry of the ordered pattern catalog.
type Pattern struct {
	Name   string
	Regex  *regexp.Regexp
	Marker string
}

// Config is the Sanitizer's startup configuration: the pattern catalog,
// header denylist, and field-name denylist.
type Config struct {
	Patterns         []Pattern
	HeaderDenylist   map[string]string // lowercase header name -> marker
	FieldDenylist    map[string]string // lowercase field name -> marker
	MaxBodyBytes     int
}

// HeaderMarker is used when a denylisted header name is scrubbed
// regardless of its content.
const HeaderMarker = "SANITIZED_HEADER"

// FieldMarker is used when a denylisted field name is scrubbed
// regardless of its value's shape.
const FieldMarker = "SANITIZED_FIELD"

// DefaultHeaderDenylist is the default set of header names that are
// always replaced wholesale, regardless of content.
func DefaultHeaderDenylist() map[string]string {
	return map[string]string{
		"authorization": HeaderMarker,
		"cookie":        HeaderMarker,
		"set-cookie":    HeaderMarker,
		"x-api-key":     HeaderMarker,
		"proxy-authorization": HeaderMarker,
	}
}

// DefaultFieldDenylist is the default field-name deny-list.
func DefaultFieldDenylist() map[string]string {
	return map[string]string{
		"password":    FieldMarker,
		"passwd":      FieldMarker,
		"pwd":         FieldMarker,
		"secret":      FieldMarker,
		"token":       FieldMarker,
		"api_key":     FieldMarker,
		"apikey":      FieldMarker,
		"private_key": FieldMarker,
		"client_secret": FieldMarker,
	}
}

// DefaultPatterns is the default catalog, translated from
// _examples/original_source/collector/sanitizer.py's SENSITIVE_PATTERNS
// into Go regexp (RE2 — no backreferences, no lookaround).
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "jwt", Regex: regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), Marker: "SANITIZED_JWT"},
		{Name: "bearer_token", Regex: regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._~+/=-]+`), Marker: "SANITIZED_BEARER_TOKEN"},
		{Name: "basic_auth", Regex: regexp.MustCompile(`(?i)\bBasic\s+[A-Za-z0-9+/=]+`), Marker: "SANITIZED_BASIC_TOKEN"},
		{Name: "api_key_header", Regex: regexp.MustCompile(`(?i)\b(sk|pk|api)[_-][A-Za-z0-9]{16,}`), Marker: "SANITIZED_API_KEY"},
		{Name: "email", Regex: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), Marker: "SANITIZED_EMAIL"},
		{Name: "credit_card", Regex: regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`), Marker: "SANITIZED_CARD"},
		{Name: "cpf", Regex: regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`), Marker: "SANITIZED_CPF"},
		{Name: "cnpj", Regex: regexp.MustCompile(`\b\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}\b`), Marker: "SANITIZED_CNPJ"},
		{Name: "ssn", Regex: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), Marker: "SANITIZED_SSN"},
		{Name: "phone", Regex: regexp.MustCompile(`\+?\d{1,3}[\s-]?\(?\d{2,4}\)?[\s-]?\d{3,4}[\s-]?\d{3,4}`), Marker: "SANITIZED_PHONE"},
	}
}
