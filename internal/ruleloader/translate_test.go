package ruleloader

import (
	"testing"

	"github.com/meshtap/meshtap/internal/capture"
	"github.com/stretchr/testify/require"
)

func TestTranslate_JSONBodyPredicateBecomesEqualToJSON(t *testing.T) {
	d := capture.Descriptor{
		Fingerprint: "abc",
		Match: capture.Match{
			Method:        "POST",
			Path:          "/pay",
			BodyPredicate: capture.BodyPredicate{Kind: capture.BodyPredicateEqualToJSON, Value: `{"amount":10}`},
		},
		Response: capture.DescriptorResponse{Status: 200, Body: []byte(`{"ok":true}`)},
	}
	rule := Translate(d)
	require.Equal(t, "abc", rule.ID)
	require.Equal(t, "POST", rule.Request.Method)
	require.Len(t, rule.Request.BodyPatterns, 1)
	require.Equal(t, `{"amount":10}`, rule.Request.BodyPatterns[0]["equalToJson"])
	require.JSONEq(t, `{"ok":true}`, string(rule.Response.JSONBody))
}

func TestTranslate_SystemResponseHeadersAreDropped(t *testing.T) {
	d := capture.Descriptor{
		Response: capture.DescriptorResponse{
			Status: 200,
			Headers: capture.Header{
				"Date":         {"Thu, 01 Jan 1970"},
				"X-Request-Id": {"abc"},
				"Content-Type": {"application/json"},
			},
		},
	}
	rule := Translate(d)
	require.NotContains(t, rule.Response.Headers, "Date")
	require.NotContains(t, rule.Response.Headers, "X-Request-Id")
	require.Contains(t, rule.Response.Headers, "Content-Type")
}

func TestTranslate_AnyBodyPredicateHasNoBodyPatterns(t *testing.T) {
	d := capture.Descriptor{Match: capture.Match{BodyPredicate: capture.BodyPredicate{Kind: capture.BodyPredicateAny}}}
	rule := Translate(d)
	require.Nil(t, rule.Request.BodyPatterns)
}
