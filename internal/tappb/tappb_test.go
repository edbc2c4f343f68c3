package tappb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCaptureRequest_RoundTrip_EmptyHeadersAndQuery(t *testing.T) {
	in := &CaptureRequest{
		Direction:      "inbound",
		Method:         "GET",
		Path:           "/v1/x",
		ResponseStatus: 204,
		ObservedAtUnix: 1700000000,
	}

	b, err := in.Marshal()
	require.NoError(t, err)

	out := new(CaptureRequest)
	require.NoError(t, out.Unmarshal(b))

	require.Equal(t, in.Direction, out.Direction)
	require.Equal(t, in.Method, out.Method)
	require.Equal(t, in.Path, out.Path)
	require.Equal(t, in.ResponseStatus, out.ResponseStatus)
	require.Equal(t, in.ObservedAtUnix, out.ObservedAtUnix)
	require.Empty(t, out.QueryKeys)
	require.Empty(t, out.QueryValues)
	require.Empty(t, out.RequestHeaders)
	require.Empty(t, out.ResponseHeaders)
	require.Empty(t, out.RequestBody)
	require.Empty(t, out.ResponseBody)
	require.Empty(t, out.SourceLabelKeys)
	require.Empty(t, out.SourceLabelVals)
}

func TestCaptureRequest_RoundTrip_MultiValueHeadersAndQuery(t *testing.T) {
	in := &CaptureRequest{
		Direction: "outbound",
		Method:    "POST",
		Path:      "/v1/search",
		QueryKeys: []string{"tag", "sort"},
		QueryValues: [][]string{
			{"red", "blue", "green"},
			{"asc"},
		},
		RequestHeaders: []Header{
			{Name: "accept", Values: []string{"application/json", "text/plain"}},
			{Name: "x-request-id", Values: []string{"abc-123"}},
		},
		RequestBody: []byte(`{"q":"shoes"}`),
		ResponseHeaders: []Header{
			{Name: "set-cookie", Values: []string{"a=1", "b=2"}},
		},
		ResponseBody:    []byte(`{"results":[]}`),
		ResponseStatus:  200,
		ObservedAtUnix:  1712345678,
		SourceLabelKeys: []string{"service", "version"},
		SourceLabelVals: []string{"checkout", "v3"},
	}

	b, err := in.Marshal()
	require.NoError(t, err)

	out := new(CaptureRequest)
	require.NoError(t, out.Unmarshal(b))

	require.Equal(t, in.QueryKeys, out.QueryKeys)
	require.Equal(t, in.QueryValues, out.QueryValues)
	require.Equal(t, in.RequestHeaders, out.RequestHeaders)
	require.Equal(t, in.ResponseHeaders, out.ResponseHeaders)
	require.Equal(t, in.RequestBody, out.RequestBody)
	require.Equal(t, in.ResponseBody, out.ResponseBody)
	require.Equal(t, in.SourceLabelKeys, out.SourceLabelKeys)
	require.Equal(t, in.SourceLabelVals, out.SourceLabelVals)
}

func TestCaptureRequest_RoundTrip_EmptyQueryWithHeadersPresent(t *testing.T) {
	in := &CaptureRequest{
		Direction:      "inbound",
		Method:         "DELETE",
		Path:           "/v1/items/42",
		RequestHeaders: []Header{{Name: "authorization", Values: []string{"Bearer x"}}},
		ResponseStatus: 404,
	}

	b, err := in.Marshal()
	require.NoError(t, err)

	out := new(CaptureRequest)
	require.NoError(t, out.Unmarshal(b))

	require.Empty(t, out.QueryKeys)
	require.Empty(t, out.QueryValues)
	require.Equal(t, in.RequestHeaders, out.RequestHeaders)
}

func TestCaptureRequest_RoundTrip_MaxLengthStrings(t *testing.T) {
	longPath := "/v1/" + strings.Repeat("p", 4096)
	longBody := []byte(strings.Repeat("b", 8*1024))
	longHeaderValue := strings.Repeat("h", 4096)

	in := &CaptureRequest{
		Direction:      "outbound",
		Method:         "PUT",
		Path:           longPath,
		RequestHeaders: []Header{{Name: "x-trace", Values: []string{longHeaderValue}}},
		RequestBody:    longBody,
		ResponseBody:   longBody,
		ResponseStatus: 200,
	}

	b, err := in.Marshal()
	require.NoError(t, err)

	out := new(CaptureRequest)
	require.NoError(t, out.Unmarshal(b))

	require.Equal(t, in.Path, out.Path)
	require.Equal(t, in.RequestHeaders, out.RequestHeaders)
	require.Equal(t, in.RequestBody, out.RequestBody)
	require.Equal(t, in.ResponseBody, out.ResponseBody)
}

func TestCaptureAck_RoundTrip(t *testing.T) {
	cases := []*CaptureAck{
		{Accepted: true, Duplicate: false, DroppedReason: ""},
		{Accepted: false, Duplicate: true, DroppedReason: ""},
		{Accepted: false, Duplicate: false, DroppedReason: "validation"},
	}

	for _, in := range cases {
		b, err := in.Marshal()
		require.NoError(t, err)

		out := new(CaptureAck)
		require.NoError(t, out.Unmarshal(b))
		require.Equal(t, *in, *out)
	}
}

func TestSplitValues_RoundTripsJoinValues(t *testing.T) {
	cases := [][]string{
		nil,
		{"single"},
		{"a", "b", "c"},
		{"", "", ""},
	}
	for _, vs := range cases {
		joined := joinValues(vs)
		got := splitValues(joined)
		if len(vs) == 0 {
			require.Empty(t, got)
			continue
		}
		require.Equal(t, vs, got)
	}
}
