// Package tappb defines the wire messages for the Ingest RPC
// and a minimal gRPC service wiring for them.
//
// protoc is not available in this build environment, so these
// messages are hand-authored rather than protoc-generated. To stay
// wire-compatible with real protobuf (rather than inventing a bespoke
// framing this module would be the only reader of), Marshal/Unmarshal
// are written directly against google.golang.org/protobuf/encoding/protowire,
// the same low-level primitives protoc-gen-go's generated code calls
// into under the hood. See DESIGN.md "Collector" for the full rationale.
package tappb

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

// Header is a repeated key/multi-value pair. On the wire each Header is
// a name field followed by a values field holding the NUL-joined values,
// both at the top level of the message (not a nested map entry).
type Header struct {
	Name   string
	Values []string
}

// CaptureRequest is one CaptureRecord as it crosses the wire.
type CaptureRequest struct {
	Direction        string
	Method           string
	Path             string
	QueryKeys        []string
	QueryValues      [][]string
	RequestHeaders   []Header
	RequestBody      []byte
	ResponseStatus   int32
	ResponseHeaders  []Header
	ResponseBody     []byte
	ObservedAtUnix   int64
	SourceLabelKeys  []string
	SourceLabelVals  []string
}

// CaptureAck is the one-shot acknowledgement for a CaptureRequest.
type CaptureAck struct {
	Accepted      bool
	Duplicate     bool
	DroppedReason string
}

// field numbers for CaptureRequest.
const (
	fDirection = 1
	fMethod    = 2
	fPath      = 3
	fQueryKeys = 4
	fQueryVals = 5 // one length-delimited string per queryKeys entry, its values NUL-joined
	fReqHdrName = 6
	fReqHdrVals = 7
	fReqBody    = 8
	fRespStatus = 9
	fRespHdrName = 10
	fRespHdrVals = 11
	fRespBody    = 12
	fObservedAt  = 13
	fSrcLabelKeys = 14
	fSrcLabelVals = 15
)

// Marshal encodes r using raw protobuf wire primitives.
func (r *CaptureRequest) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fDirection, protowire.BytesType)
	b = protowire.AppendString(b, r.Direction)
	b = protowire.AppendTag(b, fMethod, protowire.BytesType)
	b = protowire.AppendString(b, r.Method)
	b = protowire.AppendTag(b, fPath, protowire.BytesType)
	b = protowire.AppendString(b, r.Path)
	for _, k := range r.QueryKeys {
		b = protowire.AppendTag(b, fQueryKeys, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for _, vs := range r.QueryValues {
		b = protowire.AppendTag(b, fQueryVals, protowire.BytesType)
		b = protowire.AppendString(b, joinValues(vs))
	}
	for _, h := range r.RequestHeaders {
		b = protowire.AppendTag(b, fReqHdrName, protowire.BytesType)
		b = protowire.AppendString(b, h.Name)
		b = protowire.AppendTag(b, fReqHdrVals, protowire.BytesType)
		b = protowire.AppendString(b, joinValues(h.Values))
	}
	b = protowire.AppendTag(b, fReqBody, protowire.BytesType)
	b = protowire.AppendBytes(b, r.RequestBody)
	b = protowire.AppendTag(b, fRespStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ResponseStatus))
	for _, h := range r.ResponseHeaders {
		b = protowire.AppendTag(b, fRespHdrName, protowire.BytesType)
		b = protowire.AppendString(b, h.Name)
		b = protowire.AppendTag(b, fRespHdrVals, protowire.BytesType)
		b = protowire.AppendString(b, joinValues(h.Values))
	}
	b = protowire.AppendTag(b, fRespBody, protowire.BytesType)
	b = protowire.AppendBytes(b, r.ResponseBody)
	b = protowire.AppendTag(b, fObservedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ObservedAtUnix))
	for _, k := range r.SourceLabelKeys {
		b = protowire.AppendTag(b, fSrcLabelKeys, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for _, v := range r.SourceLabelVals {
		b = protowire.AppendTag(b, fSrcLabelVals, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	return b, nil
}

// Unmarshal decodes b into r, field by field, tolerating unknown fields
// the way protoc-generated code does (forward compatibility).
func (r *CaptureRequest) Unmarshal(b []byte) error {
	*r = CaptureRequest{}
	var pendingHdrName string
	var pendingRespHdrName string
	haveReqHdrName, haveRespHdrName := false, false

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("tappb: malformed tag")
		}
		b = b[n:]
		switch num {
		case fDirection:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed direction")
			}
			r.Direction = v
			b = b[n:]
		case fMethod:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed method")
			}
			r.Method = v
			b = b[n:]
		case fPath:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed path")
			}
			r.Path = v
			b = b[n:]
		case fQueryKeys:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed query key")
			}
			r.QueryKeys = append(r.QueryKeys, v)
			b = b[n:]
		case fQueryVals:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed query values")
			}
			r.QueryValues = append(r.QueryValues, splitValues(v))
			b = b[n:]
		case fReqHdrName:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed request header name")
			}
			pendingHdrName, haveReqHdrName = v, true
			b = b[n:]
		case fReqHdrVals:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed request header values")
			}
			if haveReqHdrName {
				r.RequestHeaders = append(r.RequestHeaders, Header{Name: pendingHdrName, Values: splitValues(v)})
				haveReqHdrName = false
			}
			b = b[n:]
		case fReqBody:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed request body")
			}
			r.RequestBody = append([]byte(nil), v...)
			b = b[n:]
		case fRespStatus:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed response status")
			}
			r.ResponseStatus = int32(v)
			b = b[n:]
		case fRespHdrName:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed response header name")
			}
			pendingRespHdrName, haveRespHdrName = v, true
			b = b[n:]
		case fRespHdrVals:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed response header values")
			}
			if haveRespHdrName {
				r.ResponseHeaders = append(r.ResponseHeaders, Header{Name: pendingRespHdrName, Values: splitValues(v)})
				haveRespHdrName = false
			}
			b = b[n:]
		case fRespBody:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed response body")
			}
			r.ResponseBody = append([]byte(nil), v...)
			b = b[n:]
		case fObservedAt:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed observed_at")
			}
			r.ObservedAtUnix = int64(v)
			b = b[n:]
		case fSrcLabelKeys:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed source label key")
			}
			r.SourceLabelKeys = append(r.SourceLabelKeys, v)
			b = b[n:]
		case fSrcLabelVals:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed source label value")
			}
			r.SourceLabelVals = append(r.SourceLabelVals, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return nil
}

const (
	ackFAccepted = 1
	ackFDuplicate = 2
	ackFReason    = 3
)

// Marshal encodes a CaptureAck.
func (a *CaptureAck) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, ackFAccepted, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(a.Accepted))
	b = protowire.AppendTag(b, ackFDuplicate, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(a.Duplicate))
	b = protowire.AppendTag(b, ackFReason, protowire.BytesType)
	b = protowire.AppendString(b, a.DroppedReason)
	return b, nil
}

// Unmarshal decodes a CaptureAck.
func (a *CaptureAck) Unmarshal(b []byte) error {
	*a = CaptureAck{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("tappb: malformed tag")
		}
		b = b[n:]
		switch num {
		case ackFAccepted:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed accepted")
			}
			a.Accepted = v != 0
			b = b[n:]
		case ackFDuplicate:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed duplicate")
			}
			a.Duplicate = v != 0
			b = b[n:]
		case ackFReason:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed dropped_reason")
			}
			a.DroppedReason = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("tappb: malformed unknown field %d", num)
			}
			b = b[n:]
		}
	}
	return nil
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// joinValues/splitValues let a repeated string field ride inside a single
// length-delimited wire value without a nested message type.
const valueSeparator = "\x00"

func joinValues(vs []string) string {
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += valueSeparator
		}
		out += v
	}
	return out
}

func splitValues(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// wireMessage is implemented by both CaptureRequest and CaptureAck.
type wireMessage interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// codecName is registered with grpc's encoding package so the transport
// calls Marshal/Unmarshal directly instead of expecting a
// google.golang.org/protobuf proto.Message with full reflection support,
// which hand-authoring by field would be impractical to get right.
const codecName = "tappb"

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("tappb: %T does not implement wireMessage", v)
	}
	return m.Marshal()
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("tappb: %T does not implement wireMessage", v)
	}
	return m.Unmarshal(data)
}

func (codec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(codec{})
}

// Codec returns the grpc-encoding.Codec used for Ingest messages, for
// callers that need to pass grpc.ForceServerCodec/ForceCodec explicitly
// rather than relying on content-subtype negotiation.
func Codec() encoding.Codec { return codec{} }

// IngestServer is implemented by the Collector to serve the streaming
// ingest RPC.
type IngestServer interface {
	Stream(IngestStreamServer) error
}

// IngestStreamServer is the server-side handle for the bidi stream: the
// sidecar tap sends a CaptureRequest per message, the Collector replies
// with one CaptureAck per CaptureRequest.
type IngestStreamServer interface {
	Send(*CaptureAck) error
	Recv() (*CaptureRequest, error)
	Context() context.Context
}

type ingestStreamServer struct {
	grpc.ServerStream
}

func (s *ingestStreamServer) Send(m *CaptureAck) error {
	return s.ServerStream.SendMsg(m)
}

func (s *ingestStreamServer) Recv() (*CaptureRequest, error) {
	m := new(CaptureRequest)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(IngestServer).Stream(&ingestStreamServer{ServerStream: stream})
}

// ServiceDesc registers the Ingest service on a *grpc.Server. Call
// sites use grpc.CallContentSubtype(codecName) (or a server-side
// ForceServerCodec) since this module's messages are not
// google.golang.org/protobuf proto.Message values.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "meshtap.tap.v1.Ingest",
	HandlerType: (*IngestServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "meshtap/tap.proto",
}
