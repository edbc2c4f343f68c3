package collector

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/meshtap/meshtap/internal/capture"
	"github.com/meshtap/meshtap/internal/tappb"
)

// Server adapts the Pipeline to the tappb.IngestServer gRPC contract.
// Translation from the wire message to the domain Record follows the
// same field-by-field construction either way.
type Server struct {
	pipeline *Pipeline
	onError  func(error)
}

// NewServer builds the gRPC-facing adapter around pipeline.
func NewServer(pipeline *Pipeline, onError func(error)) *Server {
	if onError == nil {
		onError = func(error) {}
	}
	return &Server{pipeline: pipeline, onError: onError}
}

// Stream implements tappb.IngestServer: one CaptureAck per CaptureRequest
// received, for the lifetime of the stream.
func (s *Server) Stream(stream tappb.IngestStreamServer) error {
	ctx := stream.Context()
	streamID := uuid.NewString()
	for {
		req, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.onError(fmt.Errorf("collector: stream %s: recv: %w", streamID, err))
			}
			return err
		}
		rec := fromWire(req)
		ack := s.pipeline.Process(ctx, rec)
		if err := stream.Send(&tappb.CaptureAck{
			Accepted:      ack.Accepted,
			Duplicate:     ack.Duplicate,
			DroppedReason: ack.DroppedReason,
		}); err != nil {
			return err
		}
	}
}

func fromWire(req *tappb.CaptureRequest) capture.Record {
	reqHeaders := make(capture.Header, len(req.RequestHeaders))
	for _, h := range req.RequestHeaders {
		reqHeaders[h.Name] = h.Values
	}
	respHeaders := make(capture.Header, len(req.ResponseHeaders))
	for _, h := range req.ResponseHeaders {
		respHeaders[h.Name] = h.Values
	}
	query := make(map[string][]string, len(req.QueryKeys))
	for i, k := range req.QueryKeys {
		if i < len(req.QueryValues) {
			query[k] = req.QueryValues[i]
		}
	}
	labels := make(map[string]string, len(req.SourceLabelKeys))
	for i, k := range req.SourceLabelKeys {
		if i < len(req.SourceLabelVals) {
			labels[k] = req.SourceLabelVals[i]
		}
	}

	direction := capture.Outbound
	if req.Direction == string(capture.Inbound) {
		direction = capture.Inbound
	}

	return capture.Record{
		Direction: direction,
		Request: capture.Request{
			Method:  req.Method,
			Path:    req.Path,
			Query:   query,
			Headers: reqHeaders,
			Body:    req.RequestBody,
		},
		Response: capture.Response{
			Status:  int(req.ResponseStatus),
			Headers: respHeaders,
			Body:    req.ResponseBody,
		},
		ObservedAt:   time.Unix(req.ObservedAtUnix, 0).UTC(),
		SourceLabels: labels,
	}
}
