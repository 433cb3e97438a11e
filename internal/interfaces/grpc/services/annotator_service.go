// Package services implements the gRPC annotation service. Messages are
// plain Go structs carried by the JSON codec registered in codec.go.
package services

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/turtacn/nerruler/internal/application/annotate"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/internal/intelligence/evaluation"
	apperrors "github.com/turtacn/nerruler/pkg/errors"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nerruler.v1.Annotator"

// AnnotateRequest wraps one document.
type AnnotateRequest struct {
	annotate.AnnotateInput
}

// EvaluateRequest wraps one scoring call.
type EvaluateRequest struct {
	annotate.EvaluateInput
}

// EvaluateCorpusRequest scores a set of gold-annotated documents.
type EvaluateCorpusRequest struct {
	Examples []annotate.Example `json:"examples"`
}

// PatternsRequest has no fields.
type PatternsRequest struct{}

// DetectRequest asks for regex matches of one label.
type DetectRequest struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Validate implements the server's validation hook.
func (r *DetectRequest) Validate() error {
	if r.Label == "" {
		return errors.New("label is required")
	}
	return nil
}

// DetectResponse lists the matches in document order.
type DetectResponse struct {
	Label   string   `json:"label"`
	Matches []string `json:"matches"`
}

// AnnotatorServer is the server API for the Annotator service.
type AnnotatorServer interface {
	Annotate(context.Context, *AnnotateRequest) (*annotate.AnnotateResult, error)
	Evaluate(context.Context, *EvaluateRequest) (*evaluation.Result, error)
	EvaluateCorpus(context.Context, *EvaluateCorpusRequest) (*evaluation.Result, error)
	Patterns(context.Context, *PatternsRequest) (*annotate.PatternsInfo, error)
	Detect(context.Context, *DetectRequest) (*DetectResponse, error)
	AnnotateStream(AnnotatorAnnotateStreamServer) error
}

// AnnotatorAnnotateStreamServer is the server side of AnnotateStream.
type AnnotatorAnnotateStreamServer interface {
	Send(*annotate.AnnotateResult) error
	Recv() (*AnnotateRequest, error)
	grpc.ServerStream
}

// AnnotatorService implements AnnotatorServer over the application service.
type AnnotatorService struct {
	svc    annotate.Service
	logger logging.Logger
}

// NewAnnotatorService creates the gRPC service.
func NewAnnotatorService(svc annotate.Service, logger logging.Logger) *AnnotatorService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &AnnotatorService{svc: svc, logger: logger}
}

// Register adds the service to s.
func (s *AnnotatorService) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&AnnotatorServiceDesc, s)
}

func (s *AnnotatorService) Annotate(ctx context.Context, req *AnnotateRequest) (*annotate.AnnotateResult, error) {
	ctx = s.extractContext(ctx)
	res, err := s.svc.Annotate(ctx, &req.AnnotateInput)
	if err != nil {
		return nil, mapAppError(err)
	}
	return res, nil
}

func (s *AnnotatorService) Evaluate(ctx context.Context, req *EvaluateRequest) (*evaluation.Result, error) {
	res, err := s.svc.Evaluate(ctx, &req.EvaluateInput)
	if err != nil {
		return nil, mapAppError(err)
	}
	return res, nil
}

func (s *AnnotatorService) EvaluateCorpus(ctx context.Context, req *EvaluateCorpusRequest) (*evaluation.Result, error) {
	res, err := s.svc.EvaluateCorpus(ctx, req.Examples)
	if err != nil {
		return nil, mapAppError(err)
	}
	return res, nil
}

func (s *AnnotatorService) Patterns(ctx context.Context, _ *PatternsRequest) (*annotate.PatternsInfo, error) {
	info, err := s.svc.Patterns(ctx)
	if err != nil {
		return nil, mapAppError(err)
	}
	return info, nil
}

func (s *AnnotatorService) Detect(ctx context.Context, req *DetectRequest) (*DetectResponse, error) {
	matches, err := s.svc.DetectByType(ctx, req.Label, req.Text)
	if err != nil {
		return nil, mapAppError(err)
	}
	return &DetectResponse{Label: req.Label, Matches: matches}, nil
}

// AnnotateStream answers every received document with its annotation, in
// order. The first failing document ends the stream.
func (s *AnnotatorService) AnnotateStream(stream AnnotatorAnnotateStreamServer) error {
	ctx := s.extractContext(stream.Context())
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		res, err := s.svc.Annotate(ctx, &req.AnnotateInput)
		if err != nil {
			return mapAppError(err)
		}
		if err := stream.Send(res); err != nil {
			return err
		}
	}
}

// extractContext tags the logger with the caller's request id, if any.
func (s *AnnotatorService) extractContext(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	if ids := md.Get("x-request-id"); len(ids) > 0 {
		s.logger.Debug("grpc call", logging.String("request_id", ids[0]))
	}
	return ctx
}

// mapAppError converts an application error into a gRPC status.
func mapAppError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := apperrors.GetCode(err)
	msg := err.Error()
	switch code {
	case apperrors.ErrCodeBadRequest, apperrors.ErrCodeValidation, apperrors.ErrCodeInvalidDoc,
		apperrors.ErrCodeInvalidPattern, apperrors.ErrCodeMalformedEvaluationInput, apperrors.ErrCodeAlignment:
		return status.Error(codes.InvalidArgument, msg)
	case apperrors.ErrCodeUnknownLabel, apperrors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case apperrors.ErrCodeStoreNotReady, apperrors.ErrCodeServiceUnavailable, apperrors.ErrCodeExternalService:
		return status.Error(codes.Unavailable, msg)
	case apperrors.ErrCodeTimeout:
		return status.Error(codes.DeadlineExceeded, msg)
	case apperrors.ErrCodeFeatureDisabled:
		return status.Error(codes.FailedPrecondition, msg)
	case apperrors.ErrCodeConflict:
		return status.Error(codes.Aborted, msg)
	}
	return status.Error(codes.Internal, "internal error")
}

// ---------------------------------------------------------------------------
// Service descriptor
// ---------------------------------------------------------------------------

func unaryHandler[Req any, Resp any](method string, call func(AnnotatorServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AnnotatorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AnnotatorServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type annotateStreamServer struct {
	grpc.ServerStream
}

func (x *annotateStreamServer) Send(m *annotate.AnnotateResult) error {
	return x.ServerStream.SendMsg(m)
}

func (x *annotateStreamServer) Recv() (*AnnotateRequest, error) {
	m := new(AnnotateRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AnnotatorServiceDesc describes the Annotator service.
var AnnotatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnnotatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Annotate", AnnotatorServer.Annotate),
		unaryHandler("Evaluate", AnnotatorServer.Evaluate),
		unaryHandler("EvaluateCorpus", AnnotatorServer.EvaluateCorpus),
		unaryHandler("Patterns", AnnotatorServer.Patterns),
		unaryHandler("Detect", AnnotatorServer.Detect),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "AnnotateStream",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				return srv.(AnnotatorServer).AnnotateStream(&annotateStreamServer{stream})
			},
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "nerruler/v1/annotator",
}
