package services

import (
	"context"

	"google.golang.org/grpc"

	"github.com/turtacn/nerruler/internal/application/annotate"
	"github.com/turtacn/nerruler/internal/intelligence/evaluation"
)

// AnnotatorClient calls the Annotator service with the JSON codec.
type AnnotatorClient struct {
	cc grpc.ClientConnInterface
}

// NewAnnotatorClient wraps an established connection.
func NewAnnotatorClient(cc grpc.ClientConnInterface) *AnnotatorClient {
	return &AnnotatorClient{cc: cc}
}

func (c *AnnotatorClient) invoke(ctx context.Context, method string, in, out interface{}, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *AnnotatorClient) Annotate(ctx context.Context, in *AnnotateRequest, opts ...grpc.CallOption) (*annotate.AnnotateResult, error) {
	out := new(annotate.AnnotateResult)
	if err := c.invoke(ctx, "Annotate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AnnotatorClient) Evaluate(ctx context.Context, in *EvaluateRequest, opts ...grpc.CallOption) (*evaluation.Result, error) {
	out := new(evaluation.Result)
	if err := c.invoke(ctx, "Evaluate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AnnotatorClient) EvaluateCorpus(ctx context.Context, in *EvaluateCorpusRequest, opts ...grpc.CallOption) (*evaluation.Result, error) {
	out := new(evaluation.Result)
	if err := c.invoke(ctx, "EvaluateCorpus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AnnotatorClient) Patterns(ctx context.Context, opts ...grpc.CallOption) (*annotate.PatternsInfo, error) {
	out := new(annotate.PatternsInfo)
	if err := c.invoke(ctx, "Patterns", &PatternsRequest{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AnnotatorClient) Detect(ctx context.Context, in *DetectRequest, opts ...grpc.CallOption) (*DetectResponse, error) {
	out := new(DetectResponse)
	if err := c.invoke(ctx, "Detect", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// AnnotateStreamClient is the client side of AnnotateStream.
type AnnotateStreamClient struct {
	grpc.ClientStream
}

func (x *AnnotateStreamClient) Send(m *AnnotateRequest) error { return x.ClientStream.SendMsg(m) }

func (x *AnnotateStreamClient) Recv() (*annotate.AnnotateResult, error) {
	m := new(annotate.AnnotateResult)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AnnotateStream opens a bidirectional annotation stream.
func (c *AnnotatorClient) AnnotateStream(ctx context.Context, opts ...grpc.CallOption) (*AnnotateStreamClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &AnnotatorServiceDesc.Streams[0], "/"+ServiceName+"/AnnotateStream", opts...)
	if err != nil {
		return nil, err
	}
	return &AnnotateStreamClient{stream}, nil
}
