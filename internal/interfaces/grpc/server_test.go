package grpc

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/turtacn/nerruler/internal/application/annotate"
	"github.com/turtacn/nerruler/internal/config"
	"github.com/turtacn/nerruler/internal/infrastructure/patternsource"
	"github.com/turtacn/nerruler/internal/intelligence/ruler"
	"github.com/turtacn/nerruler/internal/intelligence/tokenizer"
	"github.com/turtacn/nerruler/internal/interfaces/grpc/services"
	"github.com/turtacn/nerruler/internal/testutil"
	"github.com/turtacn/nerruler/pkg/types/annotation"
)

const scenarioText = "J'utilise TensorFlow et Scikit-learn"

type harness struct {
	srv    *Server
	conn   *grpc.ClientConn
	client *services.AnnotatorClient
	logger *testutil.RecordingLogger
}

func startHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	tk := tokenizer.MustNew()
	store, err := patternsource.BuildStore(patternsource.DefaultTable(), patternsource.BuildOptions{Surface: tk.Surface})
	require.NoError(t, err)
	svc, err := annotate.NewService(annotate.Deps{Store: ruler.StaticStore{S: store}, Tokenizer: tk})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	logger := testutil.NewRecordingLogger()
	srv, err := NewServer(config.ServerConfig{Mode: "release"}, append([]Option{WithListener(lis), WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	services.NewAnnotatorService(svc, logger).Register(srv)

	go func() { _ = srv.Start() }()

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return &harness{srv: srv, conn: conn, client: services.NewAnnotatorClient(conn), logger: logger}
}

func TestServer_HealthAndRegistration(t *testing.T) {
	h := startHarness(t)
	hc := healthpb.NewHealthClient(h.conn)

	resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: services.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
	assert.True(t, h.logger.Contains("grpc service registered"))

	h.srv.SetServing(false)
	resp, err = hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: services.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestServer_AnnotateOverJSONCodec(t *testing.T) {
	h := startHarness(t)

	res, err := h.client.Annotate(context.Background(), &services.AnnotateRequest{
		AnnotateInput: annotate.AnnotateInput{ID: "doc-1", Text: scenarioText},
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.ID)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, "TensorFlow", res.Entities[0].Text)
	assert.Equal(t, "Scikit-learn", res.Entities[1].Text)
	assert.True(t, h.logger.Contains("grpc request"))
}

func TestServer_MaxRecvMsgSize(t *testing.T) {
	h := startHarness(t, WithMaxRecvMsgSize(256))

	_, err := h.client.Annotate(context.Background(), &services.AnnotateRequest{
		AnnotateInput: annotate.AnnotateInput{Text: strings.Repeat("TensorFlow ", 100)},
	})
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestServer_ValidationAndErrorMapping(t *testing.T) {
	h := startHarness(t)
	ctx := context.Background()

	_, err := h.client.Detect(ctx, &services.DetectRequest{Text: "x"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Detect(ctx, &services.DetectRequest{Label: "PERSON", Text: "x"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	found, err := h.client.Detect(ctx, &services.DetectRequest{Label: "DATE", Text: "le 12/05/2023"})
	require.NoError(t, err)
	assert.Equal(t, []string{"12/05/2023"}, found.Matches)

	_, err = h.client.Evaluate(ctx, &services.EvaluateRequest{EvaluateInput: annotate.EvaluateInput{
		Text: scenarioText,
		Gold: []annotation.Span{{Start: 4, End: 9, Label: "TOOL"}},
	}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_EvaluateAndPatterns(t *testing.T) {
	h := startHarness(t)
	ctx := context.Background()

	res, err := h.client.Evaluate(ctx, &services.EvaluateRequest{EvaluateInput: annotate.EvaluateInput{
		Text: scenarioText,
		Gold: []annotation.Span{{Start: 2, End: 3, Label: "TOOL"}, {Start: 4, End: 5, Label: "TOOL"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Micro.F1)

	corpus, err := h.client.EvaluateCorpus(ctx, &services.EvaluateCorpusRequest{Examples: []annotate.Example{
		{Text: scenarioText, Gold: []annotation.Span{{Start: 2, End: 3, Label: "TOOL"}}},
	}})
	require.NoError(t, err)
	tool, ok := corpus.Label("TOOL")
	require.True(t, ok)
	assert.Equal(t, 1, tool.Counts.FalsePositives)

	info, err := h.client.Patterns(ctx)
	require.NoError(t, err)
	assert.Contains(t, info.Labels, "TOOL")
	assert.NotEmpty(t, info.Fingerprint)
}

func TestServer_EvaluatePredictionModes(t *testing.T) {
	h := startHarness(t)
	tech := []annotation.Span{{Start: 0, End: 1, Label: "TECHNOLOGY"}}

	cases := []struct {
		name  string
		in    annotate.EvaluateInput
		label string
		tp    int
		fn    int
	}{
		{"empty prediction", annotate.EvaluateInput{Predicted: []annotation.Span{}, Gold: tech}, "TECHNOLOGY", 0, 1},
		{"supplied prediction", annotate.EvaluateInput{Predicted: tech, Gold: tech}, "TECHNOLOGY", 1, 0},
		{"nil prediction annotates text", annotate.EvaluateInput{
			Text: scenarioText,
			Gold: []annotation.Span{{Start: 2, End: 3, Label: "TOOL"}},
		}, "TOOL", 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := h.client.Evaluate(context.Background(), &services.EvaluateRequest{EvaluateInput: tc.in})
			require.NoError(t, err)
			score, ok := res.Label(tc.label)
			require.True(t, ok)
			assert.Equal(t, tc.tp, score.Counts.TruePositives)
			assert.Equal(t, tc.fn, score.Counts.FalseNegatives)
			assert.Equal(t, float64(tc.tp), score.Recall)
		})
	}
}

func TestServer_AnnotateStream(t *testing.T) {
	h := startHarness(t)
	stream, err := h.client.AnnotateStream(context.Background())
	require.NoError(t, err)

	texts := []string{scenarioText, "Keras et PyTorch", ""}
	for _, text := range texts {
		require.NoError(t, stream.Send(&services.AnnotateRequest{AnnotateInput: annotate.AnnotateInput{Text: text}}))
	}
	require.NoError(t, stream.CloseSend())

	var got [][]string
	for {
		res, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var names []string
		for _, e := range res.Entities {
			names = append(names, e.Text)
		}
		got = append(got, names)
	}
	assert.Equal(t, [][]string{{"TensorFlow", "Scikit-learn"}, {"Keras", "PyTorch"}, nil}, got)
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv, err := NewServer(config.ServerConfig{}, WithListener(bufconn.Listen(1024)))
	require.NoError(t, err)
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestServer_DoubleStart(t *testing.T) {
	h := startHarness(t)
	require.Eventually(t, func() bool { return h.logger.Contains("grpc server starting") }, time.Second, 10*time.Millisecond)
	assert.Error(t, h.srv.Start())
}

func TestChainUnaryInterceptors_Order(t *testing.T) {
	var order []string
	mk := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
			order = append(order, name)
			return handler(ctx, req)
		}
	}
	chain := chainUnaryInterceptors(mk("a"), mk("b"), mk("c"))
	resp, err := chain(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			order = append(order, "handler")
			return req, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "req", resp)
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	_, err := recoveryUnaryInterceptor(logger)(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"},
		func(context.Context, interface{}) (interface{}, error) { panic("boom") })
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.True(t, logger.Contains("panic recovered"))
}

func TestSplitMethodName(t *testing.T) {
	svc, method := splitMethodName("/nerruler.v1.Annotator/Annotate")
	assert.Equal(t, "nerruler.v1.Annotator", svc)
	assert.Equal(t, "Annotate", method)

	svc, method = splitMethodName("bare")
	assert.Equal(t, "unknown", svc)
	assert.Equal(t, "bare", method)
	assert.True(t, isHealthCheck("/grpc.health.v1.Health/Check"))
}
